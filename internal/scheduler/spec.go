package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts 5-field crontab specs, an optional leading seconds field and descriptors.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Spec is a parsed schedule string.
//
// Supported forms:
//   - Cron: "0 12 * * 6", "0 0 12 * * SAT", "@weekly", "@every 1h"
//   - Interval: "55m", "2h30m", "02:30" (HH:MM), optionally prefixed "every:"
//
// "cron:" forces cron parsing.
type Spec struct {
	// Expr is the normalized cron expression (intervals become "@every <d>").
	Expr   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"

	sched cron.Schedule
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule validates raw and returns its normalized form.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	default:
		return parseInterval(s)
	}
}

func parseCron(expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron expression required")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Expr: expr, Source: "cron", sched: sched}, nil
}

func parseInterval(v string) (Spec, error) {
	var (
		d   time.Duration
		src string
	)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Spec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d, src = time.Duration(hh)*time.Hour+time.Duration(mm)*time.Minute, "hhmm"
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '0 12 * * 6', HH:MM like '02:30', or duration like '55m')", v)
		}
		src = "duration"
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("interval must be > 0")
	}
	return Spec{Expr: "@every " + d.String(), Every: d, Source: src, sched: cron.Every(d)}, nil
}

// Next returns the first activation strictly after now, evaluated in loc.
func (s Spec) Next(now time.Time, loc *time.Location) time.Time {
	if s.sched == nil {
		return time.Time{}
	}
	if loc == nil {
		loc = time.Local
	}
	return s.sched.Next(now.In(loc))
}

// NextRun parses expr and returns its next activation after now in loc.
// With the default "0 12 * * 6", Saturday 13:00 yields the following Saturday 12:00.
func NextRun(expr string, loc *time.Location, now time.Time) (time.Time, error) {
	spec, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(now, loc), nil
}
