package poll

import (
	"strings"
	"time"
)

// DefaultOptions are the two answers every poll carries.
var DefaultOptions = [2]string{"On", "Off"}

// Message is the payload of one weekly poll. It is built fresh per send.
type Message struct {
	Question      string
	Options       []string
	AllowMultiple bool
}

// Template holds the fixed parts of the question. It is immutable after construction.
type Template struct {
	weekday   time.Weekday
	timeRange string
	location  string
	options   [2]string
}

// NewTemplate returns a template for "<label> <timeRange> <location>" questions.
// Zero-valued options fall back to DefaultOptions.
func NewTemplate(weekday time.Weekday, timeRange, location string, options [2]string) Template {
	if options[0] == "" || options[1] == "" {
		options = DefaultOptions
	}
	return Template{
		weekday:   weekday,
		timeRange: strings.TrimSpace(timeRange),
		location:  strings.TrimSpace(location),
		options:   options,
	}
}

func (t Template) Weekday() time.Weekday { return t.weekday }

// Build renders the message for a send happening at now.
func (t Template) Build(now time.Time) Message {
	parts := make([]string, 0, 3)
	for _, p := range []string{NextLabel(t.weekday, now), t.timeRange, t.location} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return Message{
		Question:      strings.Join(parts, " "),
		Options:       []string{t.options[0], t.options[1]},
		AllowMultiple: false,
	}
}
