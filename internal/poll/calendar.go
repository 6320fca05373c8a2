// Package poll computes the weekly poll's date label and message.
package poll

import (
	"strconv"
	"time"
)

// NextOccurrence returns the next date falling on weekday, strictly after ref's
// calendar day. When ref already is that weekday the result is one week later.
// The result keeps ref's location and time of day.
func NextOccurrence(weekday time.Weekday, ref time.Time) time.Time {
	offset := (int(weekday) - int(ref.Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return ref.AddDate(0, 0, offset)
}

// Label formats t as "<day> <Mon> <Wkd>", e.g. "15 Oct Wed". The day is not zero padded.
func Label(t time.Time) string {
	return strconv.Itoa(t.Day()) + " " + t.Format("Jan") + " " + t.Format("Mon")
}

// NextLabel is Label(NextOccurrence(weekday, ref)).
func NextLabel(weekday time.Weekday, ref time.Time) string {
	return Label(NextOccurrence(weekday, ref))
}
