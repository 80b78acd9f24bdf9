package model

import "time"

// DateValue is a DTSTART/DTEND descriptor exactly as it appeared in the
// feed. Turning it into an instant needs a reference location, so decoding
// is deferred to expansion time (see internal/ics).
type DateValue struct {
	Raw  string
	TZID string
	// DateOnly records a VALUE=DATE parameter. Decoding ignores it: an
	// 8-digit value is all-day whatever the parameter says.
	DateOnly bool
}

// CalendarEvent represents a VEVENT before recurrence expansion.
type CalendarEvent struct {
	Title string

	// Start / End are nil when the property was absent.
	Start *DateValue
	End   *DateValue

	// RRule is the raw recurrence string, e.g. "FREQ=WEEKLY;BYDAY=MO,WE".
	RRule string

	Status    string
	Cancelled bool
}

// EventInstance is a single concrete occurrence of an event after
// recurrence expansion and timezone normalization.
type EventInstance struct {
	SourceID string

	Title string

	AllDay bool

	// Start / End are in the reference (display) timezone. End > Start.
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls in [Start, End).
func (i EventInstance) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}
