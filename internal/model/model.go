package model

import "time"

// Event is a single upcoming calendar entry as seen by the countdown dial.
// Values are immutable once a source adapter has produced them.
type Event struct {
	CalendarID string // configured calendar ID the event came from
	UID        string // upstream event ID, if the source has one

	Summary string

	AllDay bool

	// Start and End are normalized to UTC.
	Start time.Time
	End   time.Time
}

// MinutesUntil returns the fractional minutes from now until the event
// starts. Negative values mean the event has already begun.
func (e Event) MinutesUntil(now time.Time) float64 {
	return e.Start.Sub(now).Minutes()
}

// Started reports whether the event start is at or before now.
func (e Event) Started(now time.Time) bool {
	return !e.Start.After(now)
}

// EventWindow is the short, start-ordered list of events one calendar
// returns for a single query.
type EventWindow []Event

// Candidate picks the event a window contributes to next-event selection:
// the first entry starting strictly after now. When every entry has
// already started the last one is returned, so a window never yields a
// started event while a future one is available. ok is false only for an
// empty window.
func (w EventWindow) Candidate(now time.Time) (Event, bool) {
	if len(w) == 0 {
		return Event{}, false
	}
	for _, ev := range w {
		if ev.Start.After(now) {
			return ev, true
		}
	}
	return w[len(w)-1], true
}
