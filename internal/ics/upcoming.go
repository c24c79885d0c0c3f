package ics

import (
	"time"

	"github.com/Shy/vu-consumer/internal/model"
)

// Upcoming returns at most max events that have not ended by now, ordered
// by start. Events already in progress are included, mirroring a calendar
// API queried with timeMin=now.
func Upcoming(expanded []model.Event, now time.Time, max int) model.EventWindow {
	win := make(model.EventWindow, 0, max)
	for _, ev := range expanded {
		if max > 0 && len(win) >= max {
			break
		}
		if ev.End.After(now) || (ev.End.Equal(ev.Start) && !ev.Start.Before(now)) {
			win = append(win, ev)
		}
	}
	return win
}
