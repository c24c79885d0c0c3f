package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/Shy/vu-consumer/internal/log"
	"github.com/Shy/vu-consumer/internal/model"
)

const defaultMaxPerSeries = 500

// Window bounds the instances produced by Expand.
type Window struct {
	Start time.Time
	End   time.Time

	// MaxPerSeries caps instances generated from one RRULE.
	MaxPerSeries int
}

// Expand turns parsed VEVENTs into concrete instances overlapping w,
// applying RRULE, EXDATE and RECURRENCE-ID overrides. Cancelled instances
// are dropped. Results are sorted by start, then summary.
func Expand(calendarID string, events []ParsedEvent, w Window) ([]model.Event, error) {
	if w.End.Before(w.Start) {
		return nil, errors.New("ics: window end is before start")
	}
	if w.MaxPerSeries <= 0 {
		w.MaxPerSeries = defaultMaxPerSeries
	}

	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	out := make([]model.Event, 0)
	for _, ev := range events {
		if ev.IsOverride() {
			continue
		}
		out = append(out, expandSeries(calendarID, ev, overrides[ev.UID], w)...)
	}

	// Overrides that moved an instance into the window from outside the
	// series' own range still need to show up.
	for _, ovs := range overrides {
		for _, ov := range ovs {
			if movedIntoWindow(ov, w) {
				if ev, ok := toEvent(calendarID, ov); ok {
					out = appendUnique(out, ev)
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Summary < out[j].Summary
	})
	return out, nil
}

func expandSeries(calendarID string, ev ParsedEvent, ovs []ParsedEvent, w Window) []model.Event {
	if ev.RawRRule == "" {
		if !overlaps(ev.Start, ev.End, w) {
			return nil
		}
		inst := ev
		if ov, ok := overrideFor(ovs, ev.Start); ok {
			inst = ov
		}
		if e, ok := toEvent(calendarID, inst); ok {
			return []model.Event{e}
		}
		return nil
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics: bad RRULE", err, "id", calendarID, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Pull the lower bound back by the duration so instances already in
	// progress at w.Start are included.
	from := w.Start.Add(-dur).In(ev.Start.Location())
	to := w.End.In(ev.Start.Location())

	starts := set.Between(from, to, true)
	if len(starts) > w.MaxPerSeries {
		appLog.Debug("ics: series truncated", "id", calendarID, "uid", ev.UID, "cap", w.MaxPerSeries)
		starts = starts[:w.MaxPerSeries]
	}

	out := make([]model.Event, 0, len(starts))
	for _, s := range starts {
		inst := ev
		inst.RawRRule = ""
		inst.Start = s
		inst.End = s.Add(dur)
		if ov, ok := overrideFor(ovs, s); ok {
			inst = ov
		}
		if !overlaps(inst.Start, inst.End, w) {
			continue
		}
		if e, ok := toEvent(calendarID, inst); ok {
			out = append(out, e)
		}
	}
	return out
}

func overrideFor(ovs []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range ovs {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// movedIntoWindow reports an override whose original slot lies outside w
// but whose new time overlaps it.
func movedIntoWindow(ov ParsedEvent, w Window) bool {
	if ov.Recurrence == nil {
		return false
	}
	rid := *ov.Recurrence
	inOriginal := !rid.Before(w.Start) && !rid.After(w.End)
	return !inOriginal && overlaps(ov.Start, ov.End, w)
}

func toEvent(calendarID string, p ParsedEvent) (model.Event, bool) {
	if p.Status == "CANCELLED" {
		return model.Event{}, false
	}
	return model.Event{
		CalendarID: calendarID,
		UID:        p.UID,
		Summary:    p.Summary,
		AllDay:     p.AllDay,
		Start:      p.Start.UTC(),
		End:        p.End.UTC(),
	}, true
}

func appendUnique(list []model.Event, ev model.Event) []model.Event {
	for _, e := range list {
		if e.UID == ev.UID && e.Start.Equal(ev.Start) {
			return list
		}
	}
	return append(list, ev)
}

// overlaps treats zero-length events as occupying their start instant.
func overlaps(start, end time.Time, w Window) bool {
	if end.Before(start) {
		end = start
	}
	return !start.After(w.End) && (end.After(w.Start) || (end.Equal(start) && !start.Before(w.Start)))
}
