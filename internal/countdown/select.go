package countdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shy/vu-consumer/internal/calendar"
	appLog "github.com/Shy/vu-consumer/internal/log"
	"github.com/Shy/vu-consumer/internal/model"
)

// ErrNoSourceAvailable means every configured calendar failed this cycle.
var ErrNoSourceAvailable = errors.New("no calendar source available")

// SourceFailure records one calendar that could not be queried.
type SourceFailure struct {
	CalendarID  string `json:"calendar_id"`
	AuthExpired bool   `json:"auth_expired"`
	Error       string `json:"error"`
}

// Selection is the outcome of one next-event query across all calendars.
// Event is nil when no calendar has anything scheduled. Err is set only
// when every calendar failed.
type Selection struct {
	Event  *model.Event
	Failed []SourceFailure
	Err    error
}

// EventSelector picks the globally next event.
type EventSelector interface {
	Select(ctx context.Context, now time.Time) Selection
}

// SelectorOptions tunes a Selector.
type SelectorOptions struct {
	MaxResults int
	// Timeout bounds each calendar query. Zero means no extra bound.
	Timeout time.Duration
	// Concurrent queries every calendar at once instead of in order.
	Concurrent bool
}

// Selector merges per-calendar windows into a single next event.
type Selector struct {
	source calendar.Source
	ids    []string
	opts   SelectorOptions
}

// NewSelector returns a Selector over the calendars ids, in priority order:
// on equal start times the earlier ID wins.
func NewSelector(src calendar.Source, ids []string, opts SelectorOptions) *Selector {
	if opts.MaxResults <= 0 {
		opts.MaxResults = calendar.DefaultMaxResults
	}
	cp := make([]string, len(ids))
	copy(cp, ids)
	return &Selector{source: src, ids: cp, opts: opts}
}

type fetchOutcome struct {
	window model.EventWindow
	err    error
}

// Select queries every calendar and returns the candidate with the
// earliest start. Failed calendars are skipped; only when all of them
// fail does Selection.Err wrap ErrNoSourceAvailable. With no calendars
// configured the result is simply no event.
func (s *Selector) Select(ctx context.Context, now time.Time) Selection {
	if len(s.ids) == 0 {
		return Selection{}
	}

	outcomes := make([]fetchOutcome, len(s.ids))
	if s.opts.Concurrent {
		var wg sync.WaitGroup
		for i := range s.ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						outcomes[i] = fetchOutcome{err: fmt.Errorf("calendar %q: panic: %v", s.ids[i], r)}
					}
				}()
				outcomes[i] = s.fetch(ctx, s.ids[i], now)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range s.ids {
			outcomes[i] = s.fetch(ctx, s.ids[i], now)
		}
	}

	var (
		sel  Selection
		errs []error
	)
	for i, o := range outcomes {
		id := s.ids[i]
		if o.err != nil {
			auth := calendar.IsAuthExpired(o.err)
			if auth {
				appLog.Error("calendar credentials rejected, re-authorization required", o.err, "calendar", id)
			} else {
				appLog.Warn("calendar source unavailable", "calendar", id, "err", o.err)
			}
			sel.Failed = append(sel.Failed, SourceFailure{CalendarID: id, AuthExpired: auth, Error: o.err.Error()})
			errs = append(errs, o.err)
			continue
		}

		cand, ok := o.window.Candidate(now)
		if !ok {
			continue
		}
		if cand.CalendarID == "" {
			cand.CalendarID = id
		}
		// Strict comparison keeps the first-configured calendar on ties.
		if sel.Event == nil || cand.Start.Before(sel.Event.Start) {
			ev := cand
			sel.Event = &ev
		}
	}

	if len(errs) == len(s.ids) {
		sel.Event = nil
		sel.Err = fmt.Errorf("%w: %w", ErrNoSourceAvailable, errors.Join(errs...))
	}
	return sel
}

// SelectNext is Select reduced to the event and the all-failed error.
func (s *Selector) SelectNext(ctx context.Context, now time.Time) (*model.Event, error) {
	sel := s.Select(ctx, now)
	return sel.Event, sel.Err
}

func (s *Selector) fetch(ctx context.Context, id string, now time.Time) fetchOutcome {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	win, err := s.source.FetchUpcoming(ctx, id, now, s.opts.MaxResults)
	if err != nil {
		return fetchOutcome{err: err}
	}
	if !sort.SliceIsSorted(win, func(a, b int) bool { return win[a].Start.Before(win[b].Start) }) {
		sorted := make(model.EventWindow, len(win))
		copy(sorted, win)
		sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Start.Before(sorted[b].Start) })
		win = sorted
	}
	return fetchOutcome{window: win}
}
