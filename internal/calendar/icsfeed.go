package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shy/vu-consumer/internal/ics"
	"github.com/Shy/vu-consumer/internal/model"
)

// lookback catches single events that started before now and are still
// running; recurring series handle this through their own duration.
const lookback = 24 * time.Hour

// ICSSource serves calendars published as ICS subscription URLs.
type ICSSource struct {
	fetcher *ics.Fetcher
	feeds   map[string]string // calendar ID -> URL
	loc     *time.Location
	horizon time.Duration
}

// NewICSSource creates an adapter for the given ID -> URL feeds.
func NewICSSource(f *ics.Fetcher, feeds map[string]string, loc *time.Location, horizon time.Duration) *ICSSource {
	if loc == nil {
		loc = time.UTC
	}
	if horizon <= 0 {
		horizon = 14 * 24 * time.Hour
	}
	return &ICSSource{fetcher: f, feeds: feeds, loc: loc, horizon: horizon}
}

func (s *ICSSource) FetchUpcoming(ctx context.Context, calendarID string, now time.Time, maxResults int) (model.EventWindow, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	url, ok := s.feeds[calendarID]
	if !ok {
		return nil, unavailable(calendarID, errors.New("no ics feed configured"))
	}

	res, err := s.fetcher.Fetch(ctx, ics.Source{ID: calendarID, URL: url})
	if err != nil {
		var serr *ics.StatusError
		if errors.As(err, &serr) && serr.Unauthorized() {
			return nil, authExpired(calendarID, err)
		}
		return nil, unavailable(calendarID, err)
	}

	parsed, err := ics.Parse(res.Source, res.Body, s.loc)
	if err != nil {
		return nil, unavailable(calendarID, fmt.Errorf("parse: %w", err))
	}

	expanded, err := ics.Expand(calendarID, parsed, ics.Window{
		Start: now.Add(-lookback),
		End:   now.Add(s.horizon),
	})
	if err != nil {
		return nil, unavailable(calendarID, err)
	}
	return ics.Upcoming(expanded, now, maxResults), nil
}
