package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Shy/vu-consumer/internal/config"
	"github.com/Shy/vu-consumer/internal/ics"
	appLog "github.com/Shy/vu-consumer/internal/log"
	"github.com/Shy/vu-consumer/internal/model"
)

// Router dispatches each calendar ID to the adapter that serves it and
// normalizes unclassified adapter errors to ErrSourceUnavailable.
type Router struct {
	routes map[string]Source
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]Source)}
}

// Register binds id to src, replacing any earlier binding.
func (r *Router) Register(id string, src Source) {
	r.routes[id] = src
}

func (r *Router) FetchUpcoming(ctx context.Context, calendarID string, now time.Time, maxResults int) (model.EventWindow, error) {
	src, ok := r.routes[calendarID]
	if !ok {
		return nil, unavailable(calendarID, errors.New("no adapter registered"))
	}
	win, err := src.FetchUpcoming(ctx, calendarID, now, maxResults)
	if err != nil {
		if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrSourceUnavailable) {
			return nil, err
		}
		return nil, unavailable(calendarID, err)
	}
	return win, nil
}

// FromConfig wires every configured calendar to its adapter. The Google
// service is created only when a Google calendar is configured; failing to
// build it is reported but leaves ICS calendars usable, since those
// calendars will simply fail each cycle until credentials are fixed.
func FromConfig(ctx context.Context, cfg *config.Config, client *http.Client) (*Router, error) {
	loc, err := time.LoadLocation(cfg.Calendar.Timezone)
	if err != nil {
		appLog.Error("calendar timezone invalid; using UTC", err, "timezone", cfg.Calendar.Timezone)
		loc = time.UTC
	}

	r := NewRouter()
	var buildErr error

	if cfg.HasGoogleSources() {
		svc, err := NewGoogleService(ctx, GoogleAuth{
			CredentialsFile:  cfg.Calendar.CredentialsFile,
			ClientSecretFile: cfg.Calendar.ClientSecretFile,
			TokenFile:        cfg.Calendar.TokenFile,
		})
		if err != nil {
			buildErr = fmt.Errorf("google calendar: %w", err)
		} else {
			g := NewGoogleSource(svc, loc)
			for _, src := range cfg.Calendar.Sources {
				if src.Kind == config.KindGoogle {
					r.Register(src.ID, g)
				}
			}
		}
	}

	feeds := make(map[string]string)
	for _, src := range cfg.Calendar.Sources {
		if src.Kind == config.KindICS {
			feeds[src.ID] = src.URL
		}
	}
	if len(feeds) > 0 {
		fetcher := ics.NewFetcher(client, filepath.Join(cfg.StateDir, "ics-cache"))
		horizon := time.Duration(cfg.Calendar.HorizonDays) * 24 * time.Hour
		s := NewICSSource(fetcher, feeds, loc, horizon)
		for id := range feeds {
			r.Register(id, s)
		}
	}

	return r, buildErr
}
