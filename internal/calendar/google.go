package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "github.com/Shy/vu-consumer/internal/log"
	"github.com/Shy/vu-consumer/internal/model"
)

// GoogleAuth selects how the Google Calendar client obtains tokens.
// Acquiring the files (consent flow, key creation) happens elsewhere.
type GoogleAuth struct {
	// CredentialsFile is a service-account or authorized_user JSON.
	CredentialsFile string
	// ClientSecretFile + TokenFile: an installed-app client secret plus a
	// previously saved oauth2.Token.
	ClientSecretFile string
	TokenFile        string
}

// TokenSource builds a refreshing read-only token source. With no files
// configured it falls back to Application Default Credentials.
func (a GoogleAuth) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	switch {
	case a.ClientSecretFile != "" && a.TokenFile != "":
		secret, err := os.ReadFile(a.ClientSecretFile)
		if err != nil {
			return nil, fmt.Errorf("read client secret: %w", err)
		}
		conf, err := google.ConfigFromJSON(secret, gcal.CalendarReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("parse client secret: %w", err)
		}
		raw, err := os.ReadFile(a.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("read token: %w", err)
		}
		var tok oauth2.Token
		if err := json.Unmarshal(raw, &tok); err != nil {
			return nil, fmt.Errorf("parse token: %w", err)
		}
		return conf.TokenSource(ctx, &tok), nil

	case a.CredentialsFile != "":
		data, err := os.ReadFile(a.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, gcal.CalendarReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
		return creds.TokenSource, nil

	default:
		creds, err := google.FindDefaultCredentials(ctx, gcal.CalendarReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("find default credentials: %w", err)
		}
		return creds.TokenSource, nil
	}
}

// NewGoogleService creates an authenticated Calendar v3 service. Extra
// options (endpoint, HTTP client) are appended after the token source.
func NewGoogleService(ctx context.Context, auth GoogleAuth, opts ...option.ClientOption) (*gcal.Service, error) {
	ts, err := auth.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	all := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	return gcal.NewService(ctx, all...)
}

// GoogleSource reads upcoming events through the Calendar v3 API.
type GoogleSource struct {
	svc *gcal.Service
	// loc anchors all-day ("date") events.
	loc *time.Location
}

// NewGoogleSource wraps an existing service.
func NewGoogleSource(svc *gcal.Service, loc *time.Location) *GoogleSource {
	if loc == nil {
		loc = time.UTC
	}
	return &GoogleSource{svc: svc, loc: loc}
}

// FetchUpcoming lists single (expanded) events that end after now, ordered
// by start time.
func (g *GoogleSource) FetchUpcoming(ctx context.Context, calendarID string, now time.Time, maxResults int) (model.EventWindow, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	resp, err := g.svc.Events.List(calendarID).
		TimeMin(now.UTC().Format(time.RFC3339)).
		MaxResults(int64(maxResults)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyGoogleError(calendarID, err)
	}

	win := make(model.EventWindow, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Status == "cancelled" {
			continue
		}
		ev, err := convertGoogleEvent(calendarID, item, g.loc)
		if err != nil {
			appLog.Debug("google event skipped", "calendar", calendarID, "event", item.Id, "reason", err.Error())
			continue
		}
		win = append(win, ev)
	}
	sort.SliceStable(win, func(i, j int) bool { return win[i].Start.Before(win[j].Start) })
	return win, nil
}

// classifyGoogleError separates credential problems from transient ones.
// Quota-flavoured 403s are transient.
func classifyGoogleError(calendarID string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return authExpired(calendarID, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return authExpired(calendarID, err)
		case http.StatusForbidden:
			for _, item := range gerr.Errors {
				switch item.Reason {
				case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
					return unavailable(calendarID, err)
				}
			}
			return authExpired(calendarID, err)
		}
	}
	return unavailable(calendarID, err)
}

func convertGoogleEvent(calendarID string, item *gcal.Event, loc *time.Location) (model.Event, error) {
	start, allDay, err := parseEventDateTime(item.Start, loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("start: %w", err)
	}
	end, _, err := parseEventDateTime(item.End, loc)
	if err != nil || end.Before(start) {
		end = start
	}
	return model.Event{
		CalendarID: calendarID,
		UID:        item.Id,
		Summary:    item.Summary,
		AllDay:     allDay,
		Start:      start.UTC(),
		End:        end.UTC(),
	}, nil
}

func parseEventDateTime(dt *gcal.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, errors.New("missing time")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		return t, true, err
	}
	return time.Time{}, false, errors.New("empty time")
}
