package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shy/vu-consumer/internal/model"
)

var (
	// ErrSourceUnavailable wraps any upstream or network failure,
	// including a per-call timeout.
	ErrSourceUnavailable = errors.New("calendar source unavailable")

	// ErrAuthExpired marks credentials that were rejected or could not be
	// refreshed. An operator has to re-authorize.
	ErrAuthExpired = errors.New("calendar credentials expired")
)

// DefaultMaxResults is how many upcoming events a query asks for. Two is
// enough to step over one event that has already started.
const DefaultMaxResults = 2

// Source returns the next few events for a calendar. Implementations must
// return an empty window, not an error, for a calendar with no events.
type Source interface {
	FetchUpcoming(ctx context.Context, calendarID string, now time.Time, maxResults int) (model.EventWindow, error)
}

// SourceError carries the calendar ID alongside a classified failure.
type SourceError struct {
	CalendarID string
	Kind       error // ErrSourceUnavailable or ErrAuthExpired
	Err        error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: calendar %q: %v", e.Kind, e.CalendarID, e.Err)
}

func (e *SourceError) Unwrap() []error { return []error{e.Kind, e.Err} }

func unavailable(id string, err error) error {
	return &SourceError{CalendarID: id, Kind: ErrSourceUnavailable, Err: err}
}

func authExpired(id string, err error) error {
	return &SourceError{CalendarID: id, Kind: ErrAuthExpired, Err: err}
}

// IsAuthExpired reports whether err needs operator attention.
func IsAuthExpired(err error) bool { return errors.Is(err, ErrAuthExpired) }
