package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Shy/vu-consumer/internal/battery"
	"github.com/Shy/vu-consumer/internal/calendar"
	"github.com/Shy/vu-consumer/internal/config"
	"github.com/Shy/vu-consumer/internal/countdown"
	appLog "github.com/Shy/vu-consumer/internal/log"
	"github.com/Shy/vu-consumer/internal/model"
	"github.com/Shy/vu-consumer/internal/weather"
)

// Countdown is the calendar dial as seen by the HTTP API.
type Countdown interface {
	Trigger(ctx context.Context) countdown.Report
	Last() (countdown.Report, bool)
	LastImage() []byte
	DialID() string
}

// Weather is the temperature dial as seen by the HTTP API.
type Weather interface {
	Update(ctx context.Context) (weather.Reading, error)
	Last() (weather.Reading, bool)
	Face() []byte
	DialID() string
}

// Deps are the running components the server exposes. Any of them may be
// nil when the feature is disabled.
type Deps struct {
	Countdown Countdown
	Weather   Weather
	Battery   battery.Reader
	Calendars calendar.Source
}

// Server provides the HTTP API for status, manual refreshes and dial
// previews.
type Server struct {
	cfg  *config.Config
	deps Deps
	mux  *http.ServeMux
	now  func() time.Time

	// Short-lived cache for /api/events so a polling UI does not hit the
	// calendar APIs on every request.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache

	// Battery status does not need sub-second precision.
	batteryMu    sync.RWMutex
	batteryCache *batteryCache
}

const (
	eventsCacheTTL  = 30 * time.Second
	batteryCacheTTL = 30 * time.Second
)

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
		now:  time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("stopping HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="vu-consumer", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/countdown/trigger", s.handleTrigger)
	s.mux.HandleFunc("/api/weather/update", s.handleWeatherUpdate)
	s.mux.HandleFunc("/api/battery", s.handleBattery)
	s.mux.HandleFunc("/preview/", s.handlePreview)

	// Legacy refresh URLs.
	s.mux.HandleFunc("/updateWeather", s.handleWeatherUpdate)
	s.mux.HandleFunc("/{$}", s.handleWeatherUpdate)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusResponse struct {
	Now       time.Time        `json:"now"`
	Countdown *countdownStatus `json:"countdown,omitempty"`
	Weather   *weatherStatus   `json:"weather,omitempty"`
	Calendars []string         `json:"calendars"`
}

type countdownStatus struct {
	Dial string            `json:"dial"`
	Last *countdown.Report `json:"last,omitempty"`
}

type weatherStatus struct {
	Dial string           `json:"dial"`
	Last *weather.Reading `json:"last,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Now: s.now(), Calendars: s.cfg.CalendarIDs()}
	if resp.Calendars == nil {
		resp.Calendars = []string{}
	}
	if cd := s.deps.Countdown; cd != nil {
		st := &countdownStatus{Dial: cd.DialID()}
		if rep, ok := cd.Last(); ok {
			st.Last = &rep
		}
		resp.Countdown = st
	}
	if wx := s.deps.Weather; wx != nil {
		st := &weatherStatus{Dial: wx.DialID()}
		if r, ok := wx.Last(); ok {
			st.Last = &r
		}
		resp.Weather = st
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTrigger runs a countdown cycle now. POST only.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	if s.deps.Countdown == nil {
		writeError(w, http.StatusServiceUnavailable, "countdown disabled")
		return
	}
	rep := s.deps.Countdown.Trigger(r.Context())
	status := http.StatusOK
	if rep.Status == countdown.StatusBusy {
		status = http.StatusConflict
	}
	writeJSON(w, status, rep)
}

func (s *Server) handleWeatherUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Weather == nil {
		writeError(w, http.StatusServiceUnavailable, "weather disabled")
		return
	}
	reading, err := s.deps.Weather.Update(r.Context())
	if err != nil {
		appLog.Error("manual weather update failed", err)
		writeJSON(w, http.StatusBadGateway, reading)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleBattery exposes current battery status (percent, voltage).
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Battery == nil {
		writeError(w, http.StatusNotFound, "battery monitoring disabled")
		return
	}
	now := s.now()

	s.batteryMu.RLock()
	bc := s.batteryCache
	s.batteryMu.RUnlock()
	if bc != nil && now.Sub(bc.updatedAt) < batteryCacheTTL {
		writeJSON(w, http.StatusOK, bc.status)
		return
	}

	status, err := s.deps.Battery.Read(r.Context())
	if err != nil {
		if errors.Is(err, battery.ErrDisabled) {
			writeError(w, http.StatusNotFound, "battery monitoring disabled")
			return
		}
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}

	s.batteryMu.Lock()
	s.batteryCache = &batteryCache{status: status, updatedAt: now}
	s.batteryMu.Unlock()

	writeJSON(w, http.StatusOK, status)
}

// handlePreview serves the last face pushed to a dial: /preview/{dial}.png
// where dial is "calendar", "weather" or a dial UID.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/preview/"), ".png")

	var img []byte
	switch {
	case s.deps.Countdown != nil && (name == "calendar" || name == s.deps.Countdown.DialID()):
		img = s.deps.Countdown.LastImage()
	case s.deps.Weather != nil && (name == "weather" || name == s.deps.Weather.DialID()):
		img = s.deps.Weather.Face()
	}
	if len(img) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	At        time.Time        `json:"at"`
	Calendars []calendarEvents `json:"calendars"`
}

type calendarEvents struct {
	ID     string        `json:"id"`
	Events []model.Event `json:"events"`
	Error  string        `json:"error,omitempty"`
}

// eventsCache holds a cached /api/events response and its timestamp.
type eventsCache struct {
	limit     int
	resp      eventsResponse
	updatedAt time.Time
}

// batteryCache holds the last known battery status and its timestamp.
type batteryCache struct {
	status    battery.Status
	updatedAt time.Time
}

// handleEvents lists the upcoming window of every configured calendar.
//
// GET /api/events?max=5
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calendars == nil {
		writeError(w, http.StatusServiceUnavailable, "no calendar sources")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("max"), s.cfg.Calendar.MaxResults)
	if limit <= 0 || limit > 50 {
		limit = calendar.DefaultMaxResults
	}
	now := s.now()

	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && ec.limit == limit && now.Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	resp := eventsResponse{At: now, Calendars: []calendarEvents{}}
	for _, id := range s.cfg.CalendarIDs() {
		ce := calendarEvents{ID: id, Events: []model.Event{}}
		win, err := s.deps.Calendars.FetchUpcoming(r.Context(), id, now, limit)
		if err != nil {
			appLog.Error("api events: calendar fetch failed", err, "calendar", id)
			ce.Error = err.Error()
		} else {
			ce.Events = append(ce.Events, win...)
		}
		resp.Calendars = append(resp.Calendars, ce)
	}

	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{limit: limit, resp: resp, updatedAt: now}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
