package weather

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Shy/vu-consumer/internal/config"
	appLog "github.com/Shy/vu-consumer/internal/log"
	"github.com/Shy/vu-consumer/internal/render"
)

// Sink is the subset of the dial API the weather dial uses.
type Sink interface {
	SetImage(ctx context.Context, dialID string, png []byte) error
	SetValue(ctx context.Context, dialID string, value float64) error
}

// Renderer turns a dial face spec into PNG bytes.
type Renderer interface {
	Render(spec render.Spec) ([]byte, error)
}

// Reading is the outcome of one update.
type Reading struct {
	At          time.Time `json:"at"`
	Temperature float64   `json:"temperature"`
	Unit        string    `json:"unit"`
	Forecast    string    `json:"forecast,omitempty"`
	Value       float64   `json:"value"`
	Error       string    `json:"error,omitempty"`
}

// Updater keeps one dial showing the current temperature on a fixed
// low-high scale.
type Updater struct {
	client   *Client
	sink     Sink
	renderer Renderer
	dialID   string
	cfg      config.WeatherConfig

	mu       sync.RWMutex
	location Location
	face     []byte
	last     *Reading
}

// NewUpdater wires an Updater. Low must be below High.
func NewUpdater(client *Client, sink Sink, renderer Renderer, dialID string, cfg config.WeatherConfig) (*Updater, error) {
	if client == nil || sink == nil || renderer == nil {
		return nil, errors.New("weather: client, sink and renderer are required")
	}
	if dialID == "" {
		return nil, errors.New("weather: dial id is required")
	}
	if !(cfg.Low < cfg.High) {
		return nil, fmt.Errorf("weather: low %v must be below high %v", cfg.Low, cfg.High)
	}
	return &Updater{client: client, sink: sink, renderer: renderer, dialID: dialID, cfg: cfg}, nil
}

// Setup resolves the configured location and pushes the static scale face.
func (u *Updater) Setup(ctx context.Context) error {
	loc, err := u.client.Resolve(ctx, u.cfg.Lat, u.cfg.Lon)
	if err != nil {
		return err
	}
	spec := render.Spec{
		Low:   u.cfg.Low,
		High:  u.cfg.High,
		Unit:  u.cfg.Unit,
		Label: loc.City,
		Icon:  u.cfg.Icon,
	}
	face, err := u.renderer.Render(spec)
	if err != nil {
		return fmt.Errorf("weather: render scale: %w", err)
	}
	if err := u.sink.SetImage(ctx, u.dialID, face); err != nil {
		return fmt.Errorf("weather: push scale: %w", err)
	}

	u.mu.Lock()
	u.location = loc
	u.face = face
	u.mu.Unlock()

	appLog.Info("weather dial ready", "dial", u.dialID, "city", loc.City, "state", loc.State)
	return nil
}

// Update reads the current temperature and moves the needle. It resolves
// the location first if Setup has not succeeded yet.
func (u *Updater) Update(ctx context.Context) (Reading, error) {
	u.mu.RLock()
	forecastURL := u.location.ForecastURL
	u.mu.RUnlock()

	if forecastURL == "" {
		if err := u.Setup(ctx); err != nil {
			return u.fail(err)
		}
		u.mu.RLock()
		forecastURL = u.location.ForecastURL
		u.mu.RUnlock()
	}

	p, err := u.client.Current(ctx, forecastURL)
	if err != nil {
		return u.fail(err)
	}

	r := Reading{
		At:          time.Now(),
		Temperature: p.Temperature,
		Unit:        p.TemperatureUnit,
		Forecast:    p.ShortForecast,
		Value:       Scale(p.Temperature, u.cfg.Low, u.cfg.High),
	}
	if err := u.sink.SetValue(ctx, u.dialID, r.Value); err != nil {
		return u.fail(fmt.Errorf("weather: push value: %w", err))
	}

	u.store(r)
	appLog.Info("weather dial updated", "dial", u.dialID, "temperature", r.Temperature, "value", r.Value)
	return r, nil
}

// Last returns the most recent reading.
func (u *Updater) Last() (Reading, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.last == nil {
		return Reading{}, false
	}
	return *u.last, true
}

// Face returns the scale image pushed by Setup.
func (u *Updater) Face() []byte {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.face
}

// DialID is the dial this updater drives.
func (u *Updater) DialID() string { return u.dialID }

// Schedule registers Update on c with the configured cron spec. Overlapping
// runs are skipped.
func (u *Updater) Schedule(ctx context.Context, c *cron.Cron) (cron.EntryID, error) {
	job := cron.NewChain(cron.SkipIfStillRunning(appLog.Cron())).Then(cron.FuncJob(func() {
		if _, err := u.Update(ctx); err != nil {
			appLog.Error("weather update failed", err, "dial", u.dialID)
		}
	}))
	id, err := c.AddJob(u.cfg.Refresh, job)
	if err != nil {
		return 0, fmt.Errorf("weather: schedule %q: %w", u.cfg.Refresh, err)
	}
	return id, nil
}

// Scale maps temp onto 0-100 across [low, high], clamped.
func Scale(temp, low, high float64) float64 {
	v := (temp - low) / (high - low) * 100
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func (u *Updater) fail(err error) (Reading, error) {
	r := Reading{At: time.Now(), Error: err.Error()}
	u.mu.Lock()
	if u.last != nil {
		prev := *u.last
		r.Temperature, r.Unit, r.Value, r.Forecast = prev.Temperature, prev.Unit, prev.Value, prev.Forecast
	}
	u.last = &r
	u.mu.Unlock()
	return r, err
}

func (u *Updater) store(r Reading) {
	u.mu.Lock()
	u.last = &r
	u.mu.Unlock()
}
