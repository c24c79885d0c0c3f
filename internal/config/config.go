package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Source kinds understood by the calendar router.
const (
	KindGoogle = "google"
	KindICS    = "ics"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// VUConfig points at the local VU dial server.
type VUConfig struct {
	// BaseURL is the VU server root, e.g. "http://localhost:5340".
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Key is the VU server API key (see the VU dial docs).
	Key string `yaml:"key" json:"-"`

	// WeatherDial and CalendarDial are dial UIDs. Empty values are
	// resolved from the server's dial list at startup.
	WeatherDial  string `yaml:"weather_dial" json:"weather_dial"`
	CalendarDial string `yaml:"calendar_dial" json:"calendar_dial"`

	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// WeatherConfig drives the temperature dial.
type WeatherConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Lat/Lon are passed verbatim to weather.gov, which wants at most four
	// decimal places.
	Lat string `yaml:"lat" json:"lat"`
	Lon string `yaml:"lon" json:"lon"`

	// Low/High bound the dial scale in Unit.
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
	Unit string  `yaml:"unit" json:"unit"`
	Icon string  `yaml:"icon" json:"icon"`

	// Refresh is a cron spec, e.g. "*/15 * * * *".
	Refresh string `yaml:"refresh" json:"refresh"`

	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// SourceConfig describes one calendar feeding the countdown dial.
type SourceConfig struct {
	// ID is the Google calendar ID, or an internal name for ICS feeds.
	ID string `yaml:"id" json:"id"`
	// Kind is "google" (default) or "ics".
	Kind string `yaml:"kind" json:"kind"`
	// URL is the ICS subscription endpoint; unused for Google calendars.
	URL  string `yaml:"url,omitempty" json:"-"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// CalendarConfig configures calendar sources and their credentials.
type CalendarConfig struct {
	// Timezone is the IANA zone used for all-day events.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Sources are queried in order; on exact start-time ties the earlier
	// source wins.
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// CredentialsFile is a Google service-account or authorized_user JSON.
	CredentialsFile string `yaml:"credentials_file" json:"-"`
	// ClientSecretFile + TokenFile are the installed-app OAuth alternative.
	ClientSecretFile string `yaml:"client_secret_file" json:"-"`
	TokenFile        string `yaml:"token_file" json:"-"`

	FetchTimeoutSeconds int  `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`
	MaxResults          int  `yaml:"max_results" json:"max_results"`
	HorizonDays         int  `yaml:"horizon_days" json:"horizon_days"`
	Concurrent          bool `yaml:"concurrent" json:"concurrent"`
}

// TierConfig is the yaml form of one urgency tier.
type TierConfig struct {
	Name string `yaml:"name" json:"name"`

	// AboveMinutes is the tier's lower bound. Nil marks the final,
	// unbounded tier.
	AboveMinutes *float64 `yaml:"above_minutes,omitempty" json:"above_minutes,omitempty"`
	Inclusive    bool     `yaml:"inclusive" json:"inclusive"`

	// GaugeMode is "fixed" (GaugeValue) or "countdown"
	// (100*(GaugeSpan-m)/GaugeSpan).
	GaugeMode  string  `yaml:"gauge_mode" json:"gauge_mode"`
	GaugeValue float64 `yaml:"gauge_value" json:"gauge_value"`
	GaugeSpan  float64 `yaml:"gauge_span" json:"gauge_span"`

	ScaleLow  float64 `yaml:"scale_low" json:"scale_low"`
	ScaleHigh float64 `yaml:"scale_high" json:"scale_high"`
	Unit      string  `yaml:"unit" json:"unit"`
	Icon      string  `yaml:"icon" json:"icon"`

	// BacklightMode is "off" or "ramp" (red follows the countdown over
	// BacklightSpan minutes, green/blue fixed).
	BacklightMode  string  `yaml:"backlight_mode" json:"backlight_mode"`
	BacklightSpan  float64 `yaml:"backlight_span" json:"backlight_span"`
	BacklightGreen float64 `yaml:"backlight_green" json:"backlight_green"`
	BacklightBlue  float64 `yaml:"backlight_blue" json:"backlight_blue"`

	// IntervalSeconds is the re-poll interval; zero on the final tier
	// means "use the idle interval".
	IntervalSeconds int `yaml:"interval_seconds" json:"interval_seconds"`
}

// CountdownConfig configures the calendar countdown dial.
type CountdownConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// IdleValue is shown when no calendar has any upcoming event.
	IdleValue           float64 `yaml:"idle_value" json:"idle_value"`
	IdleIntervalSeconds int     `yaml:"idle_interval_seconds" json:"idle_interval_seconds"`
	IdleLabel           string  `yaml:"idle_label" json:"idle_label"`

	// Tiers overrides the built-in urgency table when non-empty.
	Tiers []TierConfig `yaml:"tiers,omitempty" json:"tiers,omitempty"`
}

// IconsConfig locates optional icon artwork.
type IconsConfig struct {
	// Dir holds <name>.png icons overriding the built-in glyphs.
	Dir string `yaml:"dir" json:"dir"`
	// SVGDir holds <name>.svg icons rasterized into Dir at startup.
	SVGDir string `yaml:"svg_dir" json:"svg_dir"`
}

// BatteryConfig enables the PiSugar-style I2C battery gauge.
type BatteryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Bus     string `yaml:"bus" json:"bus"`
	Addr    uint16 `yaml:"addr" json:"addr"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// StateDir receives caches and -dump artifacts.
	StateDir string `yaml:"state_dir" json:"state_dir"`

	VU        VUConfig        `yaml:"vu" json:"vu"`
	Weather   WeatherConfig   `yaml:"weather" json:"weather"`
	Calendar  CalendarConfig  `yaml:"calendar" json:"calendar"`
	Countdown CountdownConfig `yaml:"countdown" json:"countdown"`
	Icons     IconsConfig     `yaml:"icons" json:"icons"`
	Battery   BatteryConfig   `yaml:"battery" json:"battery"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:5000",
		LogLevel: "info",
		StateDir: "/var/lib/vu-consumer",
		VU: VUConfig{
			BaseURL:        "http://localhost:5340",
			TimeoutSeconds: 10,
		},
		Weather: WeatherConfig{
			Enabled: true,
			// NYC ranges from roughly 8°F to 97°F.
			Low:       8,
			High:      97,
			Unit:      "°F",
			Icon:      "thermometer",
			Refresh:   "*/15 * * * *",
			UserAgent: "vu-consumer (github.com/Shy/vu-consumer)",
		},
		Calendar: CalendarConfig{
			Timezone:            "UTC",
			Sources:             []SourceConfig{},
			FetchTimeoutSeconds: 15,
			MaxResults:          2,
			HorizonDays:         14,
		},
		Countdown: CountdownConfig{
			Enabled:             true,
			IdleValue:           0,
			IdleIntervalSeconds: 3600,
			IdleLabel:           "No Events",
		},
		Battery: BatteryConfig{
			Addr: 0x57,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.StateDir == "" {
		c.StateDir = def.StateDir
	}

	if c.VU.BaseURL == "" {
		c.VU.BaseURL = def.VU.BaseURL
	}
	c.VU.BaseURL = strings.TrimRight(c.VU.BaseURL, "/")
	if c.VU.TimeoutSeconds <= 0 {
		c.VU.TimeoutSeconds = def.VU.TimeoutSeconds
	}

	if c.Weather.Unit == "" {
		c.Weather.Unit = def.Weather.Unit
	}
	if c.Weather.Icon == "" {
		c.Weather.Icon = def.Weather.Icon
	}
	if c.Weather.Refresh == "" {
		c.Weather.Refresh = def.Weather.Refresh
	}
	if c.Weather.UserAgent == "" {
		c.Weather.UserAgent = def.Weather.UserAgent
	}
	if c.Weather.High <= c.Weather.Low {
		c.Weather.Low, c.Weather.High = def.Weather.Low, def.Weather.High
	}

	if c.Calendar.Timezone == "" {
		c.Calendar.Timezone = def.Calendar.Timezone
	}
	if c.Calendar.Sources == nil {
		c.Calendar.Sources = []SourceConfig{}
	}
	for i := range c.Calendar.Sources {
		src := &c.Calendar.Sources[i]
		src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
		if src.Kind == "" {
			src.Kind = KindGoogle
		}
		if src.ID == "" {
			if src.Name != "" {
				src.ID = src.Name
			} else {
				src.ID = src.URL
			}
		}
	}
	if c.Calendar.FetchTimeoutSeconds <= 0 {
		c.Calendar.FetchTimeoutSeconds = def.Calendar.FetchTimeoutSeconds
	}
	if c.Calendar.MaxResults <= 0 {
		c.Calendar.MaxResults = def.Calendar.MaxResults
	}
	if c.Calendar.HorizonDays <= 0 {
		c.Calendar.HorizonDays = def.Calendar.HorizonDays
	}

	if c.Countdown.IdleIntervalSeconds <= 0 {
		c.Countdown.IdleIntervalSeconds = def.Countdown.IdleIntervalSeconds
	}
	if c.Countdown.IdleLabel == "" {
		c.Countdown.IdleLabel = def.Countdown.IdleLabel
	}

	if c.Battery.Addr == 0 {
		c.Battery.Addr = def.Battery.Addr
	}
}

// Validate reports configuration errors that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Calendar.Sources))
	for i, src := range c.Calendar.Sources {
		switch src.Kind {
		case KindGoogle:
		case KindICS:
			if src.URL == "" {
				errs = append(errs, fmt.Errorf("calendar.sources[%d]: ics source %q has no url", i, src.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("calendar.sources[%d]: unknown kind %q", i, src.Kind))
		}
		if src.ID == "" {
			errs = append(errs, fmt.Errorf("calendar.sources[%d]: id is required", i))
		} else if seen[src.ID] {
			errs = append(errs, fmt.Errorf("calendar.sources[%d]: duplicate id %q", i, src.ID))
		}
		seen[src.ID] = true
	}
	if c.Weather.Enabled && (c.Weather.Lat == "" || c.Weather.Lon == "") {
		errs = append(errs, errors.New("weather: lat and lon are required when enabled"))
	}
	return errors.Join(errs...)
}

// HasGoogleSources reports whether any configured calendar needs Google
// credentials.
func (c *Config) HasGoogleSources() bool {
	for _, src := range c.Calendar.Sources {
		if src.Kind == KindGoogle {
			return true
		}
	}
	return false
}

// CalendarIDs returns the configured calendar IDs in priority order.
func (c *Config) CalendarIDs() []string {
	ids := make([]string, 0, len(c.Calendar.Sources))
	for _, src := range c.Calendar.Sources {
		ids = append(ids, src.ID)
	}
	return ids
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files (or ./.env)
// into the process environment. A missing file is not an error.
func LoadDotEnv(paths ...string) (bool, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return false, nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyEnv overlays well-known environment variables onto c. Variables
// that are unset or empty leave the file value alone.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("VU_KEY"); v != "" {
		c.VU.Key = v
	}
	if v := getenv("VU_URL"); v != "" {
		c.VU.BaseURL = strings.TrimRight(v, "/")
	}
	if v := getenv("LOCATION_LAT"); v != "" {
		c.Weather.Lat = v
	}
	if v := getenv("LOCATION_LON"); v != "" {
		c.Weather.Lon = v
	}
	if v := getenv("GOOGLE_CREDENTIALS_FILE"); v != "" {
		c.Calendar.CredentialsFile = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("CALENDAR_IDS"); v != "" {
		// Comma-separated Google calendar IDs replace the file's list.
		srcs := make([]SourceConfig, 0)
		for _, id := range strings.Split(v, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			srcs = append(srcs, SourceConfig{ID: id, Kind: KindGoogle})
		}
		c.Calendar.Sources = srcs
	}
	if v := getenv("IDLE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Countdown.IdleIntervalSeconds = n
		}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the configuration to path atomically (temp file + rename)
// with 0600 permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".vu-consumer-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
