package countdown

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shy/vu-consumer/internal/config"
	"github.com/Shy/vu-consumer/internal/render"
)

// GaugeMode selects how a tier maps minutes-remaining to a dial value.
type GaugeMode string

const (
	// GaugeFixed always shows Value.
	GaugeFixed GaugeMode = "fixed"
	// GaugeCountdown fills the dial as the event approaches:
	// 100*(Span-m)/Span.
	GaugeCountdown GaugeMode = "countdown"
)

// GaugeRule computes the raw (unclamped) dial value for a tier.
type GaugeRule struct {
	Mode  GaugeMode
	Value float64
	Span  float64
}

func (g GaugeRule) eval(minutes float64) float64 {
	if g.Mode == GaugeCountdown {
		return 100 * (g.Span - minutes) / g.Span
	}
	return g.Value
}

// BacklightMode selects a tier's backlight policy.
type BacklightMode string

const (
	BacklightStatic BacklightMode = "off"
	// BacklightRamp drives red with the countdown over Span minutes and
	// holds green/blue.
	BacklightRamp BacklightMode = "ramp"
)

// Backlight is an RGB triple, each channel 0-100.
type Backlight struct {
	R float64 `json:"red"`
	G float64 `json:"green"`
	B float64 `json:"blue"`
}

// Off is the dark backlight.
var Off = Backlight{}

// BacklightRule computes a tier's backlight.
type BacklightRule struct {
	Mode  BacklightMode
	Span  float64
	Green float64
	Blue  float64
}

func (b BacklightRule) eval(minutes float64) Backlight {
	if b.Mode != BacklightRamp {
		return Off
	}
	return Backlight{
		R: clamp(100 * (b.Span - minutes) / b.Span),
		G: clamp(b.Green),
		B: clamp(b.Blue),
	}
}

// Tier is one row of the urgency table. A tier covers minutes-remaining
// values at or above Lower (Inclusive) or strictly above it. The final
// tier is unbounded and catches everything else, including overdue.
type Tier struct {
	Name string

	Lower     float64
	Bounded   bool
	Inclusive bool

	Gauge GaugeRule

	ScaleLow  float64
	ScaleHigh float64
	Unit      string
	Icon      string

	Light BacklightRule

	// Interval is the re-poll delay. Zero on the final tier means the
	// table's idle interval.
	Interval time.Duration
}

// Contains reports whether minutes falls in this tier's lower bound.
// Upper bounds are implied by the preceding tier.
func (t Tier) Contains(minutes float64) bool {
	switch {
	case !t.Bounded:
		return true
	case t.Inclusive:
		return minutes >= t.Lower
	default:
		return minutes > t.Lower
	}
}

// Idle configures the no-event outcome.
type Idle struct {
	Value    float64
	Interval time.Duration
	Label    string
	Icon     string
}

// Table is an immutable, validated urgency table ordered by descending
// lower bound.
type Table struct {
	tiers []Tier
	idle  Idle
}

// DefaultTiers returns the stock five-tier table.
func DefaultTiers() []Tier {
	hours := func(t Tier) Tier {
		t.ScaleLow, t.ScaleHigh, t.Unit, t.Icon = 6, 0, " Hrs", render.IconCalendar
		return t
	}
	mins := func(t Tier) Tier {
		t.ScaleLow, t.ScaleHigh, t.Unit, t.Icon = 60, 0, " Min", render.IconClock
		return t
	}
	return []Tier{
		hours(Tier{
			Name: "hours", Lower: 360, Bounded: true, Inclusive: true,
			Gauge:    GaugeRule{Mode: GaugeFixed, Value: 0},
			Light:    BacklightRule{Mode: BacklightStatic},
			Interval: time.Hour,
		}),
		hours(Tier{
			Name: "approaching", Lower: 60, Bounded: true, Inclusive: true,
			Gauge:    GaugeRule{Mode: GaugeCountdown, Span: 360},
			Light:    BacklightRule{Mode: BacklightStatic},
			Interval: 15 * time.Minute,
		}),
		mins(Tier{
			Name: "soon", Lower: 10, Bounded: true, Inclusive: false,
			Gauge:    GaugeRule{Mode: GaugeCountdown, Span: 60},
			Light:    BacklightRule{Mode: BacklightStatic},
			Interval: time.Minute,
		}),
		mins(Tier{
			Name: "imminent", Lower: 0, Bounded: true, Inclusive: false,
			Gauge:    GaugeRule{Mode: GaugeCountdown, Span: 60},
			Light:    BacklightRule{Mode: BacklightRamp, Span: 60, Green: 20, Blue: 40},
			Interval: 30 * time.Second,
		}),
		mins(Tier{
			Name:  "overdue",
			Gauge: GaugeRule{Mode: GaugeFixed, Value: 100},
			Light: BacklightRule{Mode: BacklightStatic},
		}),
	}
}

// DefaultIdle is the stock no-event behaviour.
func DefaultIdle() Idle {
	return Idle{Value: 0, Interval: time.Hour, Label: "No Events", Icon: render.IconCalendar}
}

// NewTable validates tiers and returns an immutable table.
func NewTable(tiers []Tier, idle Idle) (*Table, error) {
	if len(tiers) == 0 {
		return nil, errors.New("countdown: tier table is empty")
	}
	if idle.Interval <= 0 {
		return nil, errors.New("countdown: idle interval must be positive")
	}

	var errs []error
	last := len(tiers) - 1
	for i, t := range tiers {
		switch {
		case i < last && !t.Bounded:
			errs = append(errs, fmt.Errorf("tier %d (%s): only the last tier may be unbounded", i, t.Name))
		case i == last && t.Bounded:
			errs = append(errs, fmt.Errorf("tier %d (%s): last tier must be unbounded", i, t.Name))
		}
		if i > 0 && t.Bounded && tiers[i-1].Bounded && !(t.Lower < tiers[i-1].Lower) {
			errs = append(errs, fmt.Errorf("tier %d (%s): lower bound %v must be below %v", i, t.Name, t.Lower, tiers[i-1].Lower))
		}
		if t.Gauge.Mode == GaugeCountdown && t.Gauge.Span <= 0 {
			errs = append(errs, fmt.Errorf("tier %d (%s): gauge span must be positive", i, t.Name))
		}
		if t.Light.Mode == BacklightRamp && t.Light.Span <= 0 {
			errs = append(errs, fmt.Errorf("tier %d (%s): backlight span must be positive", i, t.Name))
		}
		if t.Interval < 0 || (t.Interval == 0 && i < last) {
			errs = append(errs, fmt.Errorf("tier %d (%s): interval must be positive", i, t.Name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cp := make([]Tier, len(tiers))
	copy(cp, tiers)
	return &Table{tiers: cp, idle: idle}, nil
}

// Tiers returns a copy of the table rows.
func (t *Table) Tiers() []Tier {
	cp := make([]Tier, len(t.tiers))
	copy(cp, t.tiers)
	return cp
}

// IdleInterval is the re-poll delay used when nothing is scheduled or a
// cycle could not reach any calendar.
func (t *Table) IdleInterval() time.Duration { return t.idle.Interval }

// Lookup returns the index of the first tier containing minutes. The final
// tier is unbounded, so every value maps to exactly one tier.
func (t *Table) Lookup(minutes float64) int {
	for i, tier := range t.tiers {
		if tier.Contains(minutes) {
			return i
		}
	}
	return len(t.tiers) - 1
}

// TableFromConfig builds the table from yaml, falling back to the stock
// tiers when none are configured.
func TableFromConfig(cfg config.CountdownConfig) (*Table, error) {
	idle := DefaultIdle()
	idle.Value = cfg.IdleValue
	if cfg.IdleIntervalSeconds > 0 {
		idle.Interval = time.Duration(cfg.IdleIntervalSeconds) * time.Second
	}
	if cfg.IdleLabel != "" {
		idle.Label = cfg.IdleLabel
	}

	if len(cfg.Tiers) == 0 {
		return NewTable(DefaultTiers(), idle)
	}

	tiers := make([]Tier, 0, len(cfg.Tiers))
	for i, tc := range cfg.Tiers {
		t := Tier{
			Name:      tc.Name,
			Inclusive: tc.Inclusive,
			Gauge: GaugeRule{
				Mode:  GaugeMode(strings.ToLower(tc.GaugeMode)),
				Value: tc.GaugeValue,
				Span:  tc.GaugeSpan,
			},
			ScaleLow:  tc.ScaleLow,
			ScaleHigh: tc.ScaleHigh,
			Unit:      tc.Unit,
			Icon:      tc.Icon,
			Light: BacklightRule{
				Mode:  BacklightMode(strings.ToLower(tc.BacklightMode)),
				Span:  tc.BacklightSpan,
				Green: tc.BacklightGreen,
				Blue:  tc.BacklightBlue,
			},
			Interval: time.Duration(tc.IntervalSeconds) * time.Second,
		}
		if t.Name == "" {
			t.Name = fmt.Sprintf("tier%d", i+1)
		}
		if tc.AboveMinutes != nil {
			t.Lower, t.Bounded = *tc.AboveMinutes, true
		}
		switch t.Gauge.Mode {
		case GaugeFixed, GaugeCountdown:
		case "":
			t.Gauge.Mode = GaugeFixed
		default:
			return nil, fmt.Errorf("tier %d (%s): unknown gauge mode %q", i, t.Name, tc.GaugeMode)
		}
		switch t.Light.Mode {
		case BacklightStatic, BacklightRamp:
		case "":
			t.Light.Mode = BacklightStatic
		default:
			return nil, fmt.Errorf("tier %d (%s): unknown backlight mode %q", i, t.Name, tc.BacklightMode)
		}
		tiers = append(tiers, t)
	}
	return NewTable(tiers, idle)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
