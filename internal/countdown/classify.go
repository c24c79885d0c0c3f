package countdown

import (
	"time"

	"github.com/Shy/vu-consumer/internal/model"
	"github.com/Shy/vu-consumer/internal/render"
)

// Result is everything one cycle needs to update the calendar dial.
type Result struct {
	TierIndex int    `json:"tier_index"`
	Tier      string `json:"tier"`

	HasEvent bool    `json:"has_event"`
	Minutes  float64 `json:"minutes_remaining"`

	Gauge     float64       `json:"gauge"`
	Backlight Backlight     `json:"backlight"`
	Interval  time.Duration `json:"interval"`
	Spec      render.Spec   `json:"render"`
}

// Classify maps the next event (nil for none) to its tier outputs. Gauge
// and backlight channels are clamped to [0,100].
func (t *Table) Classify(ev *model.Event, now time.Time) Result {
	if ev == nil {
		idx := len(t.tiers) - 1
		tier := t.tiers[idx]
		return Result{
			TierIndex: idx,
			Tier:      tier.Name,
			Gauge:     clamp(t.idle.Value),
			Backlight: Off,
			Interval:  t.idle.Interval,
			Spec: render.Spec{
				Low:   tier.ScaleLow,
				High:  tier.ScaleHigh,
				Unit:  tier.Unit,
				Label: t.idle.Label,
				Icon:  t.idle.Icon,
			},
		}
	}

	minutes := ev.MinutesUntil(now)
	idx := t.Lookup(minutes)
	tier := t.tiers[idx]

	interval := tier.Interval
	if interval <= 0 {
		interval = t.idle.Interval
	}

	return Result{
		TierIndex: idx,
		Tier:      tier.Name,
		HasEvent:  true,
		Minutes:   minutes,
		Gauge:     clamp(tier.Gauge.eval(minutes)),
		Backlight: tier.Light.eval(minutes),
		Interval:  interval,
		Spec: render.Spec{
			Low:   tier.ScaleLow,
			High:  tier.ScaleHigh,
			Unit:  tier.Unit,
			Label: ev.Summary,
			Icon:  tier.Icon,
		},
	}
}
