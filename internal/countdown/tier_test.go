package countdown

import (
	"math"
	"testing"
	"time"

	"github.com/Shy/vu-consumer/internal/config"
	"github.com/Shy/vu-consumer/internal/model"
	"github.com/Shy/vu-consumer/internal/render"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func defaultTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(DefaultTiers(), DefaultIdle())
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	return tbl
}

func eventIn(minutes float64, summary string) *model.Event {
	start := base.Add(time.Duration(minutes * float64(time.Minute)))
	return &model.Event{Summary: summary, Start: start, End: start.Add(time.Hour)}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 0.01 }

func TestClassifyScenarios(t *testing.T) {
	tbl := defaultTable(t)
	tests := []struct {
		name      string
		minutes   float64
		tier      int
		gauge     float64
		backlight Backlight
		interval  time.Duration
		spec      render.Spec
	}{
		{
			name: "far away", minutes: 400, tier: 0, gauge: 0, interval: time.Hour,
			spec: render.Spec{Low: 6, High: 0, Unit: " Hrs", Label: "Sync", Icon: render.IconCalendar},
		},
		{
			name: "six hours exactly", minutes: 360, tier: 0, gauge: 0, interval: time.Hour,
			spec: render.Spec{Low: 6, High: 0, Unit: " Hrs", Label: "Sync", Icon: render.IconCalendar},
		},
		{
			name: "approaching", minutes: 200, tier: 1, gauge: 44.44, interval: 15 * time.Minute,
			spec: render.Spec{Low: 6, High: 0, Unit: " Hrs", Label: "Sync", Icon: render.IconCalendar},
		},
		{
			name: "one hour exactly", minutes: 60, tier: 1, gauge: 83.33, interval: 15 * time.Minute,
			spec: render.Spec{Low: 6, High: 0, Unit: " Hrs", Label: "Sync", Icon: render.IconCalendar},
		},
		{
			name: "soon", minutes: 30, tier: 2, gauge: 50, interval: time.Minute,
			spec: render.Spec{Low: 60, High: 0, Unit: " Min", Label: "Sync", Icon: render.IconClock},
		},
		{
			name: "ten minutes exactly", minutes: 10, tier: 3, gauge: 83.33, interval: 30 * time.Second,
			backlight: Backlight{R: 83.33, G: 20, B: 40},
			spec:      render.Spec{Low: 60, High: 0, Unit: " Min", Label: "Sync", Icon: render.IconClock},
		},
		{
			name: "imminent", minutes: 5, tier: 3, gauge: 91.67, interval: 30 * time.Second,
			backlight: Backlight{R: 91.67, G: 20, B: 40},
			spec:      render.Spec{Low: 60, High: 0, Unit: " Min", Label: "Sync", Icon: render.IconClock},
		},
		{
			name: "starting now", minutes: 0, tier: 4, gauge: 100, interval: time.Hour,
			spec: render.Spec{Low: 60, High: 0, Unit: " Min", Label: "Sync", Icon: render.IconClock},
		},
		{
			name: "overdue", minutes: -15, tier: 4, gauge: 100, interval: time.Hour,
			spec: render.Spec{Low: 60, High: 0, Unit: " Min", Label: "Sync", Icon: render.IconClock},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tbl.Classify(eventIn(tt.minutes, "Sync"), base)
			if got.TierIndex != tt.tier {
				t.Errorf("tier = %d (%s), want %d", got.TierIndex, got.Tier, tt.tier)
			}
			if !got.HasEvent {
				t.Error("HasEvent = false")
			}
			if !approx(got.Gauge, tt.gauge) {
				t.Errorf("gauge = %.3f, want %.2f", got.Gauge, tt.gauge)
			}
			if !approx(got.Backlight.R, tt.backlight.R) || got.Backlight.G != tt.backlight.G || got.Backlight.B != tt.backlight.B {
				t.Errorf("backlight = %+v, want %+v", got.Backlight, tt.backlight)
			}
			if got.Interval != tt.interval {
				t.Errorf("interval = %v, want %v", got.Interval, tt.interval)
			}
			if got.Spec != tt.spec {
				t.Errorf("spec = %+v, want %+v", got.Spec, tt.spec)
			}
		})
	}
}

func TestClassifyNoEvent(t *testing.T) {
	idle := DefaultIdle()
	idle.Value = 12
	tbl, err := NewTable(DefaultTiers(), idle)
	if err != nil {
		t.Fatal(err)
	}
	got := tbl.Classify(nil, base)
	if got.HasEvent || got.TierIndex != 4 {
		t.Errorf("got tier %d has_event=%v", got.TierIndex, got.HasEvent)
	}
	if got.Gauge != 12 || got.Backlight != Off || got.Interval != time.Hour {
		t.Errorf("idle result = %+v", got)
	}
	if got.Spec.Label != "No Events" || got.Spec.Icon != render.IconCalendar {
		t.Errorf("idle spec = %+v", got.Spec)
	}
}

func TestClassifyOutputsStayInRange(t *testing.T) {
	tbl := defaultTable(t)
	for m := -120.0; m <= 1000; m += 0.25 {
		r := tbl.Classify(eventIn(m, "x"), base)
		for _, v := range []float64{r.Gauge, r.Backlight.R, r.Backlight.G, r.Backlight.B} {
			if v < 0 || v > 100 {
				t.Fatalf("m=%v: out of range output %+v", m, r)
			}
		}
		if r.Interval <= 0 {
			t.Fatalf("m=%v: non-positive interval", m)
		}
	}
}

func TestGaugeRisesWithinTier(t *testing.T) {
	tbl := defaultTable(t)
	prev := tbl.Classify(eventIn(359.5, "x"), base)
	for m := 359.0; m > 0; m -= 0.5 {
		cur := tbl.Classify(eventIn(m, "x"), base)
		if cur.TierIndex == prev.TierIndex && cur.Gauge < prev.Gauge {
			t.Fatalf("gauge fell from %v to %v at m=%v in tier %s", prev.Gauge, cur.Gauge, m, cur.Tier)
		}
		prev = cur
	}
}

func TestLookupCoversEveryValueOnce(t *testing.T) {
	tbl := defaultTable(t)
	tiers := tbl.Tiers()
	for m := -50.0; m < 800; m += 0.1 {
		idx := tbl.Lookup(m)
		if !tiers[idx].Contains(m) {
			t.Fatalf("m=%v mapped to tier %d that does not contain it", m, idx)
		}
		for j := 0; j < idx; j++ {
			if tiers[j].Contains(m) {
				t.Fatalf("m=%v also contained by earlier tier %d", m, j)
			}
		}
	}
}

func TestNewTableRejectsBadTables(t *testing.T) {
	good := DefaultTiers()

	unboundedMiddle := DefaultTiers()
	unboundedMiddle[1].Bounded = false

	boundedLast := DefaultTiers()
	boundedLast[4].Bounded = true
	boundedLast[4].Lower = -10

	notDescending := DefaultTiers()
	notDescending[2].Lower = 120

	zeroSpan := DefaultTiers()
	zeroSpan[1].Gauge.Span = 0

	noInterval := DefaultTiers()
	noInterval[0].Interval = 0

	tests := []struct {
		name  string
		tiers []Tier
		idle  Idle
		ok    bool
	}{
		{"default", good, DefaultIdle(), true},
		{"empty", nil, DefaultIdle(), false},
		{"zero idle interval", good, Idle{}, false},
		{"unbounded middle", unboundedMiddle, DefaultIdle(), false},
		{"bounded last", boundedLast, DefaultIdle(), false},
		{"not descending", notDescending, DefaultIdle(), false},
		{"zero span", zeroSpan, DefaultIdle(), false},
		{"missing interval", noInterval, DefaultIdle(), false},
	}
	for _, tt := range tests {
		_, err := NewTable(tt.tiers, tt.idle)
		if (err == nil) != tt.ok {
			t.Errorf("%s: err = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestTableFromConfig(t *testing.T) {
	tbl, err := TableFromConfig(config.CountdownConfig{IdleIntervalSeconds: 600, IdleLabel: "Free"})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if len(tbl.Tiers()) != 5 || tbl.IdleInterval() != 10*time.Minute {
		t.Errorf("defaults not applied: %d tiers, idle %v", len(tbl.Tiers()), tbl.IdleInterval())
	}
	if got := tbl.Classify(nil, base).Spec.Label; got != "Free" {
		t.Errorf("idle label = %q", got)
	}

	thirty := 30.0
	tbl, err = TableFromConfig(config.CountdownConfig{
		IdleIntervalSeconds: 300,
		Tiers: []config.TierConfig{
			{Name: "later", AboveMinutes: &thirty, Inclusive: true, GaugeMode: "fixed", IntervalSeconds: 120, Unit: " Min"},
			{Name: "now", GaugeMode: "Countdown", GaugeSpan: 30, BacklightMode: "ramp", BacklightSpan: 30, BacklightBlue: 50},
		},
	})
	if err != nil {
		t.Fatalf("custom: %v", err)
	}
	r := tbl.Classify(eventIn(15, "x"), base)
	if r.Tier != "now" || !approx(r.Gauge, 50) || !approx(r.Backlight.R, 50) || r.Backlight.B != 50 {
		t.Errorf("custom classify = %+v", r)
	}
	if r.Interval != 5*time.Minute {
		t.Errorf("last tier should use idle interval, got %v", r.Interval)
	}
	if r := tbl.Classify(eventIn(30, "x"), base); r.Tier != "later" || r.Interval != 2*time.Minute {
		t.Errorf("inclusive bound: %+v", r)
	}

	_, err = TableFromConfig(config.CountdownConfig{
		Tiers: []config.TierConfig{{Name: "x", GaugeMode: "sideways"}},
	})
	if err == nil {
		t.Error("unknown gauge mode accepted")
	}
}
