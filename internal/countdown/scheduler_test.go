package countdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Shy/vu-consumer/internal/model"
	"github.com/Shy/vu-consumer/internal/render"
)

type fakeSink struct {
	mu       sync.Mutex
	images   int
	values   []float64
	lights   []Backlight
	imageErr error
}

func (f *fakeSink) SetImage(_ context.Context, _ string, png []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.imageErr != nil {
		return f.imageErr
	}
	f.images++
	return nil
}

func (f *fakeSink) SetValue(_ context.Context, _ string, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = append(f.values, v)
	return nil
}

func (f *fakeSink) SetBacklight(_ context.Context, _ string, r, g, b float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lights = append(f.lights, Backlight{R: r, G: g, B: b})
	return nil
}

func (f *fakeSink) counts() (images, values int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images, len(f.values)
}

type countingRenderer struct {
	mu    sync.Mutex
	specs []render.Spec
}

func (c *countingRenderer) Render(spec render.Spec) ([]byte, error) {
	c.mu.Lock()
	c.specs = append(c.specs, spec)
	c.mu.Unlock()
	return []byte("png:" + spec.Label), nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestScheduler(t *testing.T, src *fakeSource, ids []string, tbl *Table) (*Scheduler, *fakeSink, *countingRenderer, *clock) {
	t.Helper()
	if tbl == nil {
		tbl = defaultTable(t)
	}
	sink := &fakeSink{}
	rend := &countingRenderer{}
	clk := &clock{now: base}
	s, err := NewScheduler(Options{
		Selector: NewSelector(src, ids, SelectorOptions{}),
		Table:    tbl,
		Renderer: rend,
		Sink:     sink,
		DialID:   "dial-1",
		Now:      clk.Now,
	})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	return s, sink, rend, clk
}

func TestCyclePushesClassifiedEvent(t *testing.T) {
	src := &fakeSource{windows: map[string]model.EventWindow{"a": {at(5, "Standup")}}}
	s, sink, _, _ := newTestScheduler(t, src, []string{"a"}, nil)

	rep := s.Cycle(context.Background())
	if rep.Status != StatusFound || rep.CycleID == "" {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Next != 30*time.Second || rep.State.Interval != 30*time.Second || rep.State.LastTier != 3 {
		t.Errorf("next = %v state = %+v", rep.Next, rep.State)
	}
	if string(rep.Image) != "png:Standup" {
		t.Errorf("image = %q", rep.Image)
	}
	if sink.images != 1 || len(sink.values) != 1 || !approx(sink.values[0], 91.67) {
		t.Errorf("sink = %+v", sink)
	}
	if l := sink.lights[0]; !approx(l.R, 91.67) || l.G != 20 || l.B != 40 {
		t.Errorf("backlight = %+v", l)
	}
	if last, ok := s.Last(); !ok || last.CycleID != rep.CycleID {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
	if string(s.LastImage()) != "png:Standup" {
		t.Errorf("LastImage() = %q", s.LastImage())
	}
}

func TestCycleSkipsUnchangedImage(t *testing.T) {
	src := &fakeSource{windows: map[string]model.EventWindow{"a": {at(90, "Review")}}}
	s, sink, rend, clk := newTestScheduler(t, src, []string{"a"}, nil)

	s.Cycle(context.Background())
	clk.Advance(time.Minute)
	rep := s.Cycle(context.Background())

	if len(rend.specs) != 1 || sink.images != 1 {
		t.Errorf("face re-rendered for the same spec: renders=%d images=%d", len(rend.specs), sink.images)
	}
	if len(rep.Image) != 0 {
		t.Error("report carries an image although nothing was rendered")
	}
	if len(sink.values) != 2 || !(sink.values[1] > sink.values[0]) {
		t.Errorf("values = %v, want two rising values", sink.values)
	}

	// Dropping under an hour switches the scale to minutes.
	clk.Advance(40 * time.Minute)
	s.Cycle(context.Background())
	if len(rend.specs) != 2 || sink.images != 2 {
		t.Errorf("tier change did not push a new face: renders=%d images=%d", len(rend.specs), sink.images)
	}
}

func TestCycleRetriesImageAfterSinkError(t *testing.T) {
	src := &fakeSource{windows: map[string]model.EventWindow{"a": {at(45, "Review")}}}
	s, sink, rend, _ := newTestScheduler(t, src, []string{"a"}, nil)

	sink.imageErr = errors.New("dial offline")
	rep := s.Cycle(context.Background())
	if rep.SinkError == "" || rep.Status != StatusFound {
		t.Errorf("report = %+v", rep)
	}
	if rep.Next != time.Minute {
		t.Errorf("sink failure changed the interval: %v", rep.Next)
	}

	sink.imageErr = nil
	s.Cycle(context.Background())
	if len(rend.specs) != 2 || sink.images != 1 {
		t.Errorf("image not retried: renders=%d images=%d", len(rend.specs), sink.images)
	}
}

func TestCycleAllSourcesFailedLeavesDisplay(t *testing.T) {
	src := &fakeSource{errs: map[string]error{"a": errors.New("down"), "b": errors.New("down")}}
	s, sink, rend, _ := newTestScheduler(t, src, []string{"a", "b"}, nil)

	rep := s.Cycle(context.Background())
	if rep.Status != StatusNoop || rep.Error == "" || len(rep.Failed) != 2 {
		t.Errorf("report = %+v", rep)
	}
	if rep.Next != time.Hour {
		t.Errorf("next = %v, want idle interval", rep.Next)
	}
	if images, values := sink.counts(); images != 0 || values != 0 || len(rend.specs) != 0 {
		t.Errorf("display touched: images=%d values=%d renders=%d", images, values, len(rend.specs))
	}
	if rep.State.LastTier != -1 {
		t.Errorf("last tier = %d, want unchanged", rep.State.LastTier)
	}
}

func TestCycleNoEventsShowsIdle(t *testing.T) {
	s, sink, rend, _ := newTestScheduler(t, &fakeSource{}, []string{"a"}, nil)

	rep := s.Cycle(context.Background())
	if rep.Status != StatusIdle || rep.Event != nil {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Result.TierIndex != 4 || rep.Next != time.Hour {
		t.Errorf("result = %+v next = %v", rep.Result, rep.Next)
	}
	if len(rend.specs) != 1 || rend.specs[0].Label != "No Events" {
		t.Errorf("specs = %+v", rend.specs)
	}
	if len(sink.values) != 1 || sink.values[0] != 0 || sink.lights[0] != Off {
		t.Errorf("sink = %+v", sink)
	}
}

func TestCycleRecoversPanic(t *testing.T) {
	src := &fakeSource{panics: true}
	s, _, _, _ := newTestScheduler(t, src, []string{"a"}, nil)

	rep := s.Cycle(context.Background())
	if rep.Status != StatusNoop || rep.Error == "" || rep.Next != time.Hour {
		t.Errorf("report = %+v", rep)
	}

	src.mu.Lock()
	src.panics = false
	src.windows = map[string]model.EventWindow{"a": {at(30, "After")}}
	src.mu.Unlock()
	if rep := s.Cycle(context.Background()); rep.Status != StatusFound {
		t.Errorf("scheduler stuck after panic: %+v", rep)
	}
}

func TestCycleIsIdempotent(t *testing.T) {
	src := &fakeSource{windows: map[string]model.EventWindow{"a": {at(200, "Offsite")}}}
	s, _, _, _ := newTestScheduler(t, src, []string{"a"}, nil)

	first := s.Cycle(context.Background())
	second := s.Cycle(context.Background())
	if *first.Result != *second.Result {
		t.Errorf("results differ: %+v vs %+v", first.Result, second.Result)
	}
	if !approx(first.Result.Gauge, 44.44) || first.Next != 15*time.Minute {
		t.Errorf("result = %+v", first.Result)
	}
}

type gateSelector struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateSelector) Select(ctx context.Context, now time.Time) Selection {
	g.entered <- struct{}{}
	<-g.release
	return Selection{}
}

func TestTriggerDuringCycleIsBusy(t *testing.T) {
	gate := &gateSelector{entered: make(chan struct{}), release: make(chan struct{})}
	s, err := NewScheduler(Options{
		Selector: gate,
		Table:    defaultTable(t),
		Renderer: &countingRenderer{},
		Sink:     &fakeSink{},
		DialID:   "dial-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan Report)
	go func() { done <- s.Cycle(context.Background()) }()
	<-gate.entered

	if rep := s.Trigger(context.Background()); rep.Status != StatusBusy {
		t.Errorf("overlapping trigger = %+v, want busy", rep)
	}
	close(gate.release)
	if rep := <-done; rep.Status != StatusIdle {
		t.Errorf("first cycle = %+v", rep)
	}
}

func TestRunRearmsWithCycleInterval(t *testing.T) {
	tbl, err := NewTable([]Tier{{Name: "only", Gauge: GaugeRule{Mode: GaugeFixed, Value: 100}}},
		Idle{Interval: 10 * time.Millisecond, Label: "idle"})
	if err != nil {
		t.Fatal(err)
	}
	s, sink, _, _ := newTestScheduler(t, &fakeSource{}, []string{"a"}, tbl)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, values := sink.counts(); values >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("loop did not re-arm")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if rep := s.Trigger(context.Background()); rep.Trigger != TriggerManual || rep.Status == "" {
		t.Errorf("manual trigger while running = %+v", rep)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v", err)
	}
}

func TestRunRejectsSecondLoop(t *testing.T) {
	tbl, _ := NewTable([]Tier{{Name: "only"}}, Idle{Interval: time.Hour})
	s, _, _, _ := newTestScheduler(t, &fakeSource{}, nil, tbl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !s.running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := s.Run(ctx); err == nil {
		t.Error("second Run() succeeded")
	}
}

func TestNewSchedulerValidates(t *testing.T) {
	if _, err := NewScheduler(Options{}); err == nil {
		t.Error("empty options accepted")
	}
}
