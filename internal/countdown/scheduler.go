package countdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appLog "github.com/Shy/vu-consumer/internal/log"
	"github.com/Shy/vu-consumer/internal/model"
	"github.com/Shy/vu-consumer/internal/render"
)

// Renderer turns a dial face spec into PNG bytes.
type Renderer interface {
	Render(spec render.Spec) ([]byte, error)
}

// Sink is the display the countdown drives.
type Sink interface {
	SetImage(ctx context.Context, dialID string, png []byte) error
	SetValue(ctx context.Context, dialID string, value float64) error
	SetBacklight(ctx context.Context, dialID string, red, green, blue float64) error
}

// Status summarizes what a cycle did.
type Status string

const (
	StatusFound Status = "found" // an event was classified and pushed
	StatusIdle  Status = "idle"  // calendars answered but nothing is scheduled
	StatusNoop  Status = "noop"  // no calendar answered; display left as is
	StatusBusy  Status = "busy"  // another cycle was running
)

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
)

// State is what the scheduler carries between cycles.
type State struct {
	Interval time.Duration `json:"interval"`
	// LastTier is the tier index of the last classified cycle, -1 before
	// the first one.
	LastTier int `json:"last_tier"`
}

// Report describes one cycle.
type Report struct {
	CycleID   string        `json:"cycle_id"`
	Trigger   Trigger       `json:"trigger"`
	StartedAt time.Time     `json:"started_at"`
	Took      time.Duration `json:"took"`

	Status Status          `json:"status"`
	Event  *model.Event    `json:"event,omitempty"`
	Result *Result         `json:"result,omitempty"`
	Failed []SourceFailure `json:"failed_sources,omitempty"`

	Error     string `json:"error,omitempty"`
	SinkError string `json:"sink_error,omitempty"`

	// Next is the delay before the following timer cycle.
	Next  time.Duration `json:"next"`
	State State         `json:"state"`

	// Image is set when this cycle rendered a new face.
	Image []byte `json:"-"`
}

// Options wires a Scheduler.
type Options struct {
	Selector EventSelector
	Table    *Table
	Renderer Renderer
	Sink     Sink
	DialID   string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Scheduler runs the adaptive countdown loop for one dial: select the
// next event, classify it, push the result, and sleep for the tier's
// interval. Cycles never overlap.
type Scheduler struct {
	selector EventSelector
	table    *Table
	renderer Renderer
	sink     Sink
	dialID   string
	now      func() time.Time

	// Touched only by the goroutine holding inFlight.
	state    State
	lastSpec *render.Spec

	inFlight atomic.Bool
	running  atomic.Bool
	manual   chan chan Report

	mu        sync.RWMutex
	last      *Report
	lastImage []byte
}

// NewScheduler validates opts and returns an idle Scheduler.
func NewScheduler(opts Options) (*Scheduler, error) {
	var errs []error
	if opts.Selector == nil {
		errs = append(errs, errors.New("selector is required"))
	}
	if opts.Table == nil {
		errs = append(errs, errors.New("tier table is required"))
	}
	if opts.Renderer == nil {
		errs = append(errs, errors.New("renderer is required"))
	}
	if opts.Sink == nil {
		errs = append(errs, errors.New("sink is required"))
	}
	if opts.DialID == "" {
		errs = append(errs, errors.New("dial id is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("countdown: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		selector: opts.Selector,
		table:    opts.Table,
		renderer: opts.Renderer,
		sink:     opts.Sink,
		dialID:   opts.DialID,
		now:      now,
		state:    State{LastTier: -1},
		manual:   make(chan chan Report, 1),
	}, nil
}

// Run executes a cycle immediately and then re-arms after each cycle with
// the interval that cycle produced. Manual triggers are served on the same
// goroutine. Run returns when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("countdown: scheduler already running")
	}
	defer s.running.Store(false)

	appLog.Info("countdown scheduler started", "dial", s.dialID)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			appLog.Info("countdown scheduler stopped", "dial", s.dialID)
			return ctx.Err()
		case <-timer.C:
			rep := s.cycle(ctx, TriggerTimer)
			timer.Reset(rep.Next)
		case reply := <-s.manual:
			rep := s.cycle(ctx, TriggerManual)
			timer.Reset(rep.Next)
			reply <- rep
		}
	}
}

// Trigger runs a cycle out of band and resets the timer to its interval.
// When a cycle is already in flight the request is dropped and a busy
// report is returned. Without a running loop the cycle runs on the
// caller's goroutine.
func (s *Scheduler) Trigger(ctx context.Context) Report {
	if !s.running.Load() {
		return s.cycle(ctx, TriggerManual)
	}
	if s.inFlight.Load() {
		return s.busy(TriggerManual)
	}

	reply := make(chan Report, 1)
	select {
	case s.manual <- reply:
	default:
		return s.busy(TriggerManual)
	}

	select {
	case rep := <-reply:
		return rep
	case <-ctx.Done():
		rep := s.busy(TriggerManual)
		rep.Error = ctx.Err().Error()
		return rep
	}
}

// Cycle runs exactly one cycle synchronously. It is meant for one-shot use
// when Run is not started.
func (s *Scheduler) Cycle(ctx context.Context) Report {
	return s.cycle(ctx, TriggerManual)
}

// Last returns the most recent completed cycle.
func (s *Scheduler) Last() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// LastImage returns the last face rendered for the dial.
func (s *Scheduler) LastImage() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastImage
}

// DialID is the dial this scheduler drives.
func (s *Scheduler) DialID() string { return s.dialID }

func (s *Scheduler) busy(trigger Trigger) Report {
	next := s.table.IdleInterval()
	if last, ok := s.Last(); ok && last.Next > 0 {
		next = last.Next
	}
	return Report{
		CycleID:   uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.now(),
		Status:    StatusBusy,
		Next:      next,
	}
}

func (s *Scheduler) cycle(ctx context.Context, trigger Trigger) (rep Report) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return s.busy(trigger)
	}
	defer s.inFlight.Store(false)

	now := s.now()
	rep = Report{CycleID: uuid.NewString(), Trigger: trigger, StartedAt: now}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			appLog.Error("countdown cycle panicked", err, "cycle", rep.CycleID)
			rep.Status = StatusNoop
			rep.Error = err.Error()
			rep.Next = s.table.IdleInterval()
			s.state.Interval = rep.Next
			rep.State = s.state
		}
		rep.Took = time.Since(now)
		s.publish(rep)
	}()

	sel := s.selector.Select(ctx, now)
	rep.Failed = sel.Failed

	if sel.Err != nil {
		rep.Status = StatusNoop
		rep.Error = sel.Err.Error()
		rep.Next = s.table.IdleInterval()
		s.state.Interval = rep.Next
		rep.State = s.state
		appLog.Warn("countdown cycle skipped, no calendar reachable",
			"cycle", rep.CycleID, "next", rep.Next)
		return rep
	}

	res := s.table.Classify(sel.Event, now)
	rep.Event = sel.Event
	rep.Result = &res
	rep.Next = res.Interval
	rep.Status = StatusIdle
	if res.HasEvent {
		rep.Status = StatusFound
	}

	if err := s.push(ctx, res, &rep); err != nil {
		rep.SinkError = err.Error()
		appLog.Error("countdown display update failed", err, "cycle", rep.CycleID, "dial", s.dialID)
	}

	if s.state.LastTier != res.TierIndex {
		appLog.Info("countdown tier changed",
			"cycle", rep.CycleID, "from", s.state.LastTier, "to", res.TierIndex, "tier", res.Tier)
	}
	s.state = State{Interval: res.Interval, LastTier: res.TierIndex}
	rep.State = s.state

	kv := []any{"cycle", rep.CycleID, "trigger", trigger, "tier", res.Tier,
		"gauge", res.Gauge, "next", rep.Next}
	if sel.Event != nil {
		kv = append(kv, "event", sel.Event.Summary, "calendar", sel.Event.CalendarID,
			"minutes", res.Minutes)
	}
	appLog.Info("countdown cycle complete", kv...)
	return rep
}

// push sends the face, value and backlight. The face is re-sent only when
// its spec differs from the last one the dial accepted.
func (s *Scheduler) push(ctx context.Context, res Result, rep *Report) error {
	var errs []error

	if s.lastSpec == nil || *s.lastSpec != res.Spec {
		img, err := s.renderer.Render(res.Spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("render: %w", err))
		} else {
			rep.Image = img
			if err := s.sink.SetImage(ctx, s.dialID, img); err != nil {
				errs = append(errs, fmt.Errorf("set image: %w", err))
				s.lastSpec = nil
			} else {
				spec := res.Spec
				s.lastSpec = &spec
			}
		}
	}

	if err := s.sink.SetValue(ctx, s.dialID, res.Gauge); err != nil {
		errs = append(errs, fmt.Errorf("set value: %w", err))
	}
	bl := res.Backlight
	if err := s.sink.SetBacklight(ctx, s.dialID, bl.R, bl.G, bl.B); err != nil {
		errs = append(errs, fmt.Errorf("set backlight: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Scheduler) publish(rep Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := rep
	s.last = &r
	if len(rep.Image) > 0 {
		s.lastImage = rep.Image
	}
}
