package model

import (
	"testing"
	"time"
)

func TestEventWindowCandidate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(min int) Event {
		return Event{Start: now.Add(time.Duration(min) * time.Minute)}
	}

	tests := []struct {
		name   string
		window EventWindow
		want   Event
		wantOK bool
	}{
		{name: "empty", window: nil, wantOK: false},
		{name: "single future", window: EventWindow{at(30)}, want: at(30), wantOK: true},
		{name: "single started", window: EventWindow{at(-5)}, want: at(-5), wantOK: true},
		{name: "starting exactly now is started", window: EventWindow{at(0), at(45)}, want: at(45), wantOK: true},
		{name: "first started second future", window: EventWindow{at(-10), at(20)}, want: at(20), wantOK: true},
		{name: "both future", window: EventWindow{at(5), at(20)}, want: at(5), wantOK: true},
		{name: "both started falls back to last", window: EventWindow{at(-30), at(-1)}, want: at(-1), wantOK: true},
		{name: "scan past several started", window: EventWindow{at(-30), at(-20), at(-1), at(15)}, want: at(15), wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.window.Candidate(now)
			if ok != tt.wantOK {
				t.Fatalf("Candidate() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Start.Equal(tt.want.Start) {
				t.Errorf("Candidate() start = %v, want %v", got.Start, tt.want.Start)
			}
		})
	}
}

func TestMinutesUntil(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := Event{Start: now.Add(90 * time.Second)}
	if got := ev.MinutesUntil(now); got != 1.5 {
		t.Errorf("MinutesUntil = %v, want 1.5", got)
	}
	if ev.Started(now) {
		t.Error("future event reported as started")
	}
	if !ev.Started(ev.Start) {
		t.Error("event starting now should count as started")
	}
}
