package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//vu-consumer//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"DTSTART:20250303T150000Z\r\n" +
	"DTEND:20250303T151500Z\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"EXDATE:20250304T150000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"RECURRENCE-ID:20250305T150000Z\r\n" +
	"DTSTART:20250305T160000Z\r\n" +
	"DTEND:20250305T161500Z\r\n" +
	"SUMMARY:Standup (moved)\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"RECURRENCE-ID:20250306T150000Z\r\n" +
	"DTSTART:20250306T150000Z\r\n" +
	"DTEND:20250306T151500Z\r\n" +
	"STATUS:CANCELLED\r\n" +
	"SUMMARY:Standup\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:lunch\r\n" +
	"DTSTART:20250303T170000Z\r\n" +
	"DTEND:20250303T180000Z\r\n" +
	"SUMMARY:Lunch\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday\r\n" +
	"DTSTART;VALUE=DATE:20250307\r\n" +
	"DTEND;VALUE=DATE:20250308\r\n" +
	"SUMMARY:Holiday\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func utc(day, hour, min int) time.Time {
	return time.Date(2025, 3, day, hour, min, 0, 0, time.UTC)
}

func TestParseAndExpand(t *testing.T) {
	src := Source{ID: "team", URL: "https://example.com/team.ics"}
	parsed, err := Parse(src, []byte(sampleICS), time.UTC)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(parsed) != 5 {
		t.Fatalf("Parse() returned %d events, want 5", len(parsed))
	}

	got, err := Expand("team", parsed, Window{Start: utc(3, 0, 0), End: utc(10, 0, 0)})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	want := []struct {
		summary string
		start   time.Time
	}{
		{"Standup", utc(3, 15, 0)},
		{"Lunch", utc(3, 17, 0)},
		{"Standup (moved)", utc(5, 16, 0)},
		{"Holiday", utc(7, 0, 0)},
		{"Standup", utc(7, 15, 0)},
	}
	if len(got) != len(want) {
		for _, ev := range got {
			t.Logf("got %s @ %s", ev.Summary, ev.Start)
		}
		t.Fatalf("Expand() returned %d instances, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Summary != w.summary || !got[i].Start.Equal(w.start) {
			t.Errorf("instance %d = %q @ %s, want %q @ %s", i, got[i].Summary, got[i].Start, w.summary, w.start)
		}
		if got[i].CalendarID != "team" {
			t.Errorf("instance %d CalendarID = %q", i, got[i].CalendarID)
		}
		if got[i].Start.Location() != time.UTC {
			t.Errorf("instance %d start not normalized to UTC", i)
		}
	}
	if !got[3].AllDay {
		t.Error("holiday should be all-day")
	}
}

func TestUpcomingIncludesInProgress(t *testing.T) {
	parsed, err := Parse(Source{ID: "team"}, []byte(sampleICS), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	now := utc(3, 15, 5)
	expanded, err := Expand("team", parsed, Window{Start: now.Add(-24 * time.Hour), End: now.Add(7 * 24 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}

	win := Upcoming(expanded, now, 2)
	if len(win) != 2 {
		t.Fatalf("Upcoming() len = %d, want 2", len(win))
	}
	if win[0].Summary != "Standup" || !win[0].Start.Equal(utc(3, 15, 0)) {
		t.Errorf("first = %q @ %s, want in-progress standup", win[0].Summary, win[0].Start)
	}
	if win[1].Summary != "Lunch" {
		t.Errorf("second = %q, want Lunch", win[1].Summary)
	}
}

func TestParseEmptyBody(t *testing.T) {
	if _, err := Parse(Source{ID: "x"}, nil, nil); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestFetcherUsesETagCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleICS))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(srv.Client(), t.TempDir())
	src := Source{ID: "team", URL: srv.URL + "/private/abc.ics"}

	first, err := f.Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}
	if first.FromCache {
		t.Error("first fetch should not come from cache")
	}

	second, err := f.Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if !second.FromCache || string(second.Body) != sampleICS {
		t.Errorf("second fetch FromCache=%v, body len %d", second.FromCache, len(second.Body))
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
}

func TestFetcherStatusErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		if code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write([]byte(sampleICS))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(srv.Client(), t.TempDir())
	src := Source{ID: "team", URL: srv.URL + "/team.ics"}
	if _, err := f.Fetch(context.Background(), src); err != nil {
		t.Fatalf("priming Fetch() error = %v", err)
	}

	status.Store(http.StatusBadGateway)
	res, err := f.Fetch(context.Background(), src)
	if err != nil || !res.FromCache {
		t.Errorf("5xx with cache: FromCache=%v err=%v, want cached body", res.FromCache, err)
	}

	status.Store(http.StatusForbidden)
	_, err = f.Fetch(context.Background(), src)
	var serr *StatusError
	if !errors.As(err, &serr) || !serr.Unauthorized() {
		t.Fatalf("403: err = %v, want unauthorized StatusError", err)
	}
}

func TestRedactURL(t *testing.T) {
	got := RedactURL("https://calendar.example.com/private-abc123/basic.ics?token=x")
	if got != "https://calendar.example.com/...(redacted)" {
		t.Errorf("RedactURL() = %q", got)
	}
	if strings.Contains(RedactURL("not a url"), "not a url") {
		t.Error("unparseable URL leaked into redacted output")
	}
}
