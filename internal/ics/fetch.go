package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "github.com/Shy/vu-consumer/internal/log"
)

// Source is a single ICS subscription.
type Source struct {
	// ID is the configured calendar ID used in logs and events.
	ID  string
	URL string
}

// FetchResult is the payload for one source, fresh or from disk cache.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

// StatusError is returned when the feed answers with a non-OK status and
// no cached copy can stand in for it.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "ics: upstream returned " + e.Status
}

// Unauthorized reports whether the feed rejected our credentials, which
// for private ICS links usually means the secret URL was revoked.
func (e *StatusError) Unauthorized() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// cacheMeta is persisted next to each cached body.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads ICS feeds with conditional requests and a per-URL disk
// cache. An empty cache dir disables caching.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher. client may be nil.
func NewFetcher(client *http.Client, cacheDir string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Fetch retrieves src, honoring ETag/Last-Modified. Network failures and
// non-OK answers fall back to the cached body when one exists; auth
// rejections never do, so revoked feeds surface to the operator.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("ics: source URL is empty")
	}

	cachePath := f.cachePath(src.URL)
	var meta cacheMeta
	var cached []byte
	if cachePath != "" {
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			appLog.Error("ics cache dir unavailable", err, "id", src.ID)
			cachePath = ""
		} else {
			meta, _ = loadMeta(cachePath)
			cached, _ = os.ReadFile(filepath.Join(cachePath, "body.ics"))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", RedactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 && ctx.Err() == nil {
			appLog.Error("ics fetch network error, using cached body", err, "id", src.ID, "url", RedactURL(src.URL))
			return FetchResult{Source: src, Body: cached, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("ics: fetch %s: %w", src.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, fmt.Errorf("ics: read %s: %w", src.ID, err)
		}
		if cachePath != "" {
			newMeta := cacheMeta{
				URL:          src.URL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(cachePath, newMeta, body); err != nil {
				appLog.Error("ics cache save failed", err, "id", src.ID)
			}
		}
		appLog.Debug("ics fetch success", "id", src.ID, "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case resp.StatusCode == http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("ics: 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID)
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil

	default:
		serr := &StatusError{Code: resp.StatusCode, Status: resp.Status}
		if len(cached) > 0 && !serr.Unauthorized() {
			appLog.Error("ics fetch non-OK, using cached body", serr, "id", src.ID, "url", RedactURL(src.URL))
			return FetchResult{Source: src, Body: cached, FromCache: true}, nil
		}
		return FetchResult{}, serr
	}
}

func (f *Fetcher) cachePath(u string) string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(cachePath string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

func saveCache(cachePath string, meta cacheMeta, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// RedactURL keeps only scheme and host; private ICS links carry their
// secret in the path or query.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
