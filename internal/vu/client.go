// Package vu talks to a local VU-Server, which owns the physical dials.
package vu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appLog "github.com/Shy/vu-consumer/internal/log"
)

// DefaultBaseURL is where VU-Server listens out of the box.
const DefaultBaseURL = "http://localhost:5340"

// ErrNoDials is returned when the server reports no connected dials.
var ErrNoDials = errors.New("vu: no dials connected")

// APIError is a non-OK HTTP status or a "fail" envelope from VU-Server.
type APIError struct {
	Op      string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("vu %s: status %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("vu %s: %s", e.Op, e.Message)
}

// Dial is one entry of /api/v0/dial/list.
type Dial struct {
	UID       string `json:"uid"`
	Name      string `json:"dial_name"`
	ImageFile string `json:"image_file,omitempty"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client is a small VU-Server REST client. It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	key     string
	http    *http.Client
}

// New returns a client for baseURL authenticating with key. A nil
// httpClient gets a 10s timeout.
func New(baseURL, key string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("vu: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("vu: base url %q must be absolute", baseURL)
	}
	if key == "" {
		return nil, errors.New("vu: api key is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: u, key: key, http: httpClient}, nil
}

// ListDials returns the dials VU-Server knows about, in its order.
func (c *Client) ListDials(ctx context.Context) ([]Dial, error) {
	data, err := c.get(ctx, "list dials", "/api/v0/dial/list", nil)
	if err != nil {
		return nil, err
	}
	var dials []Dial
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &dials); err != nil {
			return nil, fmt.Errorf("vu list dials: decode: %w", err)
		}
	}
	return dials, nil
}

// SetValue moves the needle. value is clamped to 0-100 and rounded.
func (c *Client) SetValue(ctx context.Context, dialID string, value float64) error {
	q := url.Values{"value": {strconv.Itoa(percent(value))}}
	_, err := c.get(ctx, "set value", dialPath(dialID, "set"), q)
	return err
}

// SetBacklight sets the RGB backlight, each channel 0-100.
func (c *Client) SetBacklight(ctx context.Context, dialID string, red, green, blue float64) error {
	q := url.Values{
		"red":   {strconv.Itoa(percent(red))},
		"green": {strconv.Itoa(percent(green))},
		"blue":  {strconv.Itoa(percent(blue))},
	}
	_, err := c.get(ctx, "set backlight", dialPath(dialID, "backlight"), q)
	return err
}

// SetImage uploads a PNG face as multipart field "imgfile".
func (c *Client) SetImage(ctx context.Context, dialID string, png []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("imgfile", dialID+".png")
	if err != nil {
		return fmt.Errorf("vu set image: %w", err)
	}
	if _, err := fw.Write(png); err != nil {
		return fmt.Errorf("vu set image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("vu set image: %w", err)
	}

	u := c.endpoint(dialPath(dialID, "image/set"), url.Values{"imgfile": {dialID + ".png"}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return fmt.Errorf("vu set image: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	_, err = c.do(req, "set image")
	return err
}

// FirstDials returns the UIDs at positions 0 and 1 of the dial list; a
// missing position yields "".
func (c *Client) FirstDials(ctx context.Context) (first, second string, err error) {
	dials, err := c.ListDials(ctx)
	if err != nil {
		return "", "", err
	}
	if len(dials) == 0 {
		return "", "", ErrNoDials
	}
	first = dials[0].UID
	if len(dials) > 1 {
		second = dials[1].UID
	}
	appLog.Info("vu dials discovered", "count", len(dials), "first", first, "second", second)
	return first, second, nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, q), nil)
	if err != nil {
		return nil, fmt.Errorf("vu %s: create request: %w", op, err)
	}
	return c.do(req, op)
}

func (c *Client) do(req *http.Request, op string) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vu %s: %w", op, redact(err, c.key))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("vu %s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		var env envelope
		if json.Unmarshal(body, &env) == nil && env.Message != "" {
			msg = env.Message
		}
		return nil, &APIError{Op: op, Code: resp.StatusCode, Message: msg}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("vu %s: decode response: %w", op, err)
	}
	if !strings.EqualFold(env.Status, "ok") {
		return nil, &APIError{Op: op, Message: env.Message}
	}
	return env.Data, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q == nil {
		q = url.Values{}
	}
	q.Set("key", c.key)
	u.RawQuery = q.Encode()
	return u.String()
}

func dialPath(dialID, action string) string {
	return "/api/v0/dial/" + dialID + "/" + action
}

func percent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

// redact keeps the API key out of transport errors, which embed the URL.
func redact(err error, key string) error {
	msg := err.Error()
	escaped := url.QueryEscape(key)
	if key == "" || !strings.Contains(msg, escaped) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, escaped, "REDACTED"))
}
