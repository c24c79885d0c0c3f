// Package weather drives the temperature dial from the US National Weather
// Service forecast API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public NWS API.
const DefaultBaseURL = "https://api.weather.gov"

// DefaultUserAgent identifies us to api.weather.gov, which rejects
// anonymous clients.
const DefaultUserAgent = "vu-consumer (github.com/Shy/vu-consumer)"

// ErrNoPeriods means the forecast came back without any periods.
var ErrNoPeriods = errors.New("weather: forecast has no periods")

// Location is a resolved NWS grid point.
type Location struct {
	ForecastURL string `json:"forecast_url"`
	City        string `json:"city"`
	State       string `json:"state"`
}

// Period is one forecast period.
type Period struct {
	Name            string    `json:"name"`
	StartTime       time.Time `json:"startTime"`
	Temperature     float64   `json:"temperature"`
	TemperatureUnit string    `json:"temperatureUnit"`
	ShortForecast   string    `json:"shortForecast"`
}

// Client is a minimal api.weather.gov client.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient returns a client. Empty arguments take the defaults.
func NewClient(baseURL, userAgent string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), userAgent: userAgent, http: httpClient}
}

// Resolve maps a lat/lon pair to its forecast URL and nearest city.
func (c *Client) Resolve(ctx context.Context, lat, lon string) (Location, error) {
	var doc struct {
		Properties struct {
			Forecast         string `json:"forecast"`
			RelativeLocation struct {
				Properties struct {
					City  string `json:"city"`
					State string `json:"state"`
				} `json:"properties"`
			} `json:"relativeLocation"`
		} `json:"properties"`
	}
	u := fmt.Sprintf("%s/points/%s,%s", c.baseURL, strings.TrimSpace(lat), strings.TrimSpace(lon))
	if err := c.getJSON(ctx, u, &doc); err != nil {
		return Location{}, fmt.Errorf("weather: resolve %s,%s: %w", lat, lon, err)
	}
	if doc.Properties.Forecast == "" {
		return Location{}, fmt.Errorf("weather: resolve %s,%s: no forecast url", lat, lon)
	}
	rel := doc.Properties.RelativeLocation.Properties
	return Location{ForecastURL: doc.Properties.Forecast, City: rel.City, State: rel.State}, nil
}

// Current returns the first forecast period.
func (c *Client) Current(ctx context.Context, forecastURL string) (Period, error) {
	var doc struct {
		Properties struct {
			Periods []Period `json:"periods"`
		} `json:"properties"`
	}
	if err := c.getJSON(ctx, forecastURL, &doc); err != nil {
		return Period{}, fmt.Errorf("weather: forecast: %w", err)
	}
	if len(doc.Properties.Periods) == 0 {
		return Period{}, ErrNoPeriods
	}
	return doc.Properties.Periods[0], nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
