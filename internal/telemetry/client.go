package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"silowatch/internal/silo"
	logx "silowatch/pkg/logx"
)

const defaultBaseURL = "https://api.thingspeak.com"

var (
	// ErrEmptyFeed means the channel exists but has no entries yet.
	ErrEmptyFeed = errors.New("telemetry: feed is empty")
)

// StatusError is returned for non-200 responses from the feed API.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("telemetry: upstream returned status %d", e.Code)
}

// ValidationError marks a feed entry the pipeline must reject rather than
// retry: required fields missing or unparseable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("telemetry: invalid feed entry: %s: %s", e.Field, e.Reason)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client polls the upstream feed API for the latest entry of a channel.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		baseURL: base,
		httpc:   &http.Client{Timeout: timeout},
		log:     log,
	}
}

// feedResponse mirrors the channels/<id>/feeds.json payload. Field values
// arrive as strings or null.
type feedResponse struct {
	Feeds []feedEntry `json:"feeds"`
}

type feedEntry struct {
	CreatedAt string  `json:"created_at"`
	EntryID   int     `json:"entry_id"`
	Field1    *string `json:"field1"` // temperature, °C
	Field2    *string `json:"field2"` // relative humidity, %
	Field3    *string `json:"field3"` // CO2 estimate, ppm
	Field4    *string `json:"field4"` // raw MQ-2 gas sensor
	Field5    *string `json:"field5"` // luminosity alert flag
	Field6    *string `json:"field6"` // lux
}

// FetchLatest retrieves the newest feed entry for a channel and maps it to
// a Reading. The caller assigns SiloID and ID.
func (c *Client) FetchLatest(ctx context.Context, channelID int, readKey string) (*silo.Reading, error) {
	url := fmt.Sprintf("%s/channels/%d/feeds.json?results=1", c.baseURL, channelID)
	if readKey != "" {
		url += "&api_key=" + readKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemetry: fetch channel %d: %w", channelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var fr feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, &ValidationError{Field: "body", Reason: err.Error()}
	}
	if len(fr.Feeds) == 0 {
		return nil, ErrEmptyFeed
	}
	return mapEntry(&fr.Feeds[0])
}

func mapEntry(f *feedEntry) (*silo.Reading, error) {
	ts, err := parseFeedTime(f.CreatedAt)
	if err != nil {
		return nil, &ValidationError{Field: "created_at", Reason: err.Error()}
	}

	temp, ok := parseFloatField(f.Field1)
	if !ok {
		return nil, &ValidationError{Field: "field1", Reason: "temperature missing or not numeric"}
	}
	rh, ok := parseFloatField(f.Field2)
	if !ok {
		return nil, &ValidationError{Field: "field2", Reason: "humidity missing or not numeric"}
	}

	r := &silo.Reading{
		Timestamp: ts,
		TempC:     temp,
		RHPct:     rh,
	}

	// Optional sensors: tolerate absent or malformed values.
	if v, ok := parseFloatField(f.Field3); ok {
		r.CO2PPMEst = &v
	}
	if v, ok := parseIntField(f.Field4); ok {
		r.MQ2Raw = &v
	}
	if v, ok := parseIntField(f.Field5); ok {
		r.LuminosityAlert = &v
	}
	if v, ok := parseFloatField(f.Field6); ok {
		r.Lux = &v
	}
	return r, nil
}

func parseFeedTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errors.New("missing")
	}
	// The feed emits "2006-01-02T15:04:05Z"; accept any RFC3339 variant.
	return time.Parse(time.RFC3339, s)
}

func parseFloatField(p *string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseIntField(p *string) (int, bool) {
	if p == nil {
		return 0, false
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		// Some firmware writes flags as "1.0".
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, false
		}
		return int(f), true
	}
	return v, true
}
