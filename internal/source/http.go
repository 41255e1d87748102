// Package source implements fetch clients for pull-only external telemetry
// systems consumed by the poller.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sentinelstack/sentinel-ingest/internal/models"
	"github.com/sentinelstack/sentinel-ingest/internal/utils"
)

// Client fetches events from a JSON-over-HTTP telemetry aggregation API.
type Client struct {
	id         string
	baseURL    string
	eventsPath string
	token      string
	httpClient *http.Client
}

// NewClient constructs a source client. token, when set, is sent as a bearer
// credential.
func NewClient(id, baseURL, eventsPath, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		eventsPath: eventsPath,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ID returns the logical source identifier.
func (c *Client) ID() string { return c.id }

// FetchEvents queries the source for events inside [start, end], preserving
// the order the source returns. Network and non-200 failures surface as
// transient errors so the poller applies its backoff policy.
func (c *Client) FetchEvents(ctx context.Context, start, end time.Time) ([]models.TelemetryEvent, error) {
	if c.baseURL == "" {
		return nil, utils.E(utils.KindTransient, "source.fetch", "base URL not configured", nil)
	}

	payload := map[string]any{
		"source_id": c.id,
		"start":     start.Format(time.RFC3339),
		"end":       end.Format(time.RFC3339),
	}

	var response struct {
		Events []struct {
			ServiceName string            `json:"service_name"`
			Severity    string            `json:"severity"`
			Message     string            `json:"message"`
			Timestamp   time.Time         `json:"timestamp"`
			Metadata    map[string]string `json:"metadata"`
			Owner       string            `json:"owner"`
		} `json:"events"`
	}

	if err := c.postJSON(ctx, c.eventsURL(), payload, &response); err != nil {
		return nil, utils.E(utils.KindTransient, "source.fetch", "events request failed", err)
	}

	events := make([]models.TelemetryEvent, 0, len(response.Events))
	for _, raw := range response.Events {
		severity, err := models.ParseSeverity(raw.Severity)
		if err != nil {
			severity = models.SeverityInfo
		}
		events = append(events, models.TelemetryEvent{
			SourceID:    c.id,
			ServiceName: raw.ServiceName,
			Severity:    severity,
			Message:     raw.Message,
			Timestamp:   raw.Timestamp,
			Metadata:    raw.Metadata,
			Owner:       raw.Owner,
		})
	}
	return events, nil
}

func (c *Client) eventsURL() string { return c.resolvePath(c.eventsPath) }

func (c *Client) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
