// Package siem implements the arbiter's outbound SIEM enrichment client:
// a single HTTP request per kill report, with a strict no-op fallback so a
// degraded SIEM never blocks the decision pipeline.
package siem

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/medic/arbiter/pkg/models"
)

const (
	maxRecommendationBytes = 1024
	defaultTimeout         = 5 * time.Second
)

// Client enriches kill reports via a SIEM's /query endpoint. The zero
// value is not usable; construct with New.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *slog.Logger

	authHeader string // precomputed Authorization header value, if any
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client, primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New constructs a SIEM client reading credentials from the environment,
// per spec §4.3 ("Credentials are read from environment only").
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		log:        slog.With("component", "siem-client"),
	}
	c.authHeader = resolveAuthHeader()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func resolveAuthHeader() string {
	if token := os.Getenv("SIEM_TOKEN"); token != "" {
		return "Bearer " + token
	}
	user, pass := os.Getenv("SIEM_USERNAME"), os.Getenv("SIEM_PASSWORD")
	if user != "" && pass != "" {
		req, _ := http.NewRequest(http.MethodGet, "http://unused", nil)
		req.SetBasicAuth(user, pass)
		return req.Header.Get("Authorization")
	}
	return ""
}

type queryRequest struct {
	KillID       string `json:"kill_id"`
	TargetModule string `json:"target_module"`
	WindowHours  int    `json:"window_hours"`
}

type queryResponse struct {
	RiskScore            float64 `json:"risk_score"`
	FalsePositiveHistory int     `json:"false_positive_history"`
	Recommendation       string  `json:"recommendation"`
}

// Enrich queries the SIEM for a risk assessment of kr. It never returns an
// error: on timeout, network failure, 5xx, or any 4xx other than 429, it
// logs a structured warning and returns the no-op sentinel. On 429 it
// backs off once (Retry-After if present, else a fixed short delay) before
// falling back.
func (c *Client) Enrich(ctx context.Context, kr models.KillReport, deadline time.Duration) models.SIEMResult {
	if c.baseURL == "" {
		return models.NoOpSIEMResult()
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result, ok, retry := c.query(ctx, kr)
	if ok {
		return result
	}
	if retry {
		result, ok, _ = c.query(ctx, kr)
		if ok {
			return result
		}
	}

	return models.NoOpSIEMResult()
}

// query issues one SIEM request. ok is true only on a well-formed 2xx
// response. retry is true only for 429, the single case spec §4.3 allows
// the caller to retry once (after backing off) before falling back to the
// no-op sentinel.
func (c *Client) query(ctx context.Context, kr models.KillReport) (result models.SIEMResult, ok bool, retry bool) {
	body, err := json.Marshal(queryRequest{
		KillID:       kr.KillID,
		TargetModule: kr.TargetModule,
		WindowHours:  24,
	})
	if err != nil {
		c.log.Warn("failed to marshal siem query", "kill_id", kr.KillID, "error", err)
		return models.SIEMResult{}, false, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		c.log.Warn("failed to build siem request", "kill_id", kr.KillID, "error", err)
		return models.SIEMResult{}, false, false
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("siem request failed", "kill_id", kr.KillID, "error", err)
		return models.SIEMResult{}, false, false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		sleepRetryAfter(ctx, resp.Header.Get("Retry-After"))
		return models.SIEMResult{}, false, true

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.log.Warn("siem rejected request", "kill_id", kr.KillID, "status", resp.StatusCode)
		return models.SIEMResult{}, false, false

	case resp.StatusCode >= 500:
		c.log.Warn("siem server error", "kill_id", kr.KillID, "status", resp.StatusCode)
		return models.SIEMResult{}, false, false
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Warn("failed to read siem response", "kill_id", kr.KillID, "error", err)
		return models.SIEMResult{}, false, false
	}

	var out queryResponse
	if err := json.Unmarshal(data, &out); err != nil {
		c.log.Warn("failed to decode siem response", "kill_id", kr.KillID, "error", err)
		return models.SIEMResult{}, false, false
	}

	return models.SIEMResult{
		RiskScore:            clampUnit(out.RiskScore),
		FalsePositiveHistory: max(0, out.FalsePositiveHistory),
		Recommendation:       truncate(out.Recommendation, maxRecommendationBytes),
	}, true, false
}

func sleepRetryAfter(ctx context.Context, header string) {
	delay := time.Second
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
		}
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes]
}
