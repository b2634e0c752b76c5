package tracechecksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal tracecheck HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Event is one trace record submitted for validation.
type Event struct {
	Kind      string         `json:"kind"`
	Timestamp float64        `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// RuleResult is one rule's verdict within a report.
type RuleResult struct {
	RuleName      string   `json:"rule_name"`
	Category      string   `json:"category"`
	Passed        bool     `json:"passed"`
	Message       string   `json:"message"`
	MeasuredValue *float64 `json:"measured_value,omitempty"`
}

// Report mirrors the canonical report shape.
type Report struct {
	Level       string       `json:"validation_level"`
	TotalRules  int          `json:"total_rules"`
	PassedRules int          `json:"passed_rules"`
	FailedRules int          `json:"failed_rules"`
	SuccessRate float64      `json:"success_rate"`
	Results     []RuleResult `json:"results"`
}

// Run summarizes a recorded validation run.
type Run struct {
	ID          string  `json:"id"`
	CreatedAt   string  `json:"created_at"`
	Level       string  `json:"level"`
	TraceSource string  `json:"trace_source,omitempty"`
	TraceEvents int     `json:"trace_events"`
	TotalRules  int     `json:"total_rules"`
	PassedRules int     `json:"passed_rules"`
	FailedRules int     `json:"failed_rules"`
	SuccessRate float64 `json:"success_rate"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Validate submits a trace for validation and returns the run id and report.
func (c *Client) Validate(ctx context.Context, events []Event, level, traceSource string) (string, Report, error) {
	body := map[string]any{
		"level":        level,
		"trace_source": traceSource,
		"events":       events,
	}
	var resp struct {
		RunID  string `json:"run_id"`
		Report Report `json:"report"`
	}
	err := c.do(ctx, http.MethodPost, "v1/validations", body, &resp)
	return resp.RunID, resp.Report, err
}

// Runs lists recorded runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]Run, error) {
	endpoint := "v1/runs"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Run
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Run fetches one run with its full report.
func (c *Client) Run(ctx context.Context, id string) (Run, Report, error) {
	var resp struct {
		Run    Run    `json:"run"`
		Report Report `json:"report"`
	}
	endpoint := fmt.Sprintf("v1/runs/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Run, resp.Report, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
