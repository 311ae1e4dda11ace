package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/verte-zerg/proctor/internal/model"
)

// Client talks to the report service. It implements the session registrar
// and submits finished reports.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// StartSession registers a new session with the service.
func (c *Client) StartSession(ctx context.Context, sessionID, candidateName string) error {
	body := map[string]string{
		"session_id":     sessionID,
		"candidate_name": candidateName,
	}
	return c.post(ctx, "/api/session/start", body, nil)
}

// EndSession reports the session end and returns the service's advisory
// integrity score.
func (c *Client) EndSession(ctx context.Context, sessionID string) (int, error) {
	var resp struct {
		IntegrityScore int `json:"integrity_score"`
	}
	if err := c.post(ctx, "/api/session/"+sessionID+"/end", nil, &resp); err != nil {
		return 0, err
	}
	return resp.IntegrityScore, nil
}

// SubmitReport uploads a finished report for persistence.
func (c *Client) SubmitReport(ctx context.Context, rep model.Report) error {
	return c.post(ctx, "/api/session/"+rep.SessionID+"/report", rep, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach report service: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			// Best-effort body close.
			_ = cerr
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("report service: %s (%s)", apiErr.Error, resp.Status)
		}
		return fmt.Errorf("report service: unexpected status %s", resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
