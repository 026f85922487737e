package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Verdicts returned by the moderation service.
const (
	VerdictPassed        = "passed"
	VerdictPossibleAbuse = "possible_abuse"
)

// Client checks job manifests against the content moderation service.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type reviewRequest struct {
	JobID       string `json:"job_id"`
	ManifestURL string `json:"manifest_url"`
}

type reviewResponse struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason,omitempty"`
}

// Review submits a job's manifest for moderation and returns the verdict.
// Any failure is returned as an error so the job stays under_moderation for
// the next cron pass.
func (c *Client) Review(ctx context.Context, jobID, manifestURL string) (verdict, reason string, err error) {
	body, err := json.Marshal(reviewRequest{JobID: jobID, ManifestURL: manifestURL})
	if err != nil {
		return "", "", fmt.Errorf("marshal review request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/review", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("create review request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("moderation review for %s: %w", jobID, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("moderation review for %s returned %d", jobID, resp.StatusCode)
	}

	var rr reviewResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", "", fmt.Errorf("decode review response: %w", err)
	}

	switch rr.Verdict {
	case VerdictPassed, VerdictPossibleAbuse:
		return rr.Verdict, rr.Reason, nil
	default:
		return "", "", fmt.Errorf("moderation returned unknown verdict %q", rr.Verdict)
	}
}
