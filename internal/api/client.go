package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrJobNotFound means the status endpoint no longer resolves the job
// (expired server-side or never existed).
var ErrJobNotFound = errors.New("job not found")

// envelope is the API's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type SubmitData struct {
	JobID   string `json:"jobId"`
	VideoID string `json:"videoId"`
}

type StatusData struct {
	State        string          `json:"state"`
	Progress     int             `json:"progress"`
	ReturnValue  json.RawMessage `json:"returnvalue,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
}

// Client talks to the analyzer API. No client-side timeout on Analyze:
// the submit call may legitimately take a while and the caller owns
// cancellation through ctx.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{},
	}
}

// Analyze submits a new analysis job. idempotencyKey is minted by the
// caller per logical submission and re-sent on retry, so a transport
// failure after the server created the job does not spawn a second one
// (servers that ignore the header degrade to at-most-once from the
// client's perspective).
func (c *Client) Analyze(ctx context.Context, videoURL, idempotencyKey string) (*SubmitData, error) {
	body, err := json.Marshal(map[string]string{"videoUrl": videoURL})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/video/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "Failed to start analysis"
		}
		return nil, errors.New(msg)
	}

	var data SubmitData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode analyze data: %w", err)
	}
	if data.JobID == "" {
		return nil, errors.New("analyze response missing jobId")
	}
	return &data, nil
}

// Status fetches the authoritative job state. Returns ErrJobNotFound
// when the server does not know the job anymore.
func (c *Client) Status(ctx context.Context, jobID string) (*StatusData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/video/status/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrJobNotFound
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	if !env.Success || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, ErrJobNotFound
	}

	var data StatusData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode status data: %w", err)
	}
	return &data, nil
}
