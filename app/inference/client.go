package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrTimeout marks an external call that lost the race against its deadline.
// Callers branch on it to decide whether a retry is worthwhile.
var ErrTimeout = errors.New("inference call timed out")

// Client talks to the external model provider. One client serves every model
// the pipeline uses: text embedding, cross-modal embedding, and rewriting.
type Client struct {
	endpoint   string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(endpoint, token string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   endpoint,
		token:      token,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Run submits input to the given model and returns its raw output. The call
// races against the client timeout independently of the caller's context.
func (c *Client) Run(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := map[string]any{
		"model": model,
		"input": input,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference payload: %w", err)
	}

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || timeoutCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: model %s after %s", ErrTimeout, model, c.timeout)
		}
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read inference response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference HTTP error: %d %s: %s", resp.StatusCode, resp.Status, truncate(data, 200))
	}

	var envelope struct {
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}
	if len(envelope.Output) == 0 {
		return nil, fmt.Errorf("inference response has no output for model %s", model)
	}

	return envelope.Output, nil
}

// DecodeVector interprets model output as a single embedding vector.
func DecodeVector(output json.RawMessage) ([]float32, error) {
	var vector []float32
	if err := json.Unmarshal(output, &vector); err != nil {
		return nil, fmt.Errorf("failed to decode vector output: %w", err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("model returned an empty vector")
	}
	return vector, nil
}

// DecodeVectorBatch interprets model output as one vector per input, in
// input order.
func DecodeVectorBatch(output json.RawMessage, expected int) ([][]float32, error) {
	var vectors [][]float32
	if err := json.Unmarshal(output, &vectors); err != nil {
		return nil, fmt.Errorf("failed to decode batch vector output: %w", err)
	}
	if len(vectors) != expected {
		return nil, fmt.Errorf("model returned %d vectors for %d inputs", len(vectors), expected)
	}
	return vectors, nil
}

func truncate(data []byte, max int) string {
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
