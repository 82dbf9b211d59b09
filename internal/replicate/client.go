// Package replicate wraps the remote asynchronous-job HTTP API used for
// fine-tuning and generation. The gateway retries any transport or
// decode failure exactly once after a short delay; sustained backoff
// across polls belongs to the coordinators, not here.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bowerhall/visage/internal/logger"
)

type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether polling should stop at this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Job is the remote job as reported by the API.
type Job struct {
	ID     string          `json:"id"`
	Status Status          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// OutputVersion extracts the trained model version from a succeeded
// training job.
func (j *Job) OutputVersion() (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(j.Output, &out); err != nil {
		return "", fmt.Errorf("decode training output: %w", err)
	}
	if out.Version == "" {
		return "", fmt.Errorf("training output has no version")
	}
	return out.Version, nil
}

// OutputURLs extracts generated artifact URLs. The API returns either a
// single string or a list of strings.
func (j *Job) OutputURLs() ([]string, error) {
	var urls []string
	if err := json.Unmarshal(j.Output, &urls); err == nil {
		return urls, nil
	}

	var single string
	if err := json.Unmarshal(j.Output, &single); err == nil {
		return []string{single}, nil
	}

	return nil, fmt.Errorf("decode generation output")
}

// TrainingInput is what the fine-tuning model consumes.
type TrainingInput struct {
	InputImages string `json:"input_images"`
	TriggerWord string `json:"trigger_word"`
	Steps       int    `json:"steps,omitempty"`
}

// GenerationInput is what an inference run consumes.
type GenerationInput struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	NumOutputs     int    `json:"num_outputs,omitempty"`
}

type Config struct {
	APIToken       string
	BaseURL        string
	TrainerVersion string
}

type Client struct {
	http           *http.Client
	baseURL        string
	token          string
	trainerVersion string
	retryDelay     time.Duration
}

func NewClient(cfg Config) *Client {
	return &Client{
		http:           &http.Client{Timeout: 30 * time.Second},
		baseURL:        cfg.BaseURL,
		token:          cfg.APIToken,
		trainerVersion: cfg.TrainerVersion,
		retryDelay:     2 * time.Second,
	}
}

// CreateTraining submits a fine-tuning job against the packaged dataset
// and returns the remote job id.
func (c *Client) CreateTraining(ctx context.Context, datasetURL, triggerWord string) (string, error) {
	body := map[string]any{
		"version": c.trainerVersion,
		"input": TrainingInput{
			InputImages: datasetURL,
			TriggerWord: triggerWord,
		},
	}

	var job Job
	if err := c.do(ctx, http.MethodPost, "/predictions", body, &job); err != nil {
		return "", fmt.Errorf("create training: %w", err)
	}

	return job.ID, nil
}

// CreatePrediction submits a generation job against a trained model
// version and returns the remote job id.
func (c *Client) CreatePrediction(ctx context.Context, modelVersion string, in GenerationInput) (string, error) {
	body := map[string]any{
		"version": modelVersion,
		"input":   in,
	}

	var job Job
	if err := c.do(ctx, http.MethodPost, "/predictions", body, &job); err != nil {
		return "", fmt.Errorf("create prediction: %w", err)
	}

	return job.ID, nil
}

// Get polls a job by id.
func (c *Client) Get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/predictions/"+jobID, nil, &job); err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return &job, nil
}

// DeleteModelVersion removes a trained artifact. A remote "not found"
// counts as success so the delete is idempotent.
func (c *Client) DeleteModelVersion(ctx context.Context, version string) error {
	err := c.do(ctx, http.MethodDelete, "/versions/"+version, nil, nil)
	if err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			logger.Debug("model version already gone", "version", version)
			return nil
		}
		return fmt.Errorf("delete version %s: %w", version, err)
	}
	return nil
}

// do performs one request with a single retry on transport/decode/5xx
// failure. API-level 4xx errors are returned immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	err := c.once(ctx, method, path, body, out)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if asAPIError(err, &apiErr) && apiErr.StatusCode < 500 {
		return err
	}

	logger.Warn("replicate request failed, retrying once", "method", method, "path", path, "error", err)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.retryDelay):
	}

	return c.once(ctx, method, path, body, out)
}

func (c *Client) once(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
