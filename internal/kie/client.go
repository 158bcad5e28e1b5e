// Package kie talks to the KIE.ai jobs API used for image and video
// generation: a task is created and then polled until it settles.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrTaskTimeout means the task did not settle within the polling budget.
var ErrTaskTimeout = errors.New("kie task timeout")

type Config struct {
	BaseURL      string
	Timeout      time.Duration
	PollAttempts int
	PollInterval time.Duration
}

type Client struct {
	baseURL      string
	httpClient   *http.Client
	log          *slog.Logger
	pollAttempts int
	pollInterval time.Duration
}

type TaskOptions struct {
	Model       string
	Prompt      string
	AspectRatio string
	Resolution  string
	Duration    int
}

type Asset struct {
	TaskID string
	URL    string
}

// StatusError is a non-2xx answer or a non-200 envelope code from KIE.
type StatusError struct {
	Status int
	Code   int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("kie error: status=%d %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("kie error: code=%d msg=%s", e.Code, e.Msg)
}

// TaskFailedError is a task that ended in the "fail" state.
type TaskFailedError struct {
	TaskID string
	Code   string
	Msg    string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %s (code: %s)", e.TaskID, e.Msg, e.Code)
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.kie.ai"
	}
	attempts := cfg.PollAttempts
	if attempts <= 0 {
		attempts = 60
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Client{
		baseURL:      base,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
		pollAttempts: attempts,
		pollInterval: interval,
	}
}

// Generate creates a task with apiKey and waits for its first result URL.
func (c *Client) Generate(ctx context.Context, apiKey string, opts TaskOptions) (*Asset, error) {
	input := map[string]any{"prompt": opts.Prompt}
	if opts.AspectRatio != "" {
		input["aspect_ratio"] = opts.AspectRatio
	}
	if opts.Resolution != "" {
		input["resolution"] = opts.Resolution
	}
	if opts.Duration > 0 {
		input["duration"] = opts.Duration
	}
	payload := map[string]any{
		"model": opts.Model,
		"input": input,
	}

	taskID, err := c.createTask(ctx, apiKey, payload)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return c.pollTaskStatus(ctx, apiKey, taskID)
}

func (c *Client) createTask(ctx context.Context, apiKey string, payload map[string]any) (string, error) {
	fullURL, err := c.resolve("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}
	c.log.Info("creating KIE task", "model", payload["model"])

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := c.do(req, apiKey, &createResp); err != nil {
		return "", err
	}
	if createResp.Code != http.StatusOK {
		return "", &StatusError{Code: createResp.Code, Msg: createResp.Msg}
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}
	c.log.Info("KIE task created", "task_id", createResp.Data.TaskID)
	return createResp.Data.TaskID, nil
}

func (c *Client) pollTaskStatus(ctx context.Context, apiKey, taskID string) (*Asset, error) {
	fullURL, err := c.resolve("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}
		if err := c.do(req, apiKey, &statusResp); err != nil {
			return nil, err
		}
		if statusResp.Code != http.StatusOK {
			return nil, &StatusError{Code: statusResp.Code, Msg: statusResp.Msg}
		}

		switch state := statusResp.Data.State; state {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
				return nil, fmt.Errorf("parse resultJson: %w", err)
			}
			if len(result.ResultURLs) == 0 {
				return nil, fmt.Errorf("no resultUrls in result")
			}
			c.log.Info("KIE task completed", "task_id", taskID, "attempt", attempt+1)
			return &Asset{TaskID: taskID, URL: result.ResultURLs[0]}, nil

		case "fail":
			msg := statusResp.Data.FailMsg
			if msg == "" {
				msg = "unknown error"
			}
			c.log.Error("KIE task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", msg)
			return nil, &TaskFailedError{TaskID: taskID, Code: statusResp.Data.FailCode, Msg: msg}

		case "waiting", "generating", "processing", "queued", "queueing":
			if attempt%10 == 0 {
				c.log.Debug("KIE task waiting", "task_id", taskID, "attempt", attempt+1, "max_attempts", c.pollAttempts)
			}
			if attempt < c.pollAttempts-1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(c.pollInterval):
				}
			}

		default:
			return nil, fmt.Errorf("unknown task state: %s", state)
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrTaskTimeout, c.pollAttempts)
}

func (c *Client) do(req *http.Request, apiKey string, out any) error {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kie request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("KIE request failed", "status", resp.StatusCode, "url", req.URL.Path, "body", truncateBody(rawBody))
		return &StatusError{Status: resp.StatusCode, Msg: truncateBody(rawBody)}
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}
	return nil
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
