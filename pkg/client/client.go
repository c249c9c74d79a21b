// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client talks to a research server over HTTP and follows job
// progress over server-sent events.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/storage"
	"github.com/teradata-labs/loom-research/pkg/stream"
)

var (
	// ErrNotFound is returned for unknown jobs and missing reports.
	ErrNotFound = errors.New("not found")
	// ErrFinished is returned by Watch for jobs that already ended.
	ErrFinished = errors.New("analysis already finished")
	// ErrNoReport is returned by FetchReport for jobs without a report.
	ErrNoReport = errors.New("analysis has no report yet")
)

// maxReconnects bounds SSE reconnect attempts before Watch gives up.
const maxReconnects = 3

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client is a research server client.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout must allow for
// long-lived event streams.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit starts an analysis and returns its ID.
func (c *Client) Submit(ctx context.Context, query, analysisType string) (string, error) {
	body, err := json.Marshal(map[string]string{"query": query, "analysis_type": analysisType})
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/analysis", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Get returns the job record.
func (c *Client) Get(ctx context.Context, id string) (*storage.Job, error) {
	var job storage.Job
	if err := c.do(ctx, http.MethodGet, "/analysis/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns the most recent jobs.
func (c *Client) List(ctx context.Context, limit int) ([]*storage.Job, error) {
	var resp struct {
		Analyses []*storage.Job `json:"analyses"`
	}
	if err := c.do(ctx, http.MethodGet, "/analysis?limit="+strconv.Itoa(limit), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Analyses, nil
}

// Cancel stops a running analysis.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/analysis/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Watch delivers the job's progress events to fn until the terminal event.
// Only one watcher may follow a job at a time.
func (c *Client) Watch(ctx context.Context, id string, fn func(stream.Event) error) error {
	job, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrFinished, job.Status)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sc := sse.NewClient(c.baseURL + "/events/" + url.PathEscape(id))
	sc.Connection = c.http

	var (
		terminal   bool
		handlerErr error
		connectErr error
		attempts   int
	)
	sc.ReconnectNotify = func(err error, next time.Duration) {
		attempts++
		c.logger.Debug("Event stream reconnecting",
			zap.String("job_id", id),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", next),
			zap.Error(err))
		if attempts >= maxReconnects {
			connectErr = err
			cancel()
		}
	}

	err = sc.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if len(msg.Data) == 0 || terminal || handlerErr != nil {
			return
		}
		var e stream.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			handlerErr = fmt.Errorf("malformed event: %w", err)
			cancel()
			return
		}
		if err := fn(e); err != nil {
			handlerErr = err
			cancel()
			return
		}
		if e.Terminal() {
			terminal = true
			cancel()
		}
	})

	switch {
	case terminal:
		return nil
	case handlerErr != nil:
		return handlerErr
	case connectErr != nil:
		return fmt.Errorf("event stream unavailable: %w", connectErr)
	case err != nil && !errors.Is(err, context.Canceled):
		return err
	}
	return ctx.Err()
}

// FetchReport copies the job's report to w.
func (c *Client) FetchReport(ctx context.Context, id string, w io.Writer) (string, error) {
	job, err := c.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if job.ReportPath == "" {
		return "", fmt.Errorf("%w (status %s)", ErrNoReport, job.Status)
	}

	jobID, file, ok := strings.Cut(job.ReportPath, "/")
	if !ok {
		return "", fmt.Errorf("unexpected report path %q", job.ReportPath)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/reports/"+url.PathEscape(jobID)+"/"+url.PathEscape(file), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkResponse(resp); err != nil {
		return "", err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("failed to download report: %w", err)
	}
	return job.ReportPath, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	}
	return apiErr
}
