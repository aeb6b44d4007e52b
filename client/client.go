// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

// Package client implements the consumer side of the taskwire protocol:
// manifest discovery, task submission, and polling until a task reaches
// a terminal state.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"

	"github.com/taskwire/taskwire"
	"github.com/taskwire/taskwire/auth"
)

const defaultUserAgent = "taskwire-client/" + taskwire.Version

// Client talks to one remote agent. It caches the discovered manifest
// for the lifetime of the client; agents publish immutable manifests per
// process lifetime, so one fetch is enough.
type Client struct {
	baseURL    string
	hc         *http.Client
	credential auth.Credential
	logger     *slog.Logger
	userAgent  string

	mu       sync.Mutex
	manifest *taskwire.AgentManifest
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithCredential sets the credential attached to every request.
func WithCredential(credential auth.Credential) Option {
	return func(c *Client) { c.credential = credential }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client for the agent at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		hc:        &http.Client{},
		logger:    slog.Default(),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover fetches the agent manifest from the well-known path and
// caches it. Subsequent calls return the cached manifest.
func (c *Client) Discover(ctx context.Context) (*taskwire.AgentManifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discoverLocked(ctx)
}

func (c *Client) discoverLocked(ctx context.Context) (*taskwire.AgentManifest, error) {
	if c.manifest != nil {
		return c.manifest, nil
	}

	url := c.baseURL + taskwire.ManifestPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest from %s: status %d", url, resp.StatusCode)
	}

	var manifest taskwire.AgentManifest
	if err := json.UnmarshalRead(resp.Body, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	c.manifest = &manifest
	c.logger.DebugContext(ctx, "manifest discovered", "agent", manifest.Name, "capabilities", len(manifest.Capabilities))
	return c.manifest, nil
}

// SendTask submits one invocation of the given capability. The
// capability id is validated against the cached manifest (fetching it
// first if absent) so an unlisted id fails fast without a round trip.
// The triggering message carries a human-readable lead part and, when
// data is non-nil, the structured payload as a data part. The returned
// record is in the submitted state.
func (c *Client) SendTask(ctx context.Context, capabilityID string, data map[string]any) (*taskwire.Task, error) {
	c.mu.Lock()
	manifest, err := c.discoverLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if _, ok := manifest.Capability(capabilityID); !ok {
		return nil, fmt.Errorf("%w: %q is not listed by agent %q", ErrUnknownCapability, capabilityID, manifest.Name)
	}

	parts := []taskwire.Part{taskwire.NewTextPart(fmt.Sprintf("Run capability %q.", capabilityID))}
	if data != nil {
		parts = append(parts, taskwire.NewDataPart(data))
	}
	params := taskwire.SendParams{
		Capability: capabilityID,
		Message:    taskwire.NewUserMessage(parts...),
	}

	var task taskwire.Task
	if err := c.call(ctx, taskwire.MethodTasksSend, params, &task); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "task submitted", "task_id", task.ID, "capability", capabilityID)
	return &task, nil
}

// GetTask fetches the current snapshot of a task.
func (c *Client) GetTask(ctx context.Context, taskID string, includeHistory bool) (*taskwire.Task, error) {
	params := taskwire.GetParams{ID: taskID, IncludeHistory: includeHistory}
	var task taskwire.Task
	if err := c.call(ctx, taskwire.MethodTasksGet, params, &task); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == taskwire.CodeTaskNotFound {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, err
	}
	return &task, nil
}

// WaitForCompletion polls the task until it reaches a terminal state or
// maxWait elapses. The deadline is re-checked before every network call,
// not only before sleeping, so the worst-case overrun is one poll
// interval. A completed task is returned; failed, rejected, and canceled
// produce a [TaskFailedError] carrying the agent's last status message.
// The timeout is enforced locally and does not cancel the remote task.
func (c *Client) WaitForCompletion(ctx context.Context, taskID string, maxWait, pollInterval time.Duration) (*taskwire.Task, error) {
	deadline := time.Now().Add(maxWait)
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	timer.Stop()

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrDeadlineExceeded, taskID, maxWait)
		}

		task, err := c.GetTask(ctx, taskID, false)
		if err != nil {
			return nil, err
		}
		if task.Status.State.Terminal() {
			if task.Status.State == taskwire.TaskStateCompleted {
				return task, nil
			}
			var statusMessage string
			if task.Status.Message != nil {
				statusMessage = task.Status.Message.Text()
			}
			return nil, &TaskFailedError{State: task.Status.State, StatusMessage: statusMessage, Task: task}
		}

		timer.Reset(pollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// call performs one JSON-RPC round trip, decoding the result into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	requestID := uuid.NewString()
	rawID, err := json.Marshal(requestID)
	if err != nil {
		return fmt.Errorf("marshal request id: %w", err)
	}
	payload, err := json.Marshal(taskwire.Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  jsontext.Value(rawParams),
		ID:      jsontext.Value(rawID),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.credential != nil {
		if err := c.credential.Apply(req); err != nil {
			return fmt.Errorf("apply credential: %w", err)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var envelope taskwire.Response
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return &RPCError{Code: envelope.Error.Code, Message: envelope.Error.Message, Data: envelope.Error.Data}
	}

	// The id is the caller's correlation token; a mismatch means the
	// response belongs to someone else's request.
	var echoed string
	if err := json.Unmarshal(envelope.ID, &echoed); err != nil || echoed != requestID {
		return fmt.Errorf("%s: response id %q does not match request id %q", method, envelope.ID, requestID)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}
