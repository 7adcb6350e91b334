package api

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

	"github.com/google/uuid"

	"github.com/openfroyo/parity/pkg/compare"
	"github.com/openfroyo/parity/pkg/engine"
	"github.com/openfroyo/parity/pkg/report"
)

// maxResponseBytes bounds response bodies read by the client.
const maxResponseBytes = 8 << 20

// StatusError is a non-2xx API response.
type StatusError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// Client talks to a parity server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.New().String())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			serr.Code = eb.Error.Code
			serr.Message = eb.Error.Message
			serr.RequestID = eb.Error.RequestID
		}
		return serr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// CreateSession creates a session owned by owner.
func (c *Client) CreateSession(ctx context.Context, owner string) (*engine.Session, error) {
	var sess engine.Session
	if err := c.do(ctx, http.MethodPost, "/api/sessions", createSessionRequest{Owner: owner}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Sessions lists the server's sessions.
func (c *Client) Sessions(ctx context.Context) ([]*engine.Session, error) {
	var out struct {
		Sessions []*engine.Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Start schedules a run.
func (c *Client) Start(ctx context.Context, req engine.StartRequest) (*engine.TaskInfo, error) {
	var info engine.TaskInfo
	if err := c.do(ctx, http.MethodPost, "/api/executions/start", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Status returns the execution counts of a session.
func (c *Client) Status(ctx context.Context, sessionID string) (*engine.StatusReport, error) {
	var out engine.StatusReport
	if err := c.do(ctx, http.MethodGet, "/api/executions/"+url.PathEscape(sessionID)+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Progress returns the per-step states of a session's executions.
func (c *Client) Progress(ctx context.Context, sessionID string) (*engine.ProgressReport, error) {
	var out engine.ProgressReport
	if err := c.do(ctx, http.MethodGet, "/api/executions/"+url.PathEscape(sessionID)+"/progress", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Comparison returns one step comparison of an execution.
func (c *Client) Comparison(ctx context.Context, sessionID, executionID string, step engine.Step) (*compare.Comparison, error) {
	var out compare.Comparison
	path := fmt.Sprintf("/api/executions/%s/items/%s/comparisons/%s",
		url.PathEscape(sessionID), url.PathEscape(executionID), step)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel cancels the session's active run.
func (c *Client) Cancel(ctx context.Context, sessionID string) (*engine.TaskInfo, error) {
	var info engine.TaskInfo
	if err := c.do(ctx, http.MethodPost, "/api/executions/"+url.PathEscape(sessionID)+"/cancel", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Task returns a background task.
func (c *Client) Task(ctx context.Context, id string) (*engine.TaskInfo, error) {
	var info engine.TaskInfo
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SessionReport returns the report of a session.
func (c *Client) SessionReport(ctx context.Context, sessionID string) (*report.SessionReport, error) {
	var out report.SessionReport
	if err := c.do(ctx, http.MethodGet, "/api/reports/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
