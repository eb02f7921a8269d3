// Package client provides a Go client for a remote flowwork engine served
// by package api.
//
// Usage:
//
//	c := client.New("https://flowwork.internal")
//
//	// Retry a failed run and inspect what will re-execute first.
//	res, err := c.Retry(ctx, runID, true)
//
//	// Watch a run's lifecycle events.
//	events, err := c.Watch(ctx, runID)
//	for evt := range events {
//	    fmt.Println(evt.Type)
//	}
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/xraph/flowwork"
)

// Client talks to the flowwork HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	logger  *slog.Logger
	buffer  int
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    http.DefaultClient,
		logger:  slog.Default(),
		buffer:  64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a non-2xx API response. It unwraps to the matching flowwork
// sentinel when the server reported one, so errors.Is works across the
// wire.
type Error struct {
	StatusCode int
	Message    string
	sentinel   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("flowwork/client: %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.sentinel }

// sentinels are the errors the API reports by message.
var sentinels = []error{
	flowwork.ErrRunNotFound,
	flowwork.ErrRunFinished,
	flowwork.ErrRunNotFinished,
	flowwork.ErrRunSucceeded,
	flowwork.ErrRunRetried,
	flowwork.ErrRetryUnsupported,
	flowwork.ErrLeaseHeld,
	flowwork.ErrConflict,
	flowwork.ErrEngineStopped,
}

func newError(status int, msg string) *Error {
	e := &Error{StatusCode: status, Message: msg}
	for _, s := range sentinels {
		if strings.Contains(msg, s.Error()) {
			e.sentinel = s
			break
		}
	}
	if e.sentinel == nil && status == http.StatusNotFound {
		e.sentinel = flowwork.ErrRunNotFound
	}
	return e
}

// do sends a request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) (int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, fmt.Errorf("flowwork/client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("flowwork/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, decodeError(resp)
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("flowwork/client: decode %s %s: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return newError(resp.StatusCode, resp.Status)
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) != nil || payload.Error == "" {
		return newError(resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return newError(resp.StatusCode, payload.Error)
}

// IsNotFound reports whether err is a missing-run response.
func IsNotFound(err error) bool {
	return errors.Is(err, flowwork.ErrRunNotFound)
}
