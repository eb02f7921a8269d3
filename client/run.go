package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/flowwork/api"
	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

func runPath(runID id.RunID, suffix string) string {
	return "/v1/runs/" + runID.String() + suffix
}

// ListRuns returns runs filtered by opts.
func (c *Client) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.Name != "" {
		q.Set("name", opts.Name)
	}
	var runs []*run.Run
	if _, err := c.do(ctx, http.MethodGet, "/v1/runs", q, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun retrieves a run by ID.
func (c *Client) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	var r run.Run
	if _, err := c.do(ctx, http.MethodGet, runPath(runID, ""), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Progress retrieves the progress tree of a run.
func (c *Client) Progress(ctx context.Context, runID id.RunID) (*work.Progress, error) {
	var p work.Progress
	if _, err := c.do(ctx, http.MethodGet, runPath(runID, "/progress"), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Tick advances a run immediately.
func (c *Client) Tick(ctx context.Context, runID id.RunID) (*run.Run, error) {
	var r run.Run
	if _, err := c.do(ctx, http.MethodPost, runPath(runID, "/tick"), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Abort requests that a run stop.
func (c *Client) Abort(ctx context.Context, runID id.RunID) (*run.Run, error) {
	var r run.Run
	if _, err := c.do(ctx, http.MethodPost, runPath(runID, "/abort"), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Retry retries a finished run. With dryRun the server returns the
// candidate run without saving it.
func (c *Client) Retry(ctx context.Context, runID id.RunID, dryRun bool) (*api.RetryResponse, error) {
	var q url.Values
	if dryRun {
		q = url.Values{"dry_run": {"true"}}
	}
	var res api.RetryResponse
	if _, err := c.do(ctx, http.MethodPost, runPath(runID, "/retry"), q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Stats retrieves run counts and worker statistics.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var s api.StatsResponse
	if _, err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
