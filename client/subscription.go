package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/stream"
)

// Subscribe opens a server-sent event stream on the given topics and
// returns a channel of events. The channel is closed when ctx ends or the
// server closes the stream. Events are dropped if the reader falls behind.
//
// Topics follow the stream convention:
//   - "run:<runID>"  events for a specific run, steps included
//   - "runs"         all run lifecycle events
//   - "steps"        all step lifecycle events
//   - "firehose"     everything
func (c *Client) Subscribe(ctx context.Context, topics ...string) (<-chan *stream.Event, error) {
	q := url.Values{"topic": topics}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("flowwork/client: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flowwork/client: subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	ch := make(chan *stream.Event, c.buffer)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		c.readEvents(ctx, bufio.NewScanner(resp.Body), ch)
	}()
	return ch, nil
}

// readEvents decodes "data:" lines until the stream ends.
func (c *Client) readEvents(ctx context.Context, sc *bufio.Scanner, ch chan<- *stream.Event) {
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var evt stream.Event
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			c.logger.Warn("flowwork/client: invalid event", slog.String("error", err.Error()))
			continue
		}
		select {
		case ch <- &evt:
		case <-ctx.Done():
			return
		default:
			// Drop if the reader is slow.
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		c.logger.Warn("flowwork/client: event stream ended", slog.String("error", err.Error()))
	}
}

// Watch subscribes to the events of one run.
func (c *Client) Watch(ctx context.Context, runID id.RunID) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.RunTopic(runID.String()))
}
