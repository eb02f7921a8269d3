// Package api exposes the flowwork engine over HTTP.
//
// Routes:
//
//	GET  /v1/runs                    list runs (?state=&name=&limit=&offset=)
//	GET  /v1/runs/{runId}            get one run
//	GET  /v1/runs/{runId}/progress   progress tree of the run
//	POST /v1/runs/{runId}/tick       advance the run now
//	POST /v1/runs/{runId}/abort      request an abort
//	POST /v1/runs/{runId}/retry      retry a finished run (?dry_run=true)
//	GET  /v1/stats                   run counts, lanes and pool
//	GET  /v1/events                  server-sent lifecycle events (?topic=)
package api

import (
	"log/slog"
	"net/http"

	"github.com/xraph/flowwork/engine"
	"github.com/xraph/flowwork/stream"
)

// API wires the HTTP handlers together for a flowwork Engine.
type API struct {
	eng    *engine.Engine
	broker *stream.Broker
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithBroker enables the /v1/events endpoint backed by b.
func WithBroker(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// WithLogger sets the logger used for request errors.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers all flowwork routes into mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/runs", a.listRuns)
	mux.HandleFunc("GET /v1/runs/{runId}", a.getRun)
	mux.HandleFunc("GET /v1/runs/{runId}/progress", a.getProgress)
	mux.HandleFunc("POST /v1/runs/{runId}/tick", a.tickRun)
	mux.HandleFunc("POST /v1/runs/{runId}/abort", a.abortRun)
	mux.HandleFunc("POST /v1/runs/{runId}/retry", a.retryRun)
	mux.HandleFunc("GET /v1/stats", a.stats)
	if a.broker != nil {
		mux.HandleFunc("GET /v1/events", a.events)
	}
}
