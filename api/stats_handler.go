package api

import (
	"net/http"

	"github.com/xraph/flowwork/queue"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/stream"
)

// RunCounts holds the number of runs per state.
type RunCounts struct {
	Pending   int `json:"pending"`
	Waiting   int `json:"waiting"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Aborted   int `json:"aborted"`
}

// StatsResponse is returned by GET /v1/stats.
type StatsResponse struct {
	Runs        RunCounts           `json:"runs"`
	WorkerID    string              `json:"worker_id"`
	ActiveTicks int                 `json:"active_ticks"`
	Lanes       []queue.LaneStats   `json:"lanes"`
	Stream      *stream.BrokerStats `json:"stream,omitempty"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var counts RunCounts
	for _, state := range []run.State{
		run.StatePending, run.StateWaiting, run.StateSucceeded,
		run.StateFailed, run.StateAborted,
	} {
		runs, err := a.eng.List(ctx, run.ListOpts{State: state})
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		switch state {
		case run.StatePending:
			counts.Pending = len(runs)
		case run.StateWaiting:
			counts.Waiting = len(runs)
		case run.StateSucceeded:
			counts.Succeeded = len(runs)
		case run.StateFailed:
			counts.Failed = len(runs)
		case run.StateAborted:
			counts.Aborted = len(runs)
		}
	}

	resp := StatsResponse{
		Runs:        counts,
		WorkerID:    a.eng.Pool().WorkerID().String(),
		ActiveTicks: a.eng.Pool().Active(),
		Lanes:       a.eng.Queues().Stats(),
	}
	if a.broker != nil {
		bs := a.broker.Stats()
		resp.Stream = &bs
	}
	writeJSON(w, http.StatusOK, resp)
}
