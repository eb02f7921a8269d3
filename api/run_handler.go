package api

import (
	"log/slog"
	"net/http"

	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

// defaultLimit caps list responses when the caller gives no limit.
const defaultLimit = 50

// RetryResponse is returned by the retry endpoint. For a dry run Run is
// the unsaved candidate.
type RetryResponse struct {
	DryRun   bool           `json:"dry_run"`
	Run      *run.Run       `json:"run"`
	Progress *work.Progress `json:"progress,omitempty"`
}

func runID(r *http.Request) (id.RunID, error) {
	rid, err := id.ParseRunID(r.PathValue("runId"))
	if err != nil {
		return id.Nil, badRequest("invalid run ID", err)
	}
	return rid, nil
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = defaultLimit
	}

	q := r.URL.Query()
	state := run.State(q.Get("state"))
	switch state {
	case "", run.StatePending, run.StateWaiting, run.StateSucceeded, run.StateFailed, run.StateAborted:
	default:
		a.writeError(w, r, badRequest("invalid state "+string(state), nil))
		return
	}

	runs, err := a.eng.List(r.Context(), run.ListOpts{
		Limit:  limit,
		Offset: offset,
		State:  state,
		Name:   q.Get("name"),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*run.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	rid, err := runID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rn, err := a.eng.Get(r.Context(), rid)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (a *API) getProgress(w http.ResponseWriter, r *http.Request) {
	rid, err := runID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	p, err := a.eng.Progress(r.Context(), rid)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) tickRun(w http.ResponseWriter, r *http.Request) {
	rid, err := runID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rn, err := a.eng.Tick(r.Context(), rid)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (a *API) abortRun(w http.ResponseWriter, r *http.Request) {
	rid, err := runID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rn, err := a.eng.Abort(r.Context(), rid)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (a *API) retryRun(w http.ResponseWriter, r *http.Request) {
	rid, err := runID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	dryRun, err := queryBool(r, "dry_run")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	next, p, err := a.eng.Retry(r.Context(), rid, dryRun)
	if err != nil && next == nil {
		a.writeError(w, r, err)
		return
	}
	if err != nil {
		// The retry run exists but its first tick failed; it stays due.
		a.logger.Warn("api: first tick of retried run failed",
			slog.String("run_id", next.ID.String()),
			slog.Any("error", err),
		)
	}

	status := http.StatusCreated
	if dryRun {
		status = http.StatusOK
	}
	writeJSON(w, status, RetryResponse{DryRun: dryRun, Run: next, Progress: p})
}
