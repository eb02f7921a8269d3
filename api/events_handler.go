package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/stream"
)

// events streams lifecycle events as server-sent events. Each delivered
// event returns its credit, so a client that keeps reading never stalls.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	for _, t := range topics {
		if err := stream.ValidateTopic(t); err != nil {
			a.writeError(w, r, badRequest(err.Error(), nil))
			return
		}
	}

	rc := http.NewResponseController(w)
	subID := "sse-" + id.NewEventID().String()
	sub := a.broker.Subscribe(subID, topics...)
	defer a.broker.RemoveSubscriber(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": subscribed\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			sub.AddCredits(1)
		}
	}
}
