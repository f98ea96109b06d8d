package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/canvaslog/internal/canvas"
)

// handleStream relays the aggregate's states as Server-Sent Events.
//
// The current state is sent first, then one "state" event per successful
// append until the client disconnects or the hub closes.
// GET /canvases/{aggregateID}/stream
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, fmt.Errorf("streaming unsupported"))
		return
	}
	aggregateID := chi.URLParam(r, "aggregateID")

	// Subscribe before reading so no append falls between the two.
	updates, cancel := s.subs.Subscribe(aggregateID)
	defer cancel()

	current, err := s.canvases.State(r.Context(), aggregateID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeStateEvent(w, current); err != nil {
		return
	}
	flusher.Flush()
	last := current.Version

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			// The initial read may already include queued updates.
			if state.Version <= last {
				continue
			}
			if err := writeStateEvent(w, state); err != nil {
				s.logger.Debug("stream write failed", "aggregate_id", aggregateID, "error", err)
				return
			}
			flusher.Flush()
			last = state.Version
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeStateEvent(w http.ResponseWriter, state canvas.CanvasState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: state\nid: %d\ndata: %s\n\n", state.Version, data)
	return err
}
