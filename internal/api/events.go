package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/progress"
)

const eventBuffer = 64

// StreamEvents serves a campaign's progress as Server-Sent Events. The
// latest known progress and status are sent first; the stream ends after a
// terminal status or when the client goes away.
//
//	GET /api/campaigns/{id}/events
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.progress == nil {
		respondError(w, http.StatusNotImplemented, "progress stream is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.campaigns.Get(r.Context(), IdentityFrom(r.Context()).TenantID, id); err != nil {
		respondServiceError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Slow clients lose events rather than stalling the broadcaster.
	ch := make(chan domain.Event, eventBuffer)
	sub := h.progress.Subscribe(id, progress.ObserverFunc(func(ev domain.Event) {
		select {
		case ch <- ev:
		default:
		}
	}))
	defer h.progress.Unsubscribe(sub)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-ch:
			if err := writeEvent(w, ev); err != nil {
				log.Printf("[API] SSE write for campaign %s: %v", id, err)
				return
			}
			flusher.Flush()
			if isFinal(ev) {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func isFinal(ev domain.Event) bool {
	if ev.Type != domain.EventStatus {
		return false
	}
	st, ok := ev.Data.(domain.StatusUpdate)
	return ok && st.Status.IsTerminal()
}
