package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/whatsapp-dispatch/internal/pkg/httputil"
	"github.com/ignite/whatsapp-dispatch/internal/scheduler"
)

func (h *Handlers) schedulingEnabled(w http.ResponseWriter) bool {
	if h.schedules == nil {
		respondError(w, http.StatusNotImplemented, "scheduling is not configured")
		return false
	}
	return true
}

// ListSchedules returns the tenant's scheduled campaigns.
//
//	GET /api/schedules?status=&limit=&offset=
func (h *Handlers) ListSchedules(w http.ResponseWriter, r *http.Request) {
	if !h.schedulingEnabled(w) {
		return
	}
	p := ParseWindow(r, 50, 200)
	list, total, err := h.schedules.List(r.Context(), IdentityFrom(r.Context()).TenantID, scheduler.ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, NewPage(list, p, total))
}

// GetSchedule returns one scheduled campaign.
//
//	GET /api/schedules/{id}
func (h *Handlers) GetSchedule(w http.ResponseWriter, r *http.Request) {
	if !h.schedulingEnabled(w) {
		return
	}
	sc, err := h.schedules.Get(r.Context(), IdentityFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, sc)
}

// CancelSchedule withdraws a pending schedule.
//
//	DELETE /api/schedules/{id}
func (h *Handlers) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	if !h.schedulingEnabled(w) {
		return
	}
	id := IdentityFrom(r.Context())
	if err := h.schedules.Cancel(r.Context(), id.TenantID, chi.URLParam(r, "id"), id.Actor()); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// QueueStats returns job counts per queue state.
//
//	GET /api/queue/stats
func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.queue.Stats(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, st)
}
