package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/whatsapp-dispatch/internal/pkg/httputil"
	"github.com/ignite/whatsapp-dispatch/internal/service/campaign"
)

// SubmitCampaign validates and enqueues (or schedules) a campaign.
//
//	POST /api/campaigns
func (h *Handlers) SubmitCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.SubmitInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	id := IdentityFrom(r.Context())
	in.TenantID, in.UserID, in.Tier = id.TenantID, id.UserID, id.Tier

	res, err := h.campaigns.Submit(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

// PreviewCampaign renders the template for the first contacts of a list
// without creating anything.
//
//	POST /api/campaigns/preview
func (h *Handlers) PreviewCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.PreviewInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	in.TenantID = IdentityFrom(r.Context()).TenantID

	msgs, err := h.campaigns.Preview(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"messages": msgs})
}

// ListCampaigns returns the tenant's campaigns, newest first.
//
//	GET /api/campaigns?status=&limit=&offset=
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	p := ParseWindow(r, 50, 200)
	list, total, err := h.campaigns.List(r.Context(), IdentityFrom(r.Context()).TenantID, campaign.ListFilter{
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

// GetCampaign returns one campaign with its counters.
//
//	GET /api/campaigns/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), IdentityFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// ListMessages returns the per-contact log of a campaign in list order.
//
//	GET /api/campaigns/{id}/messages?limit=&offset=
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	p := ParseWindow(r, 100, 1000)
	msgs, err := h.campaigns.Messages(r.Context(), IdentityFrom(r.Context()).TenantID,
		chi.URLParam(r, "id"), p.Limit, p.Offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"messages": msgs, "limit": p.Limit, "offset": p.Offset})
}

// ListJobs returns the queue jobs of a campaign.
//
//	GET /api/campaigns/{id}/jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.campaigns.Jobs(r.Context(), IdentityFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"jobs": jobs})
}

// PauseCampaign stops a queued or processing campaign at the next contact.
//
//	POST /api/campaigns/{id}/pause
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.campaigns.Pause)
}

// ResumeCampaign continues a paused campaign from its checkpoint.
//
//	POST /api/campaigns/{id}/resume
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.campaigns.Resume)
}

func (h *Handlers) control(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID, id string) error) {
	tenantID := IdentityFrom(r.Context()).TenantID
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), tenantID, id); err != nil {
		respondServiceError(w, err)
		return
	}
	c, err := h.campaigns.Get(r.Context(), tenantID, id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}
