package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/whatsapp-dispatch/internal/pkg/httputil"
	"github.com/ignite/whatsapp-dispatch/internal/service/blacklist"
)

const maxBatchCheck = 10000

type addBlacklistRequest struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

type reportAbuseRequest struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

type batchCheckRequest struct {
	Phones []string `json:"phones"`
}

// requireAdmin answers 403 for non-admin callers and reports whether the
// request may continue.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !IdentityFrom(r.Context()).Admin {
		httputil.Forbidden(w, "admin role required")
		return false
	}
	return true
}

// AddToBlacklist blocks a number. Admin callers create admin entries,
// everyone else user_report entries.
//
//	POST /api/blacklist
func (h *Handlers) AddToBlacklist(w http.ResponseWriter, r *http.Request) {
	var req addBlacklistRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	entry, err := h.blacklist.Add(r.Context(), req.Phone, req.Reason, IdentityFrom(r.Context()).Actor())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, entry)
}

// RemoveFromBlacklist soft-deletes the active entry of a number.
//
//	DELETE /api/blacklist/{phone}
func (h *Handlers) RemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	phone, err := url.PathUnescape(chi.URLParam(r, "phone"))
	if err != nil {
		httputil.BadRequest(w, "invalid phone parameter")
		return
	}
	if err := h.blacklist.Remove(r.Context(), phone, IdentityFrom(r.Context()).Actor()); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// CheckBlacklist looks up one number.
//
//	GET /api/blacklist/check?phone=
func (h *Handlers) CheckBlacklist(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		httputil.BadRequest(w, "phone is required")
		return
	}
	httputil.OK(w, h.blacklist.IsBlacklisted(r.Context(), phone))
}

// ValidateBatch partitions a list of numbers into sendable and blocked.
//
//	POST /api/blacklist/check
func (h *Handlers) ValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.Phones) > maxBatchCheck {
		httputil.BadRequest(w, "too many phones in one batch")
		return
	}
	httputil.OK(w, h.blacklist.ValidateBatch(r.Context(), req.Phones))
}

// ReportAbuse files a complaint against a number. Enough distinct
// confirmed reports blacklist it automatically.
//
//	POST /api/blacklist/reports
func (h *Handlers) ReportAbuse(w http.ResponseWriter, r *http.Request) {
	var req reportAbuseRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.blacklist.ReportAbuse(r.Context(), req.Phone, req.Reason, IdentityFrom(r.Context()).UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, res)
}

// ListReports returns every report filed against a number. Admin only.
//
//	GET /api/blacklist/reports?phone=
func (h *Handlers) ListReports(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	reports, err := h.blacklist.ListReports(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"reports": reports})
}

// ListBlacklist pages through entries. Admin only.
//
//	GET /api/blacklist?status=&source=&search=&limit=&offset=
func (h *Handlers) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	p := ParseWindow(r, 100, 500)
	q := r.URL.Query()
	entries, total, err := h.blacklist.List(r.Context(), blacklist.ListFilter{
		Status: q.Get("status"),
		Source: q.Get("source"),
		Search: q.Get("search"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, NewPage(entries, p, total))
}

// BlacklistStats returns aggregate counts. Admin only.
//
//	GET /api/blacklist/stats
func (h *Handlers) BlacklistStats(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	st, err := h.blacklist.GetStats(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, st)
}
