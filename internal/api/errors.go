package api

import (
	"net/http"

	"github.com/ignite/whatsapp-dispatch/internal/pkg/httputil"
	"github.com/ignite/whatsapp-dispatch/internal/scheduler"
	"github.com/ignite/whatsapp-dispatch/internal/service/blacklist"
	"github.com/ignite/whatsapp-dispatch/internal/service/campaign"
	"github.com/ignite/whatsapp-dispatch/internal/storage"
)

// errorStatuses maps service sentinels onto HTTP statuses.
var errorStatuses = []httputil.ErrorStatus{
	{Err: campaign.ErrNotFound, Status: http.StatusNotFound, Code: "campaign_not_found"},
	{Err: campaign.ErrAlreadyExists, Status: http.StatusConflict},
	{Err: campaign.ErrInvalidTransition, Status: http.StatusConflict, Code: "invalid_transition"},
	{Err: campaign.ErrInvalidInput, Status: http.StatusBadRequest, Code: "invalid_input"},
	{Err: campaign.ErrUnsupportedSource, Status: http.StatusBadRequest, Code: "unsupported_source"},
	{Err: campaign.ErrTemplateNotFound, Status: http.StatusNotFound, Code: "template_not_found"},
	{Err: campaign.ErrTemplateNotApproved, Status: http.StatusUnprocessableEntity, Code: "template_not_approved"},
	{Err: campaign.ErrNoValidContacts, Status: http.StatusUnprocessableEntity, Code: "no_valid_contacts"},
	{Err: campaign.ErrQuotaExceeded, Status: http.StatusForbidden, Code: "quota_exceeded"},
	{Err: campaign.ErrSchedulingUnavailable, Status: http.StatusUnprocessableEntity, Code: "scheduling_unavailable"},

	{Err: storage.ErrUnsupportedScheme, Status: http.StatusBadRequest, Code: "unsupported_source"},
	{Err: storage.ErrInvalidURI, Status: http.StatusBadRequest, Code: "invalid_source_uri"},
	{Err: storage.ErrBucketNotAllowed, Status: http.StatusForbidden, Code: "bucket_not_allowed"},
	{Err: storage.ErrObjectNotFound, Status: http.StatusUnprocessableEntity, Code: "source_not_found"},
	{Err: storage.ErrObjectTooLarge, Status: http.StatusUnprocessableEntity, Code: "source_too_large"},

	{Err: blacklist.ErrNotFound, Status: http.StatusNotFound, Code: "blacklist_entry_not_found"},
	{Err: blacklist.ErrAlreadyBlacklisted, Status: http.StatusConflict, Code: "already_blacklisted"},
	{Err: blacklist.ErrNotAuthorized, Status: http.StatusForbidden},
	{Err: blacklist.ErrInvalidPhone, Status: http.StatusBadRequest, Code: "invalid_phone"},
	{Err: blacklist.ErrReporterRequired, Status: http.StatusBadRequest},

	{Err: scheduler.ErrNotFound, Status: http.StatusNotFound, Code: "schedule_not_found"},
	{Err: scheduler.ErrNotPending, Status: http.StatusConflict, Code: "schedule_not_pending"},
	{Err: scheduler.ErrInvalidSchedule, Status: http.StatusBadRequest, Code: "invalid_schedule"},
	{Err: scheduler.ErrNotAuthorized, Status: http.StatusForbidden},
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	httputil.JSON(w, status, data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	httputil.Error(w, status, message)
}

// respondServiceError translates a service error into a response.
func respondServiceError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err, errorStatuses)
}
