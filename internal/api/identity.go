package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// Identity headers are set by the gateway that authenticates callers.
const (
	HeaderTenant = "X-Tenant-ID"
	HeaderUser   = "X-User-ID"
	HeaderTier   = "X-Tenant-Tier"
	HeaderRole   = "X-User-Role"
)

// RoleAdmin marks privileged callers.
const RoleAdmin = "admin"

// Identity is the caller of an /api request.
type Identity struct {
	TenantID string
	UserID   string
	Tier     string
	Admin    bool
}

// Actor returns the identity as a mutation actor.
func (id Identity) Actor() domain.Actor {
	return domain.Actor{ID: id.UserID, Privileged: id.Admin}
}

type identityKey struct{}

// RequireIdentity rejects requests without a tenant and stores the caller
// identity in the request context.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{
			TenantID: strings.TrimSpace(r.Header.Get(HeaderTenant)),
			UserID:   strings.TrimSpace(r.Header.Get(HeaderUser)),
			Tier:     strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderTier))),
			Admin:    strings.EqualFold(r.Header.Get(HeaderRole), RoleAdmin),
		}
		if id.TenantID == "" {
			respondError(w, http.StatusUnauthorized, "missing "+HeaderTenant)
			return
		}
		if id.UserID == "" {
			id.UserID = id.TenantID
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// IdentityFrom returns the identity stored by RequireIdentity.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
