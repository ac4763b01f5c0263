package api

import (
	"net/http"

	"github.com/ignite/whatsapp-dispatch/internal/pkg/httputil"
)

// Window is a limit/offset slice of a listing.
type Window struct {
	Limit  int
	Offset int
}

// PaginationMeta describes where a page sits in the full listing.
type PaginationMeta struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
	// NextOffset is omitted on the last page.
	NextOffset *int `json:"next_offset,omitempty"`
}

// Page is the envelope of every list endpoint.
type Page[T any] struct {
	Data       []T            `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// ParseWindow reads ?limit= and either ?offset= or ?page= (1-based). The
// limit is clamped to [1, maxLimit]; offset wins when both are given.
func ParseWindow(r *http.Request, def, maxLimit int) Window {
	limit := httputil.QueryInt(r, "limit", def)
	switch {
	case limit < 1:
		limit = def
	case limit > maxLimit:
		limit = maxLimit
	}
	if off := httputil.QueryInt(r, "offset", -1); off >= 0 {
		return Window{Limit: limit, Offset: off}
	}
	page := httputil.QueryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	return Window{Limit: limit, Offset: (page - 1) * limit}
}

// NewPage wraps one window of a listing that has total items.
func NewPage[T any](items []T, w Window, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	meta := PaginationMeta{Limit: w.Limit, Offset: w.Offset, Total: total}
	if next := w.Offset + len(items); len(items) > 0 && next < total {
		meta.HasMore = true
		meta.NextOffset = &next
	}
	return Page[T]{Data: items, Pagination: meta}
}
