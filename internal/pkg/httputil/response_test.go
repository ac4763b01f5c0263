package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMissing = errors.New("thing not found")
	errTaken   = errors.New("thing already exists")
	errBroken  = errors.New("thing store unavailable")
)

var testMappings = []ErrorStatus{
	{Err: errMissing, Status: http.StatusNotFound, Code: "not_found"},
	{Err: errTaken, Status: http.StatusConflict},
	{Err: errBroken, Status: http.StatusServiceUnavailable},
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
		wantCode   string
	}{
		{"wrapped sentinel", fmt.Errorf("load: %w", errMissing), http.StatusNotFound, "load: thing not found", "not_found"},
		{"conflict", errTaken, http.StatusConflict, "thing already exists", ""},
		{"5xx mapping hides detail", errBroken, http.StatusInternalServerError, "internal server error", ""},
		{"unmapped", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err, testMappings)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Error)
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=25&offset=abc", nil)
	assert.Equal(t, 25, QueryInt(r, "limit", 50))
	assert.Equal(t, 0, QueryInt(r, "offset", 0))
	assert.Equal(t, 7, QueryInt(r, "page", 7))
}

func TestDecodeRejectsBadJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/x", nil)
	r.Body = http.NoBody
	rec := httptest.NewRecorder()
	var dst map[string]any
	assert.False(t, Decode(rec, r, &dst))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
