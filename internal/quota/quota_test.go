package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/whatsapp-dispatch/internal/pkg/httpretry"
)

func TestClientAvailableRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tenants/t-1/allowance", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"available": 42})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, 2, httpretry.WithDelays(time.Millisecond, 5*time.Millisecond))
	n, err := c.Available(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientConsume(t *testing.T) {
	var got map[string]int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tenants/t-1/usage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, 1)
	require.NoError(t, c.Consume(context.Background(), "t-1", 7))
	assert.Equal(t, map[string]int{"messages": 7}, got)
}

func TestClientPaymentRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, 1)
	_, err := c.Available(context.Background(), "t-1")
	assert.ErrorIs(t, err, ErrInsufficient)
}

func TestRequireAndLedger(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(map[string]int{"t-1": 10})

	require.NoError(t, Require(ctx, l, "t-1", 10))
	require.NoError(t, l.Consume(ctx, "t-1", 8))
	assert.Equal(t, 8, l.Used("t-1"))

	err := Require(ctx, l, "t-1", 3)
	assert.ErrorIs(t, err, ErrInsufficient)

	err = Require(ctx, l, "unknown", 1)
	assert.ErrorIs(t, err, ErrInsufficient)

	require.NoError(t, Require(ctx, Unlimited{}, "any", 1_000_000))
}
