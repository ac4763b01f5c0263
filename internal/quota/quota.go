// Package quota reads and consumes a tenant's message allowance from the
// billing service.
package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/pkg/httpretry"
)

// ErrInsufficient is returned when a tenant cannot afford a send.
var ErrInsufficient = errors.New("insufficient message allowance")

// Checker is the allowance contract consumed by submission, scheduling and
// dispatch.
type Checker interface {
	// Available returns how many messages the tenant may still send.
	Available(ctx context.Context, tenantID string) (int, error)
	// Consume records n sent messages against the tenant.
	Consume(ctx context.Context, tenantID string, n int) error
}

// Require returns ErrInsufficient if the tenant cannot send n messages.
func Require(ctx context.Context, c Checker, tenantID string, n int) error {
	avail, err := c.Available(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("check allowance: %w", err)
	}
	if avail < n {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficient, n, avail)
	}
	return nil
}

// Unlimited never restricts sends. Used when no billing service is configured.
type Unlimited struct{}

func (Unlimited) Available(context.Context, string) (int, error) { return math.MaxInt32, nil }
func (Unlimited) Consume(context.Context, string, int) error     { return nil }

// Ledger is an in-process allowance table for dev mode and tests.
type Ledger struct {
	mu        sync.Mutex
	allowance map[string]int
	used      map[string]int
}

// NewLedger creates a ledger with the given per-tenant allowances. Tenants
// not listed have no allowance.
func NewLedger(allowance map[string]int) *Ledger {
	l := &Ledger{allowance: make(map[string]int), used: make(map[string]int)}
	for k, v := range allowance {
		l.allowance[k] = v
	}
	return l
}

// Set replaces a tenant's allowance.
func (l *Ledger) Set(tenantID string, n int) {
	l.mu.Lock()
	l.allowance[tenantID] = n
	l.mu.Unlock()
}

// Used returns the messages consumed by a tenant.
func (l *Ledger) Used(tenantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[tenantID]
}

func (l *Ledger) Available(_ context.Context, tenantID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	avail := l.allowance[tenantID] - l.used[tenantID]
	if avail < 0 {
		avail = 0
	}
	return avail, nil
}

func (l *Ledger) Consume(_ context.Context, tenantID string, n int) error {
	l.mu.Lock()
	l.used[tenantID] += n
	l.mu.Unlock()
	return nil
}

// Client talks to the billing service over HTTP:
//
//	GET  {base}/tenants/{id}/allowance -> {"available": n}
//	POST {base}/tenants/{id}/usage       {"messages": n}
type Client struct {
	baseURL string
	apiKey  string
	http    httpretry.HTTPDoer
}

// NewClient creates a billing client. Transient failures are retried.
func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int, opts ...httpretry.Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpretry.NewRetryClient(&http.Client{Timeout: timeout}, maxRetries, opts...),
	}
}

type allowanceResponse struct {
	Available int `json:"available"`
}

func (c *Client) Available(ctx context.Context, tenantID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(tenantID, "allowance"), nil)
	if err != nil {
		return 0, err
	}
	var out allowanceResponse
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	return out.Available, nil
}

func (c *Client) Consume(ctx context.Context, tenantID string, n int) error {
	if n <= 0 {
		return nil
	}
	body, _ := json.Marshal(map[string]int{"messages": n})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(tenantID, "usage"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) endpoint(tenantID, resource string) string {
	return fmt.Sprintf("%s/tenants/%s/%s", c.baseURL, url.PathEscape(tenantID), resource)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("quota request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode == http.StatusPaymentRequired {
		return ErrInsufficient
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("quota service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode quota response: %w", err)
	}
	return nil
}
