// Package whatsapp sends template messages through the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/ignite/whatsapp-dispatch/internal/pkg/logger"
)

// Message is one outbound template send.
type Message struct {
	// From overrides the configured sender phone number ID.
	From       string
	To         string
	TemplateID string
	// TemplateName and Language identify the approved template on the
	// provider side.
	TemplateName string
	Language     string
	Variables    map[string]string
	// Order lists variable names in the order the template's body
	// parameters expect them.
	Order []string
}

// Sender sends one message and returns the provider message ID.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient replaces the authenticated HTTP client. Tests use this to
// point at httptest servers.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// Client is a WhatsApp Cloud API sender.
type Client struct {
	baseURL       string
	version       string
	phoneNumberID string
	http          *http.Client
	maxBodyBytes  int64
}

// NewClient creates a Cloud API client. The access token is attached to
// every request by an oauth2 bearer transport.
func NewClient(baseURL, version, phoneNumberID, accessToken string, timeout time.Duration, opts ...Option) (*Client, error) {
	if strings.TrimSpace(phoneNumberID) == "" {
		return nil, errors.New("whatsapp: phone number ID is required")
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("whatsapp: access token is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	hc := oauth2.NewClient(context.Background(), ts)
	hc.Timeout = timeout

	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		version:       version,
		phoneNumberID: phoneNumberID,
		http:          hc,
		maxBodyBytes:  16 * 1024,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type parameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []parameter `json:"parameters"`
}

type templateBody struct {
	Name       string            `json:"name"`
	Language   map[string]string `json:"language"`
	Components []component       `json:"components,omitempty"`
}

type sendRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

// Send implements Sender.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	sender := c.phoneNumberID
	if msg.From != "" {
		sender = msg.From
	}

	req := sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(msg.To, "+"),
		Type:             "template",
		Template: templateBody{
			Name:     msg.TemplateName,
			Language: map[string]string{"code": msg.Language},
		},
	}
	if len(msg.Order) > 0 {
		params := make([]parameter, 0, len(msg.Order))
		for _, name := range msg.Order {
			params = append(params, parameter{Type: "text", Text: msg.Variables[name]})
		}
		req.Template.Components = []component{{Type: "body", Parameters: params}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, sender)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("whatsapp: read response: %w", err)
	}

	var out sendResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode >= 300 || out.Error != nil {
		pe := &ProviderError{HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		if out.Error != nil {
			pe.Code = out.Error.Code
			pe.Subcode = out.Error.Subcode
			pe.Type = out.Error.Type
			pe.Message = out.Error.Message
		}
		return "", pe
	}
	if decodeErr != nil {
		return "", fmt.Errorf("whatsapp: decode response: %w", decodeErr)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", &ProviderError{HTTPStatus: resp.StatusCode, Message: "response carried no message id"}
	}
	return out.Messages[0].ID, nil
}

// DryRun is a Sender that never leaves the process. It is wired when no
// access token is configured so local runs exercise the whole pipeline.
type DryRun struct{}

// Send implements Sender.
func (DryRun) Send(_ context.Context, msg Message) (string, error) {
	id := "dryrun." + uuid.New().String()
	logger.Debug("whatsapp dry run send", "to", msg.To, "template", msg.TemplateName, "message_id", id)
	return id, nil
}
