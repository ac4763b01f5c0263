package dispatch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/provider/whatsapp"
)

// Classify maps a send error to its category. Provider codes win over HTTP
// status, and HTTP status over message text.
func Classify(err error) domain.ErrorCategory {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrNetwork
	}

	var pe *whatsapp.ProviderError
	if errors.As(err, &pe) {
		if c, ok := byCode(pe.Code); ok {
			return c
		}
		if c, ok := byStatus(pe.HTTPStatus); ok {
			return c
		}
		return byMessage(pe.Message)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return domain.ErrNetwork
	}
	return byMessage(err.Error())
}

func byCode(code int) (domain.ErrorCategory, bool) {
	switch code {
	case whatsapp.CodeAPITooManyCalls, whatsapp.CodeRateLimitHit,
		whatsapp.CodeSpamRateLimit, whatsapp.CodePairRateLimit:
		return domain.ErrRateLimit, true
	case whatsapp.CodeRecipientNotValid, whatsapp.CodeRecipientNotOnWA:
		return domain.ErrInvalidNumber, true
	case whatsapp.CodeUserBlockedBusiness, whatsapp.CodeReEngagement, whatsapp.CodeTemporarilyBlocked:
		return domain.ErrBlocked, true
	case whatsapp.CodeAPIPermission, whatsapp.CodeAccessTokenExpired:
		return domain.ErrAuth, true
	case whatsapp.CodeServiceUnavailable:
		return domain.ErrNetwork, true
	}
	return "", false
}

func byStatus(status int) (domain.ErrorCategory, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimit, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrAuth, true
	case status >= 500:
		return domain.ErrNetwork, true
	}
	return "", false
}

var messageRules = []struct {
	category domain.ErrorCategory
	needles  []string
}{
	{domain.ErrRateLimit, []string{"rate limit", "too many", "throttl"}},
	{domain.ErrBlocked, []string{"blocked", "opted out", "spam"}},
	{domain.ErrInvalidNumber, []string{"invalid phone", "invalid number", "not a valid", "not on whatsapp", "incapable of receiving"}},
	{domain.ErrAuth, []string{"unauthorized", "access token", "permission", "authentication"}},
	{domain.ErrNetwork, []string{"timeout", "timed out", "connection", "network", "eof", "unavailable"}},
}

func byMessage(msg string) domain.ErrorCategory {
	msg = strings.ToLower(msg)
	for _, r := range messageRules {
		for _, n := range r.needles {
			if strings.Contains(msg, n) {
				return r.category
			}
		}
	}
	return domain.ErrUnknown
}
