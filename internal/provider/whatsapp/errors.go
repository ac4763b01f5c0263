package whatsapp

import "fmt"

// Cloud API error codes the dispatcher cares about.
const (
	CodeAuthException       = 0
	CodeAPIPermission       = 10
	CodeAPITooManyCalls     = 4
	CodeAccessTokenExpired  = 190
	CodeRateLimitHit        = 130429
	CodeSpamRateLimit       = 131048
	CodePairRateLimit       = 131056
	CodeRecipientNotValid   = 131026
	CodeRecipientNotOnWA    = 131030
	CodeUserBlockedBusiness = 131047
	CodeReEngagement        = 131051
	CodeServiceUnavailable  = 131000
	CodeTemporarilyBlocked  = 368
)

// ProviderError is a failed send as reported by the provider.
type ProviderError struct {
	Code       int
	Subcode    int
	Type       string
	Message    string
	HTTPStatus int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("whatsapp error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}
