package domain

// CampaignRequest is everything needed to create and run a campaign. It is
// persisted verbatim for scheduled campaigns so execution never depends on
// a transient upload.
type CampaignRequest struct {
	TenantID         string            `json:"tenant_id"`
	UserID           string            `json:"user_id"`
	Tier             string            `json:"tier,omitempty"`
	Name             string            `json:"name"`
	From             string            `json:"from,omitempty"`
	Template         Template          `json:"template"`
	Contacts         ContactTable      `json:"contacts"`
	VariableMappings map[string]string `json:"variable_mappings,omitempty"`
	DefaultValues    map[string]string `json:"default_values,omitempty"`
}

// JobPayload is the serialized body of a CampaignJob. Once the worker has
// validated and filtered the list, Prepared is set and Contacts holds the
// send list; Offset is the index of the next contact to send.
type JobPayload struct {
	CampaignID string          `json:"campaign_id"`
	Request    CampaignRequest `json:"request"`
	Prepared   bool            `json:"prepared"`
	Contacts   []Contact       `json:"contacts,omitempty"`
	Offset     int             `json:"offset"`
}

// Tier priorities. Lower numbers are dequeued first.
const (
	PriorityEnterprise = 1
	PriorityBusiness   = 2
	PriorityStandard   = 3
	PriorityFree       = 4
)

// TierPriority maps a tenant tier to its queue priority.
func TierPriority(tier string) int {
	switch tier {
	case "enterprise":
		return PriorityEnterprise
	case "business":
		return PriorityBusiness
	case "free":
		return PriorityFree
	default:
		return PriorityStandard
	}
}
