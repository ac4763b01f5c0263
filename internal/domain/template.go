package domain

import "strings"

// TemplateStatus mirrors the provider-side approval state.
type TemplateStatus string

const (
	TemplateApproved TemplateStatus = "approved"
	TemplatePending  TemplateStatus = "pending"
	TemplateRejected TemplateStatus = "rejected"
)

// Template is an approved message template snapshot. Variables are listed in
// the order the provider expects their parameters.
type Template struct {
	ID        string         `json:"id" db:"id"`
	TenantID  string         `json:"tenant_id" db:"tenant_id"`
	Name      string         `json:"name" db:"name"`
	Language  string         `json:"language" db:"language"`
	Category  string         `json:"category" db:"category"`
	Body      string         `json:"body" db:"body"`
	Variables []string       `json:"variables" db:"variables"`
	Status    TemplateStatus `json:"status" db:"status"`
}

// ChannelType maps the template category onto a throughput class.
func (t *Template) ChannelType() ChannelType {
	switch strings.ToLower(t.Category) {
	case "utility", "authentication":
		return ChannelUtility
	default:
		return ChannelMarketing
	}
}
