package domain

// Rejection reasons recorded for contacts that never reach the send loop.
const (
	RejectValidation   = "validation"
	RejectMissingPhone = "missing_phone"
	RejectDuplicate    = "duplicate"
	RejectBlacklisted  = "blacklisted"
)

// ContactTable is raw tabular contact data: a header row plus data rows.
type ContactTable struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Contact is one row from the uploaded list after normalization.
type Contact struct {
	Row             int               `json:"row"`
	Name            string            `json:"name,omitempty"`
	Phone           string            `json:"phone"`
	NormalizedPhone string            `json:"normalized_phone,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
	Valid           bool              `json:"valid"`
	RejectReason    string            `json:"reject_reason,omitempty"`
}

// RejectedRow records why a data row was excluded.
type RejectedRow struct {
	Row    int    `json:"row"`
	Phone  string `json:"phone,omitempty"`
	Reason string `json:"reason"`
}
