package contacts

import (
	"errors"
	"strings"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/phone"
)

var (
	ErrEmptyTable      = errors.New("contact list is empty")
	ErrNoPhoneColumn   = errors.New("no phone column found")
	ErrNoValidContacts = errors.New("no valid contacts")
)

// Recognized header aliases, compared after normalizeHeader.
var (
	phoneAliases = []string{
		"phone", "phone_number", "phonenumber", "mobile", "cell", "telephone", "tel",
		"whatsapp", "telefono", "teléfono", "celular", "movil", "móvil", "numero", "número",
	}
	nameAliases = []string{"name", "full_name", "first_name", "nombre", "nombre_completo"}
)

// Result is the valid/rejected partition of a parsed table.
type Result struct {
	Valid    []domain.Contact     `json:"valid"`
	Rejected []domain.RejectedRow `json:"rejected"`
	// Total counts every non-blank data row.
	Total int `json:"total"`
}

// Parser turns a ContactTable into contacts.
type Parser struct {
	normalizer *phone.Normalizer
}

// NewParser creates a parser using the given phone normalizer.
func NewParser(n *phone.Normalizer) *Parser {
	return &Parser{normalizer: n}
}

// Parse normalizes every data row. Row numbers are 1-based file lines, so the
// first data row is row 2. A table without a single valid contact returns the
// partial result together with ErrNoValidContacts.
func (p *Parser) Parse(table domain.ContactTable) (*Result, error) {
	if len(table.Header) == 0 {
		return nil, ErrEmptyTable
	}

	headers := make([]string, len(table.Header))
	for i, h := range table.Header {
		headers[i] = normalizeHeader(h)
	}
	phoneCol := findColumn(headers, phoneAliases)
	if phoneCol < 0 {
		return nil, ErrNoPhoneColumn
	}
	nameCol := findColumn(headers, nameAliases)

	res := &Result{}
	seen := make(map[string]int)

	for i, row := range table.Rows {
		if isBlank(row) {
			continue
		}
		res.Total++
		line := i + 2

		c := domain.Contact{
			Row:    line,
			Phone:  cell(row, phoneCol),
			Fields: make(map[string]string, len(headers)),
		}
		if nameCol >= 0 {
			c.Name = cell(row, nameCol)
		}
		for col, h := range headers {
			if h == "" {
				continue
			}
			if _, dup := c.Fields[h]; dup {
				continue
			}
			c.Fields[h] = cell(row, col)
		}

		if c.Phone == "" {
			res.Rejected = append(res.Rejected, domain.RejectedRow{Row: line, Reason: domain.RejectMissingPhone})
			continue
		}
		normalized, err := p.normalizer.Normalize(c.Phone)
		if err != nil {
			res.Rejected = append(res.Rejected, domain.RejectedRow{Row: line, Phone: c.Phone, Reason: domain.RejectValidation})
			continue
		}
		if _, dup := seen[normalized]; dup {
			res.Rejected = append(res.Rejected, domain.RejectedRow{Row: line, Phone: c.Phone, Reason: domain.RejectDuplicate})
			continue
		}
		seen[normalized] = line

		c.NormalizedPhone = normalized
		c.Valid = true
		res.Valid = append(res.Valid, c)
	}

	if len(res.Valid) == 0 {
		return res, ErrNoValidContacts
	}
	return res, nil
}

func normalizeHeader(header string) string {
	// Convert to lowercase, trim spaces, replace common separators
	normalized := strings.ToLower(strings.TrimSpace(header))
	normalized = strings.TrimPrefix(normalized, "\ufeff")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return normalized
}

// NormalizeColumn exposes header normalization for variable mappings, so a
// mapping to "Nombre Completo" resolves against the "nombre_completo" field.
func NormalizeColumn(name string) string {
	return normalizeHeader(name)
}

func findColumn(headers []string, aliases []string) int {
	for _, alias := range aliases {
		for i, h := range headers {
			if h == alias {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
