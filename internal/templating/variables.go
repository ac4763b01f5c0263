// Package templating resolves per-contact template variables and renders
// template bodies with Liquid.
package templating

import (
	"strings"

	"github.com/ignite/whatsapp-dispatch/internal/contacts"
	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// ResolveVariables returns a value for every template variable using a fixed
// priority:
//
//  1. the contact column the user mapped the variable to
//  2. the tenant default value for the variable
//  3. a contact column whose name matches the variable
//  4. the empty string
//
// A mapping or column that resolves to an empty cell falls through to the
// next step.
func ResolveVariables(vars []string, c domain.Contact, mappings, defaults map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for _, v := range vars {
		out[v] = resolve(v, c, mappings, defaults)
	}
	return out
}

func resolve(v string, c domain.Contact, mappings, defaults map[string]string) string {
	if col, ok := mappings[v]; ok && col != "" {
		if val := field(c, col); val != "" {
			return val
		}
	}
	if val := strings.TrimSpace(defaults[v]); val != "" {
		return val
	}
	return field(c, v)
}

func field(c domain.Contact, col string) string {
	key := contacts.NormalizeColumn(col)
	if val, ok := c.Fields[key]; ok && val != "" {
		return val
	}
	switch key {
	case "name", "nombre":
		return c.Name
	case "phone", "telefono":
		return c.NormalizedPhone
	}
	return ""
}
