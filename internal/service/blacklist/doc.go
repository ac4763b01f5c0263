// Package blacklist implements the phone number suppression list.
//
// This is the single source of truth for whether a number may receive
// WhatsApp messages. Entries come from admin actions, tenant user reports
// and automatic escalation after repeated abuse reports, and are checked
// before every campaign dispatch.
//
// Lookups are served from a short-lived cache and fall back to the
// Repository on a miss. On a store error the lookup fails open (the number is
// treated as not blocked) unless Options.StrictLookups is set. Any mutation
// flushes the whole cache.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package blacklist
