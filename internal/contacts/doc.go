// Package contacts parses uploaded tabular contact data into normalized
// contact records.
//
// Parsing is deterministic: the same table always yields the same
// valid/rejected partition. Rows are kept in source order, which is the
// order the dispatch loop sends in.
package contacts
