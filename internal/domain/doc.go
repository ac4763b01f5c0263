// Package domain holds the value types shared by every stage of the
// dispatch pipeline: campaigns and their job payloads, contacts, message
// log entries, blacklist entries and abuse reports, schedules, templates
// and progress events.
//
// The package imports nothing else from internal/. Methods are limited to
// pure helpers on the types (status transitions, tier priorities, progress
// percentages); storage and transport live elsewhere.
package domain
