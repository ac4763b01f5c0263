package blacklist

import "errors"

// Sentinel errors for the blacklist service layer.
var (
	ErrNotFound           = errors.New("blacklist entry not found")
	ErrAlreadyBlacklisted = errors.New("phone number is already blacklisted")
	ErrNotAuthorized      = errors.New("not authorized to remove this entry")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrReporterRequired   = errors.New("reporter is required")
)
