package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound              = errors.New("campaign not found")
	ErrAlreadyExists         = errors.New("campaign already exists")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrInvalidInput          = errors.New("invalid campaign input")
	ErrTemplateNotFound      = errors.New("template not found")
	ErrTemplateNotApproved   = errors.New("template is not approved")
	ErrNoValidContacts       = errors.New("no valid contacts")
	ErrQuotaExceeded         = errors.New("message quota exceeded")
	ErrSchedulingUnavailable = errors.New("scheduling is not configured")
	ErrUnsupportedSource     = errors.New("unsupported contact source")
)
