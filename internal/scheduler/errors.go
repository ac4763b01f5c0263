package scheduler

import "errors"

// Sentinel errors for deferred campaigns.
var (
	ErrNotFound        = errors.New("scheduled campaign not found")
	ErrNotPending      = errors.New("scheduled campaign is no longer pending")
	ErrInvalidSchedule = errors.New("invalid schedule time")
	ErrNotAuthorized   = errors.New("not authorized to cancel this schedule")
)
