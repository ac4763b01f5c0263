package domain

// ErrorCategory classifies a failed message send.
type ErrorCategory string

const (
	ErrRateLimit     ErrorCategory = "rate_limit"
	ErrInvalidNumber ErrorCategory = "invalid_number"
	ErrBlocked       ErrorCategory = "blocked"
	ErrNetwork       ErrorCategory = "network"
	ErrAuth          ErrorCategory = "auth"
	ErrUnknown       ErrorCategory = "unknown"
)

// Retryable reports whether a send failing with this category may be
// attempted again within the same job run.
func (c ErrorCategory) Retryable() bool {
	return c == ErrRateLimit || c == ErrNetwork || c == ErrUnknown
}

// JobErrorKind classifies a failure of a whole campaign job.
type JobErrorKind string

const (
	JobValidationFailure     JobErrorKind = "validation_failure"
	JobSystemError           JobErrorKind = "system_error"
	JobQuotaExceeded         JobErrorKind = "quota_exceeded"
	JobCircuitBreakerTripped JobErrorKind = "circuit_breaker_tripped"
)

// Retryable is true only for unexpected system errors; every other kind is a
// structural problem that a retry cannot fix.
func (k JobErrorKind) Retryable() bool {
	return k == JobSystemError
}
