package dispatch

import (
	"errors"
	"fmt"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// ErrTooManyErrors is the cause recorded when the circuit breaker trips.
var ErrTooManyErrors = errors.New("too many critical errors")

// JobError is a failure of a whole campaign job.
type JobError struct {
	Kind domain.JobErrorKind
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Retryable reports whether the queue should try the job again.
func (e *JobError) Retryable() bool { return e.Kind.Retryable() }

func jobErr(kind domain.JobErrorKind, err error) *JobError {
	return &JobError{Kind: kind, Err: err}
}

// KindOf returns the job error kind of err. Errors that are not a JobError
// are system errors.
func KindOf(err error) domain.JobErrorKind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return domain.JobSystemError
}
