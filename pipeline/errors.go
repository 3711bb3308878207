package pipeline

import (
	"errors"
	"fmt"

	"github.com/glimte/mmate-policy/interceptors"
)

var (
	// ErrInterceptorFailed matches every ProcessingError
	ErrInterceptorFailed = errors.New("interceptor processing failed")
	// ErrInterceptorPanic is wrapped when an interceptor panics
	ErrInterceptorPanic = errors.New("interceptor panicked")
	// ErrNilPlan is returned when Execute is called without a plan
	ErrNilPlan = errors.New("plan is nil")
	// ErrNilExchange is returned when Execute is called without an exchange
	ErrNilExchange = errors.New("exchange is nil")
)

// ProcessingError reports the step at which a pipeline stopped
type ProcessingError struct {
	Ordinal int
	RoleID  interceptors.RoleID
	Name    string
	Err     error
}

// Error implements the error interface
func (e *ProcessingError) Error() string {
	return fmt.Sprintf("interceptor %d (%s[%s]) failed: %v", e.Ordinal, e.RoleID, e.Name, e.Err)
}

// Unwrap returns the interceptor's error
func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrInterceptorFailed
func (e *ProcessingError) Is(target error) bool {
	return target == ErrInterceptorFailed
}

// AsProcessingError extracts a ProcessingError from err
func AsProcessingError(err error) (*ProcessingError, bool) {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
