package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glimte/mmate-policy/interceptors"
)

var (
	// ErrPolicyUnsatisfiable means an applicable assertion has no registered interceptor
	ErrPolicyUnsatisfiable = errors.New("policy unsatisfiable")
	// ErrFilterExhaustion means filter strategies removed every candidate for a role
	ErrFilterExhaustion = errors.New("filter exhaustion")
	// ErrFilterFailed means a filter strategy returned an error
	ErrFilterFailed = errors.New("filter strategy failed")
	// ErrInvalidRequest means the planning request itself is malformed
	ErrInvalidRequest = errors.New("invalid planning request")
)

// PlanningError describes why no plan could be produced. Kind is one of the
// package sentinels and is matched by errors.Is.
type PlanningError struct {
	Kind          error
	Index         int
	AssertionType string
	RoleID        interceptors.RoleID
	Reason        string
	Err           error
}

// Error implements the error interface
func (e *PlanningError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	fmt.Fprintf(&b, ": assertion %d", e.Index)
	if e.AssertionType != "" {
		fmt.Fprintf(&b, " (%s)", e.AssertionType)
	}
	if e.RoleID != "" {
		fmt.Fprintf(&b, " role %s", e.RoleID)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the kind and the underlying cause
func (e *PlanningError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// AsPlanningError extracts a PlanningError from err
func AsPlanningError(err error) (*PlanningError, bool) {
	var pe *PlanningError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
