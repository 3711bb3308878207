package interceptors

import (
	"context"
	"errors"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/policy"
)

// ErrShortCircuit is returned when an interceptor stops the pipeline on purpose
var ErrShortCircuit = errors.New("interceptor pipeline short-circuited")

// ShortCircuitResult contains the result of a short-circuited exchange
type ShortCircuitResult struct {
	Result interface{}
	Reason string
}

// ShortCircuitError represents a short-circuit with additional information
type ShortCircuitError struct {
	Result *ShortCircuitResult
}

// Error implements the error interface
func (e *ShortCircuitError) Error() string {
	if e.Result != nil && e.Result.Reason != "" {
		return e.Result.Reason
	}
	return ErrShortCircuit.Error()
}

// Is lets errors.Is match ErrShortCircuit
func (e *ShortCircuitError) Is(target error) bool {
	return target == ErrShortCircuit
}

// IsShortCircuit checks if an error is a short-circuit error
func IsShortCircuit(err error) bool {
	if err == nil {
		return false
	}
	var scErr *ShortCircuitError
	return errors.As(err, &scErr) || errors.Is(err, ErrShortCircuit)
}

// GetShortCircuitResult extracts the short-circuit result from an error
func GetShortCircuitResult(err error) (*ShortCircuitResult, bool) {
	var scErr *ShortCircuitError
	if errors.As(err, &scErr) && scErr.Result != nil {
		return scErr.Result, true
	}
	return nil, false
}

// FaultEvaluator decides whether an exchange is short-circuited
type FaultEvaluator interface {
	ShouldShortCircuit(ctx context.Context, ex *contracts.Exchange, params policy.Params) (bool, *ShortCircuitResult, error)
}

// FaultEvaluatorFunc is a function adapter for FaultEvaluator
type FaultEvaluatorFunc func(ctx context.Context, ex *contracts.Exchange, params policy.Params) (bool, *ShortCircuitResult, error)

// ShouldShortCircuit implements FaultEvaluator
func (f FaultEvaluatorFunc) ShouldShortCircuit(ctx context.Context, ex *contracts.Exchange, params policy.Params) (bool, *ShortCircuitResult, error) {
	return f(ctx, ex, params)
}

// Fault short-circuits exchanges. It is used for fault injection and for
// interceptors that answer an exchange without letting later steps run.
type Fault struct {
	base
	evaluator FaultEvaluator
}

// NewFault creates an interceptor that always short-circuits with reason.
// A "reason" assertion parameter overrides the configured reason.
func NewFault(roleID RoleID, reason string, opts ...Option) *Fault {
	return NewConditionalFault(roleID, FaultEvaluatorFunc(
		func(ctx context.Context, ex *contracts.Exchange, params policy.Params) (bool, *ShortCircuitResult, error) {
			return true, &ShortCircuitResult{Reason: params.GetStringOr("reason", reason)}, nil
		}), opts...)
}

// NewConditionalFault creates an interceptor that short-circuits when the
// evaluator says so
func NewConditionalFault(roleID RoleID, evaluator FaultEvaluator, opts ...Option) *Fault {
	return &Fault{
		base: newBase(Descriptor{
			RoleID: roleID,
			Name:   "fault",
			Kind:   KindExtension,
		}, opts),
		evaluator: evaluator,
	}
}

// Process implements Interceptor
func (f *Fault) Process(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
	shouldShortCircuit, result, err := f.evaluator.ShouldShortCircuit(ctx, ex, params)
	if err != nil {
		return err
	}

	if shouldShortCircuit {
		return &ShortCircuitError{Result: result}
	}

	return nil
}
