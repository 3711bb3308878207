package interceptors

import (
	"context"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/policy"
)

// ProcessFunc is the processing function of an Extension interceptor
type ProcessFunc func(ctx context.Context, ex *contracts.Exchange, params policy.Params) error

// Extension is a function-backed interceptor for capabilities outside the
// built-in set
type Extension struct {
	base
	fn ProcessFunc
}

// NewExtension creates a new function-based interceptor
func NewExtension(roleID RoleID, name string, fn ProcessFunc, opts ...Option) *Extension {
	return &Extension{
		base: newBase(Descriptor{
			RoleID: roleID,
			Name:   name,
			Kind:   KindExtension,
		}, opts),
		fn: fn,
	}
}

// Process implements Interceptor
func (e *Extension) Process(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
	return e.fn(ctx, ex, params)
}
