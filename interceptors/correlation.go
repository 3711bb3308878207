package interceptors

import (
	"context"

	"github.com/google/uuid"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/policy"
)

// Correlation ensures every exchange carries a correlation identifier and
// mirrors it between the exchange and its headers
type Correlation struct {
	base
	header string
}

// NewCorrelation creates a correlation interceptor. The "header" property
// overrides the header name.
func NewCorrelation(opts ...Option) *Correlation {
	b := newBase(Descriptor{
		RoleID: RoleCorrelation,
		Name:   "correlation",
		Kind:   KindCorrelation,
	}, opts)
	return &Correlation{
		base:   b,
		header: b.stringProp("header", contracts.HeaderCorrelationID),
	}
}

// Process implements Interceptor
func (c *Correlation) Process(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
	header := params.GetStringOr("header", c.header)

	if ex.CorrelationID == "" {
		if v, ok := ex.Header(header); ok && v != "" {
			ex.CorrelationID = v
		} else {
			ex.CorrelationID = uuid.New().String()
		}
	}
	ex.SetHeader(header, ex.CorrelationID)

	if ex.TraceID != "" {
		if _, ok := ex.Header(contracts.HeaderTraceID); !ok {
			ex.SetHeader(contracts.HeaderTraceID, ex.TraceID)
		}
	} else if v, ok := ex.Header(contracts.HeaderTraceID); ok {
		ex.TraceID = v
	}

	return nil
}
