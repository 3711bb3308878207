package interceptors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/jsonc"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/policy"
)

// Transformation operations
const (
	OperationJSONToCBOR   = "json-to-cbor"
	OperationCBORToJSON   = "cbor-to-json"
	OperationJSONCToJSON  = "jsonc-to-json"
	OperationSetHeader    = "set-header"
	OperationRemoveHeader = "remove-header"
)

// Content types written by Transformation
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// ErrUnknownOperation is returned for unsupported transformation operations
var ErrUnknownOperation = errors.New("unknown transformation operation")

// Transformation rewrites exchange bodies and headers. The operation comes
// from the assertion's "operation" parameter, falling back to the
// "operation" property, so one instance can serve several assertions.
type Transformation struct {
	base
	operation string
	encMode   cbor.EncMode
	decMode   cbor.DecMode
}

// NewTransformation creates a transformation interceptor
func NewTransformation(opts ...Option) (*Transformation, error) {
	b := newBase(Descriptor{
		RoleID: RoleTransformation,
		Name:   "transformation",
		Kind:   KindTransformation,
	}, opts)

	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("CBOR encoder initialization failed: %w", err)
	}
	// JSON only has string keys, so decode CBOR maps as map[string]any
	decMode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("CBOR decoder initialization failed: %w", err)
	}

	return &Transformation{
		base:      b,
		operation: b.stringProp("operation", ""),
		encMode:   encMode,
		decMode:   decMode,
	}, nil
}

// Process implements Interceptor
func (t *Transformation) Process(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
	operation := params.GetStringOr("operation", t.operation)

	switch operation {
	case OperationJSONToCBOR:
		return t.jsonToCBOR(ex)
	case OperationCBORToJSON:
		return t.cborToJSON(ex)
	case OperationJSONCToJSON:
		body := jsonc.ToJSON(ex.Body)
		if !json.Valid(body) {
			return fmt.Errorf("%s: body is not valid JSON with comments", operation)
		}
		ex.Body = body
		ex.SetHeader(contracts.HeaderContentType, ContentTypeJSON)
		return nil
	case OperationSetHeader:
		name, ok := params.GetString("header")
		if !ok || name == "" {
			return fmt.Errorf("%s: missing header parameter", operation)
		}
		ex.SetHeader(name, params.GetStringOr("value", ""))
		return nil
	case OperationRemoveHeader:
		name, ok := params.GetString("header")
		if !ok || name == "" {
			return fmt.Errorf("%s: missing header parameter", operation)
		}
		ex.DeleteHeader(name)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, operation)
	}
}

func (t *Transformation) jsonToCBOR(ex *contracts.Exchange) error {
	var v interface{}
	if err := json.Unmarshal(ex.Body, &v); err != nil {
		return fmt.Errorf("%s: %w", OperationJSONToCBOR, err)
	}
	body, err := t.encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: %w", OperationJSONToCBOR, err)
	}
	ex.Body = body
	ex.SetHeader(contracts.HeaderContentType, ContentTypeCBOR)
	return nil
}

func (t *Transformation) cborToJSON(ex *contracts.Exchange) error {
	var v interface{}
	if err := t.decMode.Unmarshal(ex.Body, &v); err != nil {
		return fmt.Errorf("%s: %w", OperationCBORToJSON, err)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: %w", OperationCBORToJSON, err)
	}
	ex.Body = body
	ex.SetHeader(contracts.HeaderContentType, ContentTypeJSON)
	return nil
}
