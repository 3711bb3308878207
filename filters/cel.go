package filters

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/registry"
)

// HintCELExpression names hints whose string payload is an additional CEL
// condition every kept candidate must satisfy
const HintCELExpression = "cel"

// CEL keeps candidates for which CEL conditions evaluate to true. Conditions
// see these variables:
//   - interceptor: map with roleId, name, kind, priority and properties
//   - role, scope: the planning context
//   - hints: hint payloads keyed by hint name
//
// Example: interceptor.priority < 10 && role == "provider"
type CEL struct {
	priority   int
	expression string
	env        *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCEL creates a CEL strategy. The expression may be empty, in which case
// only conditions supplied through hints are evaluated.
func NewCEL(expression string, priority int) (*CEL, error) {
	env, err := cel.NewEnv(
		cel.Variable("interceptor", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("role", cel.StringType),
		cel.Variable("scope", cel.StringType),
		cel.Variable("hints", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &CEL{
		priority:   priority,
		expression: expression,
		env:        env,
		programs:   make(map[string]cel.Program),
	}
	if expression != "" {
		if _, err := c.program(expression); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Name implements Strategy
func (c *CEL) Name() string {
	return "cel"
}

// Priority implements Strategy
func (c *CEL) Priority() int {
	return c.priority
}

// Filter implements Strategy
func (c *CEL) Filter(ctx context.Context, candidates []interceptors.Interceptor, reg registry.Reader, hints []Hint) ([]interceptors.Interceptor, error) {
	var expressions []string
	if c.expression != "" {
		expressions = append(expressions, c.expression)
	}
	for _, h := range hints {
		if h.Name != HintCELExpression {
			continue
		}
		if expr, ok := h.Payload.(string); ok && expr != "" {
			expressions = append(expressions, expr)
		}
	}
	if len(expressions) == 0 {
		return candidates, nil
	}

	programs := make([]cel.Program, 0, len(expressions))
	for _, expr := range expressions {
		prg, err := c.program(expr)
		if err != nil {
			return nil, err
		}
		programs = append(programs, prg)
	}

	role, scope, hintValues := celHints(hints)
	out := make([]interceptors.Interceptor, 0, len(candidates))
	for _, ic := range candidates {
		vars := map[string]interface{}{
			"interceptor": celInterceptor(ic),
			"role":        role,
			"scope":       scope,
			"hints":       hintValues,
		}

		keep := true
		for i, prg := range programs {
			ok, err := evalBool(prg, vars)
			if err != nil {
				return nil, fmt.Errorf("condition %q: %w", expressions[i], err)
			}
			if !ok {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, ic)
		}
	}
	return out, nil
}

// program gets a cached program or compiles a new one
func (c *CEL) program(expression string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL expression must return boolean, got %s", ast.OutputType())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL program: %w", err)
	}

	c.mu.Lock()
	c.programs[expression] = prg
	c.mu.Unlock()
	return prg, nil
}

func evalBool(prg cel.Program, vars map[string]interface{}) (bool, error) {
	result, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation failed: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression must return boolean, got %T", result.Value())
	}
	return b, nil
}

func celInterceptor(ic interceptors.Interceptor) map[string]interface{} {
	d := ic.Descriptor()
	props := ic.Properties()
	values := make(map[string]interface{}, props.Len())
	for _, k := range props.Keys() {
		v, _ := props.Get(k)
		if celCompatible(v) {
			values[k] = v
		}
	}
	return map[string]interface{}{
		"roleId":     string(d.RoleID),
		"name":       d.Name,
		"kind":       d.Kind.String(),
		"priority":   int64(d.Priority),
		"properties": values,
	}
}

func celHints(hints []Hint) (string, string, map[string]interface{}) {
	var role, scope string
	values := make(map[string]interface{}, len(hints))
	for _, h := range hints {
		if c, ok := h.Payload.(ContextHint); ok {
			if c.Role.Valid() {
				role = c.Role.String()
			}
			scope = string(c.Scope)
			continue
		}
		if celCompatible(h.Payload) {
			values[h.Name] = h.Payload
		}
	}
	return role, scope, values
}

func celCompatible(v interface{}) bool {
	switch v.(type) {
	case string, bool, int, int64, float64, []string, map[string]bool, map[string]string, map[string]interface{}:
		return true
	default:
		return false
	}
}
