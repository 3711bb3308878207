// Package filters provides pluggable filter strategies that narrow the
// candidate interceptors for a role during planning.
//
// Strategies are registered in a Set with a priority and are applied in
// ascending priority order, each consuming the previous strategy's output.
// Every strategy receives the planning hints: named payloads derived from
// policy assertions and from the planning context.
//
// Built-in strategies:
//   - AllowList: keeps candidates explicitly allowed by a mapping hint
//   - DenyList: drops candidates explicitly denied by a mapping hint
//   - PrioritySort: stable reordering by descriptor priority
//   - CEL: keeps candidates for which a CEL expression holds
//
// Strategies must be safe for concurrent use; the built-ins are stateless or
// internally synchronized.
package filters
