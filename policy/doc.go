// Package policy defines the declarative inputs to interceptor planning.
//
// A Policy is an immutable, ordered list of assertions. Each assertion names a
// required cross-cutting capability (authentication, compression, signing,
// correlation, transformation or an extension capability) together with its
// parameters and optional allow hints for candidate selection. The Role and
// Scope types describe the planning context: which side of the exchange the
// local endpoint plays, and which opaque configuration scope applies.
//
// Policies can be built in code with New or parsed from YAML documents:
//
//	id: orders
//	assertions:
//	  - type: correlation
//	  - type: signing
//	    roles: [requester]
//	  - type: compression
//	    params:
//	      algorithm: zstd
package policy
