// Package interceptors defines the interceptor capability contract and the
// built-in interceptor variants.
//
// An interceptor is a single unit of cross-cutting processing applied to a
// message exchange. Every interceptor carries a Descriptor:
//   - RoleID: the globally unique capability it provides
//   - Name: the instance identity used by filter hints
//   - Kind: a closed variant tag
//   - Priority: lower values run earlier among candidates of one role
//
// Built-in variants:
//   - Authentication: mints or verifies JWT bearer tokens
//   - Compression: zstd or lz4 body compression
//   - Correlation: ensures and propagates correlation identifiers
//   - Signing: BLAKE3 keyed message authentication codes
//   - Transformation: JSON, JSONC and CBOR body conversion, header rewriting
//   - Extension: function-backed interceptor for custom capabilities
//   - Fault: short-circuits processing, used for fault injection
//
// Custom interceptors implement the Interceptor interface:
//
//	type AuditInterceptor struct{}
//
//	func (a *AuditInterceptor) Descriptor() interceptors.Descriptor {
//		return interceptors.Descriptor{RoleID: "acme.audit", Name: "audit", Kind: interceptors.KindExtension}
//	}
//
//	func (a *AuditInterceptor) Properties() interceptors.Properties {
//		return interceptors.Properties{}
//	}
//
//	func (a *AuditInterceptor) Process(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
//		ex.Props().Set("audited", true)
//		return nil
//	}
//
// Interceptors are shared between concurrently processed exchanges and must
// not keep per-exchange state in their own fields.
package interceptors
