// Package contracts provides the message exchange carrier that flows through
// planned interceptor pipelines.
//
// An Exchange is the mutable unit of work handed to every interceptor in a plan:
//   - Headers: transport-level string headers (correlation, encoding, signatures)
//   - Body: the raw payload bytes
//   - Properties: a shared bag for values passed between interceptors
//
// Exchanges are owned by a single goroutine for the lifetime of one pipeline
// execution. The property bag is additionally safe for concurrent use so that
// hosting code may inspect it while a pipeline runs.
package contracts
