// Package vectorstore adapts vector engines to the chunk store.
//
// An Engine holds one engine-side table per collection, named by the
// collection's system-generated table id. Two engines are provided:
//
//   - chromem: embedded chromem-go, optionally persisted to disk (default)
//   - qdrant: remote Qdrant over gRPC, with retry and a circuit breaker
//
// Table names are validated against ^[a-z0-9_]{1,64}$ before they reach
// an engine. Tenant isolation is not the engine's concern: callers only
// reach a table after the collection registry resolved it for the owner.
package vectorstore
