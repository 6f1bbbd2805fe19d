// Package phlow provides an authentication decision engine for agent-to-agent calls,
// with signed inter-agent tokens, per-principal rate quotas, a TTL-cached principal
// directory, and durable asynchronous audit delivery.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// phlow is the public surface. It exposes [Engine], [Builder], [Config], and value types
// (Principal, AuthContext, AuditEvent, MetricsSnapshot). All internal coordination —
// directory caching, rate windows, audit flushing — lives under internal/ and is never
// exported. The [token] subpackage owns the wire codec; [registry] provides backing-store
// implementations of the [Registry] interface.
//
// # What this package must NOT do
//
//   - Resolve a token's verification key or algorithm from the token itself — both
//     always come from the registered principal record.
//   - Perform registry or sink I/O on the Authenticate hot path beyond a directory
//     cache miss; audit delivery is always asynchronous.
//   - Fail an otherwise valid authentication because audit delivery is degraded.
package phlow
