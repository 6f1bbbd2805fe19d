// Package rate bounds per-principal request volume within fixed time windows.
//
// # Window semantics
//
// Fixed-window counters. The in-memory [Limiter] keeps one window per key,
// serialized by a per-key lock so concurrent callers against the same principal
// cannot race past the limit. The Redis-backed [RedisLimiter] uses INCR plus a
// conditional EXPIRE on the first hit in a window (key prefix "prl:"), for
// deployments where several engine instances share one quota.
//
// A fixed window tolerates a boundary burst of at most 2x the limit when a
// burst straddles the rollover instant. Callers that need a strictly sliding
// guarantee must size the limit accordingly.
//
// # What this package must NOT do
//
//   - Decide the consequence of a denial — the engine maps it to its taxonomy.
//   - Be imported outside the phlow module.
package rate
