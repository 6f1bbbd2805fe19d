// Package directory caches principal records resolved from a backing registry
// with time-bounded entries.
//
// # Freshness model
//
// An entry younger than TTL is served without touching the registry. On a miss
// or an expired entry the cache fetches from the registry with a bounded
// per-attempt timeout and a fixed retry budget; if every attempt fails, a stale
// entry still inside the grace period is served instead. Entries older than
// TTL+grace are never served and are evicted by a periodic sweep that processes
// entries one at a time.
//
// # What this package must NOT do
//
//   - Deduplicate concurrent fetches for one id — last write wins, the cost is
//     only redundant registry work.
//   - Be imported outside the phlow module.
package directory
