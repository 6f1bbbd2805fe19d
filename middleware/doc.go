// Package middleware exposes HTTP middleware adapters for agent-to-agent
// request authentication built on top of phlow.Engine decisions.
//
// # Guards
//
//   - [Guard] — authenticates every request, no permission requirement.
//   - [RequirePermissions] — authenticates and enforces a permission set.
//
// Each guard reads the Authorization and X-Agent-ID headers, calls
// Engine.AuthenticateRequest, and injects the resulting AuthContext into the
// request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself — all decisions are delegated to
// Engine.AuthenticateRequest.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access the registry or Redis (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject from the Engine.
package middleware
