package internaldefs

import (
	phlow "github.com/phlow-dev/phlow"
)

// CounterDef defines a public type used by phlow APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   phlow.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the authentication engine.
var CounterDefs = []CounterDef{
	{ID: phlow.MetricAuthSuccess, Name: "phlow_auth_success_total", Help: "Successful authentication decisions."},
	{ID: phlow.MetricCredentialError, Name: "phlow_credential_error_total", Help: "Requests rejected for missing or malformed credentials."},
	{ID: phlow.MetricRateLimited, Name: "phlow_rate_limited_total", Help: "Requests rejected by the rate limiter."},
	{ID: phlow.MetricUnknownPrincipal, Name: "phlow_unknown_principal_total", Help: "Requests from principals absent in the directory."},
	{ID: phlow.MetricDirectoryUnavailable, Name: "phlow_directory_unavailable_total", Help: "Requests rejected because the directory backend was unreachable."},
	{ID: phlow.MetricTokenExpired, Name: "phlow_token_expired_total", Help: "Tokens rejected as expired."},
	{ID: phlow.MetricTokenSignature, Name: "phlow_token_signature_total", Help: "Tokens rejected for invalid signature or claim mismatch."},
	{ID: phlow.MetricTokenAlgorithmMismatch, Name: "phlow_token_algorithm_mismatch_total", Help: "Tokens rejected for declaring a different algorithm than the issuer key requires."},
	{ID: phlow.MetricTokenMalformed, Name: "phlow_token_malformed_total", Help: "Tokens rejected as structurally malformed."},
	{ID: phlow.MetricPermissionDenied, Name: "phlow_permission_denied_total", Help: "Verified tokens rejected for missing required permissions."},
	{ID: phlow.MetricTokenIssued, Name: "phlow_token_issued_total", Help: "Tokens minted by the local agent."},
	{ID: phlow.MetricAgentRegistered, Name: "phlow_agent_registered_total", Help: "Agent registration operations."},
	{ID: phlow.MetricRateBackendDegraded, Name: "phlow_rate_backend_degraded_total", Help: "Rate limit checks skipped because the limiter backend was unreachable."},
}
