// Package token manages inter-agent token issuance and verification using per-principal
// key material and strict validation semantics suitable for low-latency authentication paths.
//
// The signing algorithm is always derived from the key type registered for the issuing
// principal. The token header's declared algorithm must match it exactly; any mismatch is
// rejected with [ErrAlgorithmMismatch] before signature verification, which closes the
// classic algorithm-confusion forgery vector.
package token
