// Package registry provides the bundled Registry implementations: an
// in-process store for tests and single-node deployments, and a Redis-backed
// store that shares principal records and audit history across instances.
//
// Both implementations satisfy phlow.Registry and report missing principals
// with phlow.ErrUnknownPrincipal so the engine's directory cache can tell
// "not registered" apart from "store unreachable".
package registry
