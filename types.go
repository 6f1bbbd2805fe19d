package phlow

import (
	"context"
	"time"

	"github.com/phlow-dev/phlow/token"
)

// Principal defines a public type used by phlow APIs.
//
// Principal instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// A resolved Principal is immutable for the lifetime of its directory cache entry.
type Principal struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	ServiceURL  string            `json:"service_url,omitempty"`
	Skills      []string          `json:"skills,omitempty"`
	Permissions []string          `json:"permissions,omitempty"`
	KeyType     token.KeyType     `json:"key_type"`
	PublicKey   []byte            `json:"public_key"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at,omitempty"`
}

// Clone returns a deep copy of the principal.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	out := *p
	out.Skills = append([]string(nil), p.Skills...)
	out.Permissions = append([]string(nil), p.Permissions...)
	out.PublicKey = cloneBytes(p.PublicKey)
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// AuthContext is returned by [Engine.Authenticate] for an accepted request.
// It carries the resolved caller principal, the verified claims, and the raw
// bearer token for pass-through use.
type AuthContext struct {
	Principal *Principal
	Claims    *token.Claims
	Token     string
}

// Registry is the backing store that callers must implement (or take from the
// registry subpackage) to integrate phlow with their agent database. It covers
// principal lookup and registration plus bulk audit persistence.
//
// GetPrincipal must return an error matching [ErrUnknownPrincipal] (via
// errors.Is) when no record exists for id; any other error is treated as the
// registry being unreachable.
//
// AppendAuditEvents persists a batch and returns the events that could NOT be
// persisted, preserving their original order. A total failure may instead
// return a non-nil error, in which case the whole batch is considered failed.
type Registry interface {
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	UpsertPrincipal(ctx context.Context, principal *Principal) error
	AppendAuditEvents(ctx context.Context, events []AuditEvent) ([]AuditEvent, error)
}

// HeaderSource is the narrow request capability the engine needs from a
// transport: named header access. Framework adapters implement it on their
// request types; net/http is covered by the middleware subpackage.
type HeaderSource interface {
	Header(name string) (value string, ok bool)
}

const (
	// HeaderAuthorization is an exported constant or variable used by the authentication engine.
	HeaderAuthorization = "Authorization"
	// HeaderAgentID is an exported constant or variable used by the authentication engine.
	HeaderAgentID = "X-Agent-ID"
)
