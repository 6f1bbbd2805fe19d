package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/phlow-dev/phlow"
	"github.com/redis/go-redis/v9"
)

const (
	principalKeyPrefix = "phlow:principal:"
	auditListKey       = "phlow:audit"
)

// Redis is a [phlow.Registry] backed by a shared Redis instance. Principal
// records live as JSON strings under per-ID keys; audit events are appended
// to a single list so external consumers can drain them in order.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis describes the newredis operation and its observable behavior.
//
// NewRedis may return an error when input validation, dependency calls, or security checks fail.
// NewRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewRedis(client redis.UniversalClient) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &Redis{client: client}, nil
}

// GetPrincipal describes the getprincipal operation and its observable behavior.
//
// GetPrincipal may return an error when input validation, dependency calls, or security checks fail.
// GetPrincipal does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (r *Redis) GetPrincipal(ctx context.Context, id string) (*phlow.Principal, error) {
	raw, err := r.client.Get(ctx, principalKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", phlow.ErrUnknownPrincipal, id)
	}
	if err != nil {
		return nil, fmt.Errorf("registry get: %w", err)
	}

	var principal phlow.Principal
	if err := json.Unmarshal([]byte(raw), &principal); err != nil {
		return nil, fmt.Errorf("registry decode %s: %w", id, err)
	}
	return &principal, nil
}

// UpsertPrincipal describes the upsertprincipal operation and its observable behavior.
//
// UpsertPrincipal may return an error when input validation, dependency calls, or security checks fail.
// UpsertPrincipal does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (r *Redis) UpsertPrincipal(ctx context.Context, principal *phlow.Principal) error {
	if principal == nil || principal.ID == "" {
		return fmt.Errorf("principal with non-empty ID required")
	}

	raw, err := json.Marshal(principal)
	if err != nil {
		return fmt.Errorf("registry encode %s: %w", principal.ID, err)
	}
	if err := r.client.Set(ctx, principalKeyPrefix+principal.ID, raw, 0).Err(); err != nil {
		return fmt.Errorf("registry set: %w", err)
	}
	return nil
}

// AppendAuditEvents writes each event as one JSON list entry. On a backend
// failure it returns the events that were not written, so the audit pipeline
// can retry those and only those.
func (r *Redis) AppendAuditEvents(ctx context.Context, events []phlow.AuditEvent) ([]phlow.AuditEvent, error) {
	for i, event := range events {
		raw, err := json.Marshal(event)
		if err != nil {
			// An unmarshalable event can never succeed; skip it rather
			// than wedging the batch.
			continue
		}
		if err := r.client.RPush(ctx, auditListKey, raw).Err(); err != nil {
			return events[i:], fmt.Errorf("registry audit append: %w", err)
		}
	}
	return nil, nil
}
