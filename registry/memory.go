package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/phlow-dev/phlow"
)

// Memory is an in-process [phlow.Registry]. Principal records are deep-copied
// on the way in and out, so callers cannot mutate stored state through shared
// slices or maps.
type Memory struct {
	mu         sync.RWMutex
	principals map[string]*phlow.Principal
	audit      []phlow.AuditEvent
}

// NewMemory describes the newmemory operation and its observable behavior.
//
// NewMemory may return an error when input validation, dependency calls, or security checks fail.
// NewMemory does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMemory() *Memory {
	return &Memory{
		principals: make(map[string]*phlow.Principal),
	}
}

// GetPrincipal describes the getprincipal operation and its observable behavior.
//
// GetPrincipal may return an error when input validation, dependency calls, or security checks fail.
// GetPrincipal does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Memory) GetPrincipal(ctx context.Context, id string) (*phlow.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	principal, ok := m.principals[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", phlow.ErrUnknownPrincipal, id)
	}
	return principal.Clone(), nil
}

// UpsertPrincipal describes the upsertprincipal operation and its observable behavior.
//
// UpsertPrincipal may return an error when input validation, dependency calls, or security checks fail.
// UpsertPrincipal does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Memory) UpsertPrincipal(ctx context.Context, principal *phlow.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if principal == nil || principal.ID == "" {
		return fmt.Errorf("principal with non-empty ID required")
	}

	m.mu.Lock()
	m.principals[principal.ID] = principal.Clone()
	m.mu.Unlock()
	return nil
}

// AppendAuditEvents describes the appendauditevents operation and its observable behavior.
//
// AppendAuditEvents may return an error when input validation, dependency calls, or security checks fail.
// AppendAuditEvents does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Memory) AppendAuditEvents(ctx context.Context, events []phlow.AuditEvent) ([]phlow.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return events, err
	}

	m.mu.Lock()
	m.audit = append(m.audit, events...)
	m.mu.Unlock()
	return nil, nil
}

// AuditEvents returns a copy of every audit event appended so far, in append
// order.
func (m *Memory) AuditEvents() []phlow.AuditEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]phlow.AuditEvent, len(m.audit))
	copy(out, m.audit)
	return out
}

// Len reports the number of registered principals.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.principals)
}
