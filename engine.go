package phlow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phlow-dev/phlow/internal/directory"
	"github.com/phlow-dev/phlow/internal/rate"
	"github.com/phlow-dev/phlow/token"
)

// Engine defines a public type used by phlow APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config   Config
	registry Registry

	tokens    *token.Manager
	directory *directory.Cache[*Principal]

	limiter      *rate.Limiter
	redisLimiter *rate.RedisLimiter

	audit   *auditPipeline
	metrics *Metrics

	closed atomic.Bool
}

/*
====================================
AUTHENTICATION
====================================
*/

// Authenticate decides whether a caller identified by principalID may invoke
// this agent with the given token. The decision runs in a fixed order: caller
// credentials present, rate limit, directory lookup, token verification
// against the caller's registered key, then permission check. Each rejected
// request maps to exactly one sentinel error, one audit event, and one
// counter increment.
//
// On success the returned [AuthContext] carries the caller principal and the
// verified claims.
func (e *Engine) Authenticate(ctx context.Context, principalID, tokenStr string, requiredPermissions ...string) (*AuthContext, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	ip := clientIPFromContext(ctx)

	if principalID == "" || tokenStr == "" {
		e.reject(ctx, EventCredentialError, MetricCredentialError, principalID, ip, "missing principal id or token")
		return nil, ErrCredentialMissing
	}

	if err := e.allow(ctx, principalID); err != nil {
		switch {
		case errors.Is(err, rate.ErrRateLimited):
			e.reject(ctx, EventRateLimited, MetricRateLimited, principalID, ip, "rate limit exceeded")
			return nil, ErrRateLimited
		case errors.Is(err, rate.ErrBackendUnavailable):
			// Degrade open: a broken limiter backend must not take
			// authentication down with it.
			e.metrics.Inc(MetricRateBackendDegraded)
		}
	}

	caller, err := e.directory.Lookup(ctx, principalID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			e.reject(ctx, EventUnknownPrincipal, MetricUnknownPrincipal, principalID, ip, "principal not registered")
			return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, principalID)
		}
		e.reject(ctx, EventDirectoryUnavailable, MetricDirectoryUnavailable, principalID, ip, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	claims, err := e.tokens.Verify(tokenStr, token.VerifyInput{
		Audience:  e.config.Agent.ID,
		Issuer:    caller.ID,
		KeyType:   token.KeyType(caller.KeyType),
		VerifyKey: caller.PublicKey,
	})
	if err != nil {
		e.reject(ctx, EventTokenInvalid, tokenFailureMetric(err), principalID, ip, err.Error())
		return nil, err
	}

	if !claims.HasPermissions(requiredPermissions) {
		e.reject(ctx, EventPermissionDenied, MetricPermissionDenied, principalID, ip,
			"missing required permissions: "+strings.Join(requiredPermissions, ","))
		return nil, fmt.Errorf("%w: requires %s", ErrPermissionDenied, strings.Join(requiredPermissions, ","))
	}

	e.emit(ctx, AuditEvent{
		EventType:   EventAuthSuccess,
		PrincipalID: caller.ID,
		TargetID:    e.config.Agent.ID,
		IP:          ip,
		Success:     true,
	})
	e.metrics.Inc(MetricAuthSuccess)

	return &AuthContext{
		Principal: caller,
		Claims:    claims,
		Token:     tokenStr,
	}, nil
}

// AuthenticateRequest runs [Engine.Authenticate] against transport headers:
// the bearer token from Authorization and the caller identity from X-Agent-ID.
func (e *Engine) AuthenticateRequest(ctx context.Context, headers HeaderSource, requiredPermissions ...string) (*AuthContext, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	authz, ok := headers.Header(HeaderAuthorization)
	if !ok || authz == "" {
		e.reject(ctx, EventCredentialError, MetricCredentialError, "", clientIPFromContext(ctx), "missing Authorization header")
		return nil, ErrCredentialMissing
	}
	tokenStr, ok := bearerToken(authz)
	if !ok {
		e.reject(ctx, EventCredentialError, MetricCredentialError, "", clientIPFromContext(ctx), "Authorization header is not a bearer token")
		return nil, ErrCredentialMissing
	}

	principalID, ok := headers.Header(HeaderAgentID)
	if !ok || principalID == "" {
		e.reject(ctx, EventCredentialError, MetricCredentialError, "", clientIPFromContext(ctx), "missing "+HeaderAgentID+" header")
		return nil, ErrCredentialMissing
	}

	return e.Authenticate(ctx, principalID, tokenStr, requiredPermissions...)
}

func bearerToken(authz string) (string, bool) {
	const prefix = "Bearer "
	if len(authz) <= len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(authz[len(prefix):]), true
}

/*
====================================
TOKEN ISSUANCE
====================================
*/

// IssueToken mints a token this agent can present to the audience agent,
// signed with the local agent's key. A zero ttl uses the configured default.
func (e *Engine) IssueToken(audience string, permissions []string, ttl time.Duration) (string, error) {
	if e.closed.Load() {
		return "", ErrEngineClosed
	}
	if ttl == 0 {
		ttl = e.config.Token.DefaultTTL
	}
	signed, err := e.tokens.Issue(token.IssueInput{
		Subject:     e.config.Agent.ID,
		Issuer:      e.config.Agent.ID,
		Audience:    audience,
		Permissions: permissions,
		TTL:         ttl,
		KeyType:     token.KeyType(e.config.Agent.KeyType),
		SigningKey:  e.config.Agent.PrivateKey,
	})
	if err != nil {
		return "", err
	}
	e.metrics.Inc(MetricTokenIssued)
	return signed, nil
}

/*
====================================
DIRECTORY
====================================
*/

// RegisterAgent describes the registeragent operation and its observable behavior.
//
// RegisterAgent may return an error when input validation, dependency calls, or security checks fail.
// RegisterAgent does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RegisterAgent(ctx context.Context, principal *Principal) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if principal == nil || principal.ID == "" {
		return errors.New("principal with non-empty ID required")
	}
	switch token.KeyType(principal.KeyType) {
	case token.KeyEd25519, token.KeyHS256:
	default:
		return errors.New("unsupported principal key type")
	}
	if len(principal.PublicKey) == 0 {
		return errors.New("principal verification key required")
	}

	record := principal.Clone()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if err := e.registry.UpsertPrincipal(ctx, record); err != nil {
		return err
	}

	// Drop any cached copy so the next lookup observes the new record.
	e.directory.Invalidate(record.ID)

	e.emit(ctx, AuditEvent{
		EventType:   EventAgentRegistered,
		PrincipalID: record.ID,
		TargetID:    e.config.Agent.ID,
		Success:     true,
	})
	e.metrics.Inc(MetricAgentRegistered)
	return nil
}

// Lookup resolves a principal through the directory cache. Missing principals
// report [ErrUnknownPrincipal]; a failing registry past the cache grace period
// reports [ErrDirectoryUnavailable].
func (e *Engine) Lookup(ctx context.Context, principalID string) (*Principal, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	principal, err := e.directory.Lookup(ctx, principalID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, principalID)
		}
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	return principal, nil
}

/*
====================================
LIFECYCLE AND INTROSPECTION
====================================
*/

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.directory.Close()
	if e.limiter != nil {
		e.limiter.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
	return nil
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// DirectoryStats describes the directorystats operation and its observable behavior.
//
// DirectoryStats may return an error when input validation, dependency calls, or security checks fail.
// DirectoryStats does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) DirectoryStats() directory.Stats {
	return e.directory.Stats()
}

// AuditPending describes the auditpending operation and its observable behavior.
//
// AuditPending may return an error when input validation, dependency calls, or security checks fail.
// AuditPending does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditPending() int {
	if e.audit == nil {
		return 0
	}
	return e.audit.Pending()
}

// AuditDelivered describes the auditdelivered operation and its observable behavior.
//
// AuditDelivered may return an error when input validation, dependency calls, or security checks fail.
// AuditDelivered does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDelivered() uint64 {
	if e.audit == nil {
		return 0
	}
	return e.audit.Delivered()
}

// AuditFlushFailures describes the auditflushfailures operation and its observable behavior.
//
// AuditFlushFailures may return an error when input validation, dependency calls, or security checks fail.
// AuditFlushFailures does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditFlushFailures() uint64 {
	if e.audit == nil {
		return 0
	}
	return e.audit.FlushFailures()
}

/*
====================================
INTERNAL HELPERS
====================================
*/

func (e *Engine) allow(ctx context.Context, key string) error {
	switch {
	case e.redisLimiter != nil:
		return e.redisLimiter.Allow(ctx, key)
	case e.limiter != nil:
		if !e.limiter.Allow(key) {
			return rate.ErrRateLimited
		}
		return nil
	default:
		return nil
	}
}

func (e *Engine) reject(ctx context.Context, eventType string, metric MetricID, principalID, ip, detail string) {
	e.emit(ctx, AuditEvent{
		EventType:   eventType,
		PrincipalID: principalID,
		TargetID:    e.config.Agent.ID,
		IP:          ip,
		Success:     false,
		Error:       detail,
	})
	e.metrics.Inc(metric)
}

func (e *Engine) emit(ctx context.Context, event AuditEvent) {
	if e.audit == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	e.audit.Append(event)
}

func tokenFailureMetric(err error) MetricID {
	switch {
	case errors.Is(err, token.ErrExpired):
		return MetricTokenExpired
	case errors.Is(err, token.ErrAlgorithmMismatch):
		return MetricTokenAlgorithmMismatch
	case errors.Is(err, token.ErrMalformed):
		return MetricTokenMalformed
	default:
		return MetricTokenSignature
	}
}
