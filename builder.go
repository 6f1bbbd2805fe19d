package phlow

import (
	"context"
	"errors"
	"fmt"

	"github.com/phlow-dev/phlow/internal/directory"
	"github.com/phlow-dev/phlow/internal/rate"
	"github.com/phlow-dev/phlow/token"
	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by phlow APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config

	registry  Registry
	auditSink AuditSink
	redis     redis.UniversalClient

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRegistry describes the withregistry operation and its observable behavior.
//
// WithRegistry may return an error when input validation, dependency calls, or security checks fail.
// WithRegistry does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRegistry(reg Registry) *Builder {
	b.registry = reg
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithRedis switches the rate limiter from in-process windows to shared Redis
// counters, so multiple engine instances drain one per-principal quota.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.registry == nil {
		return nil, errors.New("registry required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// -------- TOKEN CODEC --------
	tm, err := token.NewManager(token.Config{
		DefaultTTL:   cfg.Token.DefaultTTL,
		Leeway:       cfg.Token.Leeway,
		MaxFutureIAT: cfg.Token.MaxFutureIAT,
	})
	if err != nil {
		return nil, err
	}

	// -------- AGENT DIRECTORY --------
	reg := b.registry
	fetcher := directory.FetcherFunc[*Principal](func(ctx context.Context, id string) (*Principal, error) {
		principal, err := reg.GetPrincipal(ctx, id)
		if err != nil {
			if errors.Is(err, ErrUnknownPrincipal) {
				return nil, fmt.Errorf("%w: %s", directory.ErrNotFound, id)
			}
			return nil, err
		}
		if principal == nil {
			return nil, fmt.Errorf("%w: %s", directory.ErrNotFound, id)
		}
		return principal, nil
	})

	dir, err := directory.New(fetcher, directory.Config{
		TTL:           cfg.Directory.CacheTTL,
		Grace:         cfg.Directory.GracePeriod,
		SweepInterval: cfg.Directory.SweepInterval,
		FetchTimeout:  cfg.Directory.FetchTimeout,
		FetchRetries:  cfg.Directory.FetchRetries,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		registry:  reg,
		tokens:    tm,
		directory: dir,
	}

	// -------- RATE LIMITER --------
	if cfg.RateLimit.Enabled {
		rateCfg := rate.Config{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
		}
		if b.redis != nil {
			limiter, err := rate.NewRedis(b.redis, rateCfg)
			if err != nil {
				dir.Close()
				return nil, err
			}
			engine.redisLimiter = limiter
		} else {
			limiter, err := rate.New(rateCfg)
			if err != nil {
				dir.Close()
				return nil, err
			}
			engine.limiter = limiter
		}
	}

	// -------- AUDIT PIPELINE --------
	sink := b.auditSink
	if sink == nil {
		sink = registrySink{registry: reg}
	}
	engine.audit = newAuditPipeline(cfg.Audit, sink)

	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
