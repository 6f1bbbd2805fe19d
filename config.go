package phlow

import (
	"errors"
	"time"

	"github.com/phlow-dev/phlow/token"
)

// Config defines a public type used by phlow APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Agent     AgentConfig
	Token     TokenConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Directory DirectoryConfig
	Metrics   MetricsConfig
}

/*
====================================
AGENT CONFIG
====================================
*/

// AgentConfig describes the local agent identity the engine runs as: the
// audience every inbound token must name, and the issuer of outbound tokens.
//
// For "ed25519" both PrivateKey and PublicKey are required. For "hs256"
// PrivateKey holds the shared secret and PublicKey is unused.
type AgentConfig struct {
	ID          string
	Name        string
	Description string
	ServiceURL  string
	Skills      []string
	Permissions []string
	KeyType     string // "ed25519" (default) or "hs256"
	PrivateKey  []byte
	PublicKey   []byte
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by phlow APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	DefaultTTL   time.Duration
	Leeway       time.Duration
	MaxFutureIAT time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig defines a public type used by phlow APIs.
//
// RateLimitConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RateLimitConfig struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by phlow APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled       bool
	BatchSize     int
	FlushInterval time.Duration
}

/*
====================================
DIRECTORY CONFIG
====================================
*/

// DirectoryConfig defines a public type used by phlow APIs.
//
// DirectoryConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type DirectoryConfig struct {
	CacheTTL      time.Duration
	GracePeriod   time.Duration
	SweepInterval time.Duration
	FetchTimeout  time.Duration
	FetchRetries  int
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by phlow APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Agent: AgentConfig{
			KeyType: "ed25519",
		},
		Token: TokenConfig{
			DefaultTTL:   time.Hour,
			Leeway:       0,
			MaxFutureIAT: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			MaxRequests: 100,
			Window:      time.Minute,
		},
		Audit: AuditConfig{
			Enabled:       true,
			BatchSize:     64,
			FlushInterval: 5 * time.Second,
		},
		Directory: DirectoryConfig{
			CacheTTL:     5 * time.Minute,
			GracePeriod:  time.Minute,
			FetchTimeout: 2 * time.Second,
			FetchRetries: 2,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Agent.Skills = append([]string(nil), cfg.Agent.Skills...)
	out.Agent.Permissions = append([]string(nil), cfg.Agent.Permissions...)
	out.Agent.PrivateKey = cloneBytes(cfg.Agent.PrivateKey)
	out.Agent.PublicKey = cloneBytes(cfg.Agent.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Agent
	if c.Agent.ID == "" {
		return errors.New("Agent ID is required")
	}
	switch token.KeyType(c.Agent.KeyType) {
	case token.KeyEd25519:
		if len(c.Agent.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.Agent.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case token.KeyHS256:
		if len(c.Agent.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported agent key type")
	}

	// Token
	if c.Token.DefaultTTL < time.Second {
		return errors.New("Token DefaultTTL must be >= 1s")
	}
	if c.Token.Leeway < 0 {
		return errors.New("Token Leeway must be >= 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequests <= 0 {
			return errors.New("RateLimit MaxRequests must be > 0")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BatchSize <= 0 {
			return errors.New("Audit BatchSize must be > 0")
		}
		if c.Audit.FlushInterval <= 0 {
			return errors.New("Audit FlushInterval must be > 0")
		}
	}

	// Directory
	if c.Directory.CacheTTL <= 0 {
		return errors.New("Directory CacheTTL must be > 0")
	}
	if c.Directory.GracePeriod < 0 {
		return errors.New("Directory GracePeriod must be >= 0")
	}
	if c.Directory.FetchTimeout < 0 {
		return errors.New("Directory FetchTimeout must be >= 0")
	}
	if c.Directory.FetchRetries < 0 {
		return errors.New("Directory FetchRetries must be >= 0")
	}

	return nil
}
