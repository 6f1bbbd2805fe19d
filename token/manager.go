package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// KeyType defines a public type used by phlow APIs.
//
// KeyType instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type KeyType string

const (
	// KeyEd25519 is an exported constant or variable used by the authentication engine.
	KeyEd25519 KeyType = "ed25519"
	// KeyHS256 is an exported constant or variable used by the authentication engine.
	KeyHS256 KeyType = "hs256"
)

var (
	// ErrExpired is an exported constant or variable used by the authentication engine.
	ErrExpired = errors.New("token expired")
	// ErrSignature is an exported constant or variable used by the authentication engine.
	ErrSignature = errors.New("token signature invalid")
	// ErrAlgorithmMismatch is an exported constant or variable used by the authentication engine.
	ErrAlgorithmMismatch = errors.New("token algorithm mismatch")
	// ErrMalformed is an exported constant or variable used by the authentication engine.
	ErrMalformed = errors.New("token malformed")
)

// Config defines a public type used by phlow APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	DefaultTTL   time.Duration
	Leeway       time.Duration
	MaxFutureIAT time.Duration
}

// Manager defines a public type used by phlow APIs.
//
// Manager instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Manager struct {
	config Config
}

// Claims is the decoded payload of a verified inter-agent token.
type Claims struct {
	Permissions []string          `json:"permissions,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	jwt.RegisteredClaims
}

// HasPermissions reports whether the claim set carries every required permission.
// An empty requirement list is always satisfied.
func (c *Claims) HasPermissions(required []string) bool {
	if len(required) == 0 {
		return true
	}
	if c == nil {
		return false
	}
	granted := make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		granted[p] = struct{}{}
	}
	for _, p := range required {
		if _, ok := granted[p]; !ok {
			return false
		}
	}
	return true
}

// IssueInput carries everything needed to mint one token: the claim identities,
// the permission grant, and the issuer's key material. SigningKey is an ed25519
// private key (raw or PEM) for [KeyEd25519], or the shared secret for [KeyHS256].
type IssueInput struct {
	Subject     string
	Issuer      string
	Audience    string
	Permissions []string
	Metadata    map[string]string
	TTL         time.Duration
	KeyType     KeyType
	SigningKey  []byte
}

// VerifyInput carries the verification context resolved OUTSIDE the token:
// the expected audience and issuer, and the key type plus verification key
// registered for the issuer principal. Nothing in VerifyInput may be derived
// from the token being verified.
type VerifyInput struct {
	Audience  string
	Issuer    string
	KeyType   KeyType
	VerifyKey []byte
}

// NewManager describes the newmanager operation and its observable behavior.
//
// NewManager may return an error when input validation, dependency calls, or security checks fail.
// NewManager does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DefaultTTL < time.Second {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	return &Manager{config: cfg}, nil
}

// Issue describes the issue operation and its observable behavior.
//
// Issue may return an error when input validation, dependency calls, or security checks fail.
// Issue does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) Issue(input IssueInput) (string, error) {
	if input.Subject == "" || input.Issuer == "" || input.Audience == "" {
		return "", errors.New("subject, issuer, and audience are required")
	}

	ttl := input.TTL
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}
	// Seconds precision on iat/exp: anything under a second would collapse
	// exp onto iat and break the exp > iat invariant.
	if ttl < time.Second {
		return "", errors.New("token ttl must be at least one second")
	}

	now := time.Now()
	claims := Claims{
		Permissions: input.Permissions,
		Metadata:    input.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   input.Subject,
			Issuer:    input.Issuer,
			Audience:  jwt.ClaimStrings{input.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	method, err := methodFor(input.KeyType)
	if err != nil {
		return "", err
	}

	signKey, err := signKeyFor(input.KeyType, input.SigningKey)
	if err != nil {
		return "", err
	}

	return jwt.NewWithClaims(method, claims).SignedString(signKey)
}

// Verify describes the verify operation and its observable behavior.
//
// Verify may return an error when input validation, dependency calls, or security checks fail.
// Verify does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) Verify(tokenStr string, input VerifyInput) (*Claims, error) {
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}
	if input.Audience == "" || input.Issuer == "" {
		return nil, errors.New("audience and issuer are required")
	}

	method, err := methodFor(input.KeyType)
	if err != nil {
		return nil, err
	}

	options := []jwt.ParserOption{
		jwt.WithAudience(input.Audience),
		jwt.WithIssuer(input.Issuer),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	// The algorithm check lives inside the keyfunc, not in WithValidMethods:
	// a header/key-type mismatch must be reported as ErrAlgorithmMismatch,
	// distinct from a plain bad signature.
	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != method.Alg() {
			return nil, fmt.Errorf("%w: header declares %s, issuer key requires %s",
				ErrAlgorithmMismatch, t.Method.Alg(), method.Alg())
		}
		return verifyKeyFor(input.KeyType, input.VerifyKey)
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrMalformed)
	}
	if claims.IssuedAt != nil && m.config.MaxFutureIAT > 0 {
		if claims.IssuedAt.Time.After(time.Now().Add(m.config.MaxFutureIAT)) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformed)
		}
	}

	return claims, nil
}

// classifyParseError maps golang-jwt parse failures onto exactly one of the
// package sentinels. Claim mismatches (audience, issuer) fold into ErrSignature:
// the token is well-formed and unexpired but not bound to this exchange.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrAlgorithmMismatch):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
}

func methodFor(kt KeyType) (jwt.SigningMethod, error) {
	switch kt {
	case KeyEd25519:
		return jwt.SigningMethodEdDSA, nil
	case KeyHS256:
		return jwt.SigningMethodHS256, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", kt)
	}
}

func signKeyFor(kt KeyType, key []byte) (interface{}, error) {
	switch kt {
	case KeyHS256:
		if len(key) == 0 {
			return nil, errors.New("hs256 requires shared secret")
		}
		return key, nil
	case KeyEd25519:
		return parseEdPrivateKey(key)
	default:
		return nil, fmt.Errorf("unsupported key type %q", kt)
	}
}

func verifyKeyFor(kt KeyType, key []byte) (interface{}, error) {
	switch kt {
	case KeyHS256:
		if len(key) == 0 {
			return nil, errors.New("hs256 requires shared secret")
		}
		return key, nil
	case KeyEd25519:
		return parseEdPublicKey(key)
	default:
		return nil, fmt.Errorf("unsupported key type %q", kt)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
