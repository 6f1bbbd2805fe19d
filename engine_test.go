package phlow

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/phlow-dev/phlow/token"
)

type mockRegistry struct {
	mu         sync.Mutex
	principals map[string]*Principal
	events     []AuditEvent
	getErr     error
	getCalls   int
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{principals: map[string]*Principal{}}
}

func (m *mockRegistry) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.principals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, id)
	}
	return p.Clone(), nil
}

func (m *mockRegistry) UpsertPrincipal(ctx context.Context, principal *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals[principal.ID] = principal.Clone()
	return nil
}

func (m *mockRegistry) AppendAuditEvents(ctx context.Context, events []AuditEvent) ([]AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil, nil
}

func (m *mockRegistry) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

func (m *mockRegistry) setGetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

func genKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func engineTestConfig(id string, priv ed25519.PrivateKey, pub ed25519.PublicKey) Config {
	cfg := defaultConfig()
	cfg.Agent.ID = id
	cfg.Agent.KeyType = "ed25519"
	cfg.Agent.PrivateKey = priv
	cfg.Agent.PublicKey = pub
	cfg.Token.DefaultTTL = time.Minute
	cfg.Audit.BatchSize = 1
	cfg.Audit.FlushInterval = 10 * time.Millisecond
	cfg.Directory.CacheTTL = 50 * time.Millisecond
	cfg.Directory.GracePeriod = 0
	cfg.Directory.FetchTimeout = time.Second
	cfg.Directory.FetchRetries = 0
	cfg.Metrics.Enabled = true
	return cfg
}

// newEnginePair builds a caller (svc-a) and target (svc-b) over one mock
// registry, with the caller registered carrying the given permissions.
func newEnginePair(t *testing.T, callerPerms []string) (*Engine, *Engine, *mockRegistry) {
	t.Helper()

	reg := newMockRegistry()
	aPub, aPriv := genKeys(t)
	bPub, bPriv := genKeys(t)

	caller, err := New().WithConfig(engineTestConfig("svc-a", aPriv, aPub)).WithRegistry(reg).Build()
	if err != nil {
		t.Fatalf("build caller: %v", err)
	}
	t.Cleanup(func() { _ = caller.Close() })

	target, err := New().WithConfig(engineTestConfig("svc-b", bPriv, bPub)).WithRegistry(reg).Build()
	if err != nil {
		t.Fatalf("build target: %v", err)
	}
	t.Cleanup(func() { _ = target.Close() })

	ctx := context.Background()
	if err := target.RegisterAgent(ctx, &Principal{
		ID: "svc-a", Name: "Service A", KeyType: token.KeyEd25519,
		PublicKey: aPub, Permissions: callerPerms,
	}); err != nil {
		t.Fatalf("register svc-a: %v", err)
	}
	return caller, target, reg
}

func waitForEvent(t *testing.T, reg *mockRegistry, eventType string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, got := range reg.eventTypes() {
			if got == eventType {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("audit event %q not delivered; got %v", eventType, reg.eventTypes())
}

func TestAuthenticateSuccess(t *testing.T) {
	caller, target, reg := newEnginePair(t, []string{"read:data"})
	ctx := context.Background()

	tokenStr, err := caller.IssueToken("svc-b", []string{"read:data"}, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	auth, err := target.Authenticate(ctx, "svc-a", tokenStr, "read:data")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if auth.Principal.ID != "svc-a" {
		t.Fatalf("expected caller svc-a, got %s", auth.Principal.ID)
	}
	if auth.Claims.Issuer != "svc-a" {
		t.Fatalf("expected issuer svc-a, got %s", auth.Claims.Issuer)
	}
	if auth.Token != tokenStr {
		t.Fatal("expected raw token on the auth context")
	}

	waitForEvent(t, reg, EventAuthSuccess)
	if got := target.MetricsSnapshot().Counters[MetricAuthSuccess]; got != 1 {
		t.Fatalf("expected auth success counter 1, got %d", got)
	}
}

func TestAuthenticateEmptyPermissionRequirement(t *testing.T) {
	caller, target, _ := newEnginePair(t, nil)

	tokenStr, err := caller.IssueToken("svc-b", nil, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	// No required permissions means any verified token passes.
	if _, err := target.Authenticate(context.Background(), "svc-a", tokenStr); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	_, target, reg := newEnginePair(t, nil)
	ctx := context.Background()

	if _, err := target.Authenticate(ctx, "", "some-token"); !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing for empty id, got %v", err)
	}
	if _, err := target.Authenticate(ctx, "svc-a", ""); !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing for empty token, got %v", err)
	}

	waitForEvent(t, reg, EventCredentialError)
	if got := target.MetricsSnapshot().Counters[MetricCredentialError]; got != 2 {
		t.Fatalf("expected credential error counter 2, got %d", got)
	}
}

func TestAuthenticateUnknownPrincipal(t *testing.T) {
	caller, target, reg := newEnginePair(t, nil)

	tokenStr, err := caller.IssueToken("svc-b", nil, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	_, err = target.Authenticate(context.Background(), "ghost", tokenStr)
	if !errors.Is(err, ErrUnknownPrincipal) {
		t.Fatalf("expected ErrUnknownPrincipal, got %v", err)
	}
	waitForEvent(t, reg, EventUnknownPrincipal)
}

func TestAuthenticateDirectoryUnavailable(t *testing.T) {
	caller, target, reg := newEnginePair(t, nil)

	tokenStr, err := caller.IssueToken("svc-b", nil, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	// Let the cached svc-a record expire, then break the registry. With no
	// grace period, the lookup failure must surface as unavailable, not as
	// unknown.
	_, err = target.Authenticate(context.Background(), "svc-a", tokenStr)
	if err != nil {
		t.Fatalf("warmup Authenticate failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	reg.setGetErr(errors.New("registry down"))

	_, err = target.Authenticate(context.Background(), "svc-a", tokenStr)
	if !errors.Is(err, ErrDirectoryUnavailable) {
		t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
	}
	waitForEvent(t, reg, EventDirectoryUnavailable)
}

func TestAuthenticateTamperedToken(t *testing.T) {
	caller, target, reg := newEnginePair(t, nil)

	tokenStr, err := caller.IssueToken("svc-b", nil, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	tampered := tokenStr[:len(tokenStr)-4] + "AAAA"

	_, err = target.Authenticate(context.Background(), "svc-a", tampered)
	if !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature, got %v", err)
	}
	waitForEvent(t, reg, EventTokenInvalid)
	if got := target.MetricsSnapshot().Counters[MetricTokenSignature]; got != 1 {
		t.Fatalf("expected token signature counter 1, got %d", got)
	}
}

func TestAuthenticateWrongAudience(t *testing.T) {
	caller, target, _ := newEnginePair(t, nil)

	// Token minted for a different target must not verify against svc-b.
	tokenStr, err := caller.IssueToken("svc-c", nil, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := target.Authenticate(context.Background(), "svc-a", tokenStr); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature for wrong audience, got %v", err)
	}
}

func TestAuthenticatePermissionDenied(t *testing.T) {
	caller, target, reg := newEnginePair(t, []string{"read:data"})

	tokenStr, err := caller.IssueToken("svc-b", []string{"read:data"}, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	_, err = target.Authenticate(context.Background(), "svc-a", tokenStr, "write:data")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	// A token granting nothing fails any requirement.
	emptyTok, err := caller.IssueToken("svc-b", nil, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	_, err = target.Authenticate(context.Background(), "svc-a", emptyTok, "read:data")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for empty grant, got %v", err)
	}

	waitForEvent(t, reg, EventPermissionDenied)
}

func TestAuthenticateRateLimited(t *testing.T) {
	reg := newMockRegistry()
	aPub, aPriv := genKeys(t)
	bPub, bPriv := genKeys(t)

	cfg := engineTestConfig("svc-b", bPriv, bPub)
	cfg.RateLimit.MaxRequests = 2
	cfg.RateLimit.Window = time.Minute

	target, err := New().WithConfig(cfg).WithRegistry(reg).Build()
	if err != nil {
		t.Fatalf("build target: %v", err)
	}
	t.Cleanup(func() { _ = target.Close() })

	caller, err := New().WithConfig(engineTestConfig("svc-a", aPriv, aPub)).WithRegistry(reg).Build()
	if err != nil {
		t.Fatalf("build caller: %v", err)
	}
	t.Cleanup(func() { _ = caller.Close() })

	ctx := context.Background()
	if err := target.RegisterAgent(ctx, &Principal{
		ID: "svc-a", KeyType: token.KeyEd25519, PublicKey: aPub,
	}); err != nil {
		t.Fatalf("register svc-a: %v", err)
	}

	tokenStr, err := caller.IssueToken("svc-b", nil, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := target.Authenticate(ctx, "svc-a", tokenStr); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	if _, err := target.Authenticate(ctx, "svc-a", tokenStr); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	waitForEvent(t, reg, EventRateLimited)
}

func TestAuthenticateRequestHeaders(t *testing.T) {
	caller, target, _ := newEnginePair(t, []string{"read:data"})
	ctx := context.Background()

	tokenStr, err := caller.IssueToken("svc-b", []string{"read:data"}, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	headers := headerMap{
		HeaderAuthorization: "Bearer " + tokenStr,
		HeaderAgentID:       "svc-a",
	}
	auth, err := target.AuthenticateRequest(ctx, headers, "read:data")
	if err != nil {
		t.Fatalf("AuthenticateRequest failed: %v", err)
	}
	if auth.Principal.ID != "svc-a" {
		t.Fatalf("expected caller svc-a, got %s", auth.Principal.ID)
	}

	cases := []struct {
		name    string
		headers headerMap
	}{
		{"no authorization", headerMap{HeaderAgentID: "svc-a"}},
		{"no agent id", headerMap{HeaderAuthorization: "Bearer " + tokenStr}},
		{"not bearer", headerMap{HeaderAuthorization: "Basic abc", HeaderAgentID: "svc-a"}},
		{"empty bearer", headerMap{HeaderAuthorization: "Bearer ", HeaderAgentID: "svc-a"}},
	}
	for _, tc := range cases {
		if _, err := target.AuthenticateRequest(ctx, tc.headers); !errors.Is(err, ErrCredentialMissing) {
			t.Fatalf("%s: expected ErrCredentialMissing, got %v", tc.name, err)
		}
	}
}

type headerMap map[string]string

func (h headerMap) Header(name string) (string, bool) {
	v, ok := h[name]
	return v, ok
}

func TestRegisterAgentInvalidatesCache(t *testing.T) {
	caller, target, _ := newEnginePair(t, nil)
	ctx := context.Background()

	got, err := target.Lookup(ctx, "svc-a")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(got.Permissions) != 0 {
		t.Fatalf("expected no permissions yet, got %v", got.Permissions)
	}

	updated := got.Clone()
	updated.Permissions = []string{"read:data"}
	if err := target.RegisterAgent(ctx, updated); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}

	// The cache entry was invalidated, so the next lookup sees the update
	// without waiting for the TTL.
	refreshed, err := target.Lookup(ctx, "svc-a")
	if err != nil {
		t.Fatalf("Lookup after update failed: %v", err)
	}
	if len(refreshed.Permissions) != 1 {
		t.Fatalf("expected updated permissions, got %v", refreshed.Permissions)
	}
	_ = caller
}

func TestRegisterAgentValidation(t *testing.T) {
	_, target, _ := newEnginePair(t, nil)
	ctx := context.Background()

	cases := []struct {
		name      string
		principal *Principal
	}{
		{"nil", nil},
		{"empty id", &Principal{KeyType: token.KeyEd25519, PublicKey: []byte("k")}},
		{"bad key type", &Principal{ID: "x", KeyType: "rsa", PublicKey: []byte("k")}},
		{"no key", &Principal{ID: "x", KeyType: token.KeyEd25519}},
	}
	for _, tc := range cases {
		if err := target.RegisterAgent(ctx, tc.principal); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestLookupCachesFetches(t *testing.T) {
	_, target, reg := newEnginePair(t, nil)
	ctx := context.Background()

	before := func() int {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return reg.getCalls
	}()

	for i := 0; i < 5; i++ {
		if _, err := target.Lookup(ctx, "svc-a"); err != nil {
			t.Fatalf("Lookup %d failed: %v", i, err)
		}
	}

	after := func() int {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return reg.getCalls
	}()
	if after-before != 1 {
		t.Fatalf("expected exactly 1 registry fetch for 5 lookups, got %d", after-before)
	}
	if stats := target.DirectoryStats(); stats.Hits < 4 {
		t.Fatalf("expected at least 4 cache hits, got %+v", stats)
	}
}

func TestEngineClosedRejectsCalls(t *testing.T) {
	caller, target, _ := newEnginePair(t, nil)

	if err := target.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := target.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := target.Authenticate(context.Background(), "svc-a", "x"); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
	if _, err := target.IssueToken("svc-b", nil, 0); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed for IssueToken, got %v", err)
	}
	_ = caller
}

func TestBuilderValidation(t *testing.T) {
	pub, priv := genKeys(t)

	if _, err := New().WithConfig(engineTestConfig("svc-a", priv, pub)).Build(); err == nil {
		t.Fatal("expected error without registry")
	}

	cfg := engineTestConfig("", priv, pub)
	if _, err := New().WithConfig(cfg).WithRegistry(newMockRegistry()).Build(); err == nil {
		t.Fatal("expected error for empty agent ID")
	}

	cfg = engineTestConfig("svc-a", priv, pub)
	cfg.Token.DefaultTTL = 100 * time.Millisecond
	if _, err := New().WithConfig(cfg).WithRegistry(newMockRegistry()).Build(); err == nil {
		t.Fatal("expected error for sub-second TTL")
	}

	b := New().WithConfig(engineTestConfig("svc-a", priv, pub)).WithRegistry(newMockRegistry())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error reusing builder")
	}
}
