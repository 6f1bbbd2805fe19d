package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	phlow "github.com/phlow-dev/phlow"
	"github.com/phlow-dev/phlow/registry"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type agentState struct {
	id    string
	token string
}

func main() {
	var (
		agents      = flag.Int("agents", 1000, "number of caller agents to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "authenticate operations to run")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *agents <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "agents, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	reg, err := registry.NewRedis(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "registry: %v\n", err)
		os.Exit(1)
	}

	targetPub, targetPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate target key: %v\n", err)
		os.Exit(1)
	}

	cfg := phlow.Config{}
	cfg.Agent.ID = "loadtest-target"
	cfg.Agent.KeyType = "ed25519"
	cfg.Agent.PrivateKey = targetPriv
	cfg.Agent.PublicKey = targetPub
	cfg.Token.DefaultTTL = time.Hour
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.MaxRequests = 1 << 30
	cfg.RateLimit.Window = time.Minute
	cfg.Audit.Enabled = true
	cfg.Audit.BatchSize = 256
	cfg.Audit.FlushInterval = time.Second
	cfg.Directory.CacheTTL = 10 * time.Minute
	cfg.Directory.GracePeriod = time.Minute
	cfg.Directory.FetchTimeout = 2 * time.Second
	cfg.Metrics.Enabled = true

	engine, err := phlow.New().
		WithConfig(cfg).
		WithRegistry(reg).
		WithRedis(client).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Seed: one shared HS256 secret keeps seeding fast; the signature path
	// cost under test is the engine's, not the seeder's.
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fmt.Fprintf(os.Stderr, "generate secret: %v\n", err)
		os.Exit(1)
	}

	states := make([]agentState, *agents)
	fmt.Printf("seeding %d agents...\n", *agents)
	startSeed := time.Now()
	for i := 0; i < *agents; i++ {
		id := fmt.Sprintf("agent-%d", i)
		if err := engine.RegisterAgent(ctx, &phlow.Principal{
			ID:        id,
			Name:      id,
			KeyType:   "hs256",
			PublicKey: secret,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
			os.Exit(1)
		}

		callerCfg := phlow.Config{}
		callerCfg.Agent.ID = id
		callerCfg.Agent.KeyType = "hs256"
		callerCfg.Agent.PrivateKey = secret
		callerCfg.Token.DefaultTTL = time.Hour
		callerCfg.RateLimit.Enabled = false
		callerCfg.Audit.Enabled = false
		callerCfg.Directory.CacheTTL = time.Minute
		caller, err := phlow.New().WithConfig(callerCfg).WithRegistry(reg).Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "caller build failed: %v\n", err)
			os.Exit(1)
		}
		token, err := caller.IssueToken("loadtest-target", []string{"read:data"}, 0)
		_ = caller.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = agentState{id: id, token: token}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	stats := runAuthenticatePhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("authenticate", stats)

	snapshot := engine.MetricsSnapshot()
	fmt.Printf("auth_success=%d rate_limited=%d signature=%d\n",
		snapshot.Counters[phlow.MetricAuthSuccess],
		snapshot.Counters[phlow.MetricRateLimited],
		snapshot.Counters[phlow.MetricTokenSignature],
	)
	fmt.Printf("audit delivered=%d pending=%d\n", engine.AuditDelivered(), engine.AuditPending())
}

func runAuthenticatePhase(ctx context.Context, engine *phlow.Engine, states []agentState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				t0 := time.Now()
				_, err := engine.Authenticate(ctx, states[idx].id, states[idx].token, "read:data")
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%-12s ops=%d failures=%d total=%s p50=%s p95=%s p99=%s ops/s=%.0f\n",
		name, s.ops, s.failures,
		s.total.Round(time.Millisecond),
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
		s.opsPerS,
	)
}
