// Command authority-loadtest drives session issue, verify and refresh
// against Redis (or an embedded miniredis) and reports latency percentiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authority"
	"github.com/MrEthical07/authority/directory"
	"github.com/MrEthical07/authority/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// slot holds the current token pair of one seeded session. Refresh
// replaces both tokens, so workers serialize on mu.
type slot struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func main() {
	var (
		principals  = flag.Int("principals", 10000, "number of principals to seed (each gets one session)")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (issue + verify + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt:", "key prefix")
	)
	flag.Parse()

	if *principals <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "principals, concurrency, and ops must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}, MaxRetries: 1})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}, MaxRetries: 1})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	auth, people, err := buildAuthority(client, *prefix, *principals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build authority: %v\n", err)
		os.Exit(1)
	}
	defer auth.Close()

	slots := make([]slot, len(people))
	fmt.Printf("seeding %d sessions...\n", len(people))
	startSeed := time.Now()
	for i, p := range people {
		res, err := auth.IssueSession(ctx, p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		slots[i].access, slots[i].refresh = res.AccessToken, res.RefreshToken
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		s := &slots[r.Intn(len(slots))]
		s.mu.Lock()
		access := s.access
		s.mu.Unlock()
		_, err := auth.Verify(ctx, access)
		return err
	})
	refreshStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		s := &slots[r.Intn(len(slots))]
		s.mu.Lock()
		defer s.mu.Unlock()
		res, err := auth.Refresh(ctx, s.refresh)
		if err != nil {
			return err
		}
		s.access, s.refresh = res.AccessToken, res.RefreshToken
		return nil
	})
	// issuing on a random principal evicts its oldest session once the cap
	// is reached, so this phase exercises the eviction script
	issueStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := auth.IssueSession(ctx, people[r.Intn(len(people))])
		return err
	})

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("refresh", refreshStats)
	printStats("issue", issueStats)
}

func buildAuthority(client redis.UniversalClient, prefix string, n int) (*authority.Authority, []authority.Principal, error) {
	priv, pub, err := token.GenerateEd25519PEM()
	if err != nil {
		return nil, nil, err
	}
	cfg := authority.DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.Token.Issuer = "authority-loadtest"
	cfg.Store.KeyPrefix = prefix
	cfg.RateLimit.Enabled = false
	cfg.Metrics.Enabled = true

	people := make([]authority.Principal, n)
	for i := range people {
		people[i] = authority.Principal{
			ID:     fmt.Sprintf("p-%d", i),
			Email:  fmt.Sprintf("p-%d@loadtest.local", i),
			Role:   "member",
			Active: true,
		}
	}
	dir := directory.NewStatic(people...)

	auth, err := authority.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPermissions([]string{"reports:view"}).
		WithRoles(map[string][]string{"member": {"reports:view"}}).
		WithDirectory(dir).
		Build()
	if err != nil {
		return nil, nil, err
	}
	return auth, people, nil
}

func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil && !errors.Is(err, authority.ErrRateLimited) {
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
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
