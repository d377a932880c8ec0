package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Operation names with default policies.
const (
	OpLogin    = "login"
	OpCallback = "callback"
	OpRefresh  = "refresh"
)

// Policy is the budget of one operation: at most Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicies returns the built-in budgets.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		OpLogin:    {Limit: 10, Window: time.Minute},
		OpCallback: {Limit: 10, Window: time.Minute},
		OpRefresh:  {Limit: 30, Window: time.Minute},
	}
}

// INCR and first-hit PEXPIRE run together so a crash between them can never
// leave a counter without a TTL. Returns {count, pttl}.
const consumeScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var consumeLua = redis.NewScript(consumeScript)

// Limiter enforces fixed-window budgets per (client, operation) using Redis
// counters at ratelimit:{client}:{operation}.
type Limiter struct {
	redis    redis.UniversalClient
	prefix   string
	policies map[string]Policy
}

// New creates a rate [Limiter]. Operations without a policy are not limited.
func New(redisClient redis.UniversalClient, prefix string, policies map[string]Policy) *Limiter {
	p := make(map[string]Policy, len(policies))
	for op, pol := range policies {
		p[op] = pol
	}
	return &Limiter{redis: redisClient, prefix: prefix, policies: p}
}

// Policy returns the policy for op and whether one is configured.
func (l *Limiter) Policy(op string) (Policy, bool) {
	p, ok := l.policies[op]
	return p, ok && p.Limit > 0 && p.Window > 0
}

func (l *Limiter) key(clientID, op string) string {
	return l.prefix + "ratelimit:" + clientID + ":" + op
}

// Consume records one request by clientID for op. It returns a
// [*LimitedError] when the request exceeds the window budget.
func (l *Limiter) Consume(ctx context.Context, clientID, op string) error {
	pol, ok := l.Policy(op)
	if !ok {
		return nil
	}
	if clientID == "" {
		clientID = "unknown"
	}

	res, err := consumeLua.Run(ctx, l.redis, []string{l.key(clientID, op)}, pol.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return fmt.Errorf("%w: invalid limiter response", ErrRedisUnavailable)
	}

	if res[0] > int64(pol.Limit) {
		retry := time.Duration(res[1]) * time.Millisecond
		if retry > pol.Window {
			retry = pol.Window
		}
		if retry <= 0 {
			retry = time.Millisecond
		}
		return &LimitedError{Operation: op, RetryAfter: retry}
	}
	return nil
}
