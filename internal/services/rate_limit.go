package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetgate/fleetgate/internal/config"
	"github.com/fleetgate/fleetgate/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "fleetgate:rl"

// localWindow is an in-process fixed-window counter bucket.
type localWindow struct {
	windowStart int64
	count       int
	lastSeen    time.Time
}

// RateLimitService enforces fixed-window request limits keyed by
// scope × client identity. When Redis is configured the counters are shared
// across server processes; a Redis failure at call time falls back to the
// in-process counter for that call instead of surfacing an error.
type RateLimitService struct {
	cfg *config.RateLimitConfig
	rdb *redis.Client

	mu        sync.Mutex
	local     map[string]*localWindow
	lastSweep time.Time

	now func() time.Time
}

func NewRateLimitService(cfg *config.RateLimitConfig, redisCfg *config.RedisConfig) *RateLimitService {
	s := &RateLimitService{
		cfg:   cfg,
		local: make(map[string]*localWindow),
		now:   time.Now,
	}
	if redisCfg != nil && redisCfg.Enabled {
		s.rdb = redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
	}
	return s
}

// Allow reports whether one more request is permitted for scopeKey within
// the current fixed window. A rejected call never mutates server state
// beyond the counter itself.
func (s *RateLimitService) Allow(ctx context.Context, scopeKey string, limit, windowSeconds int) bool {
	if limit <= 0 {
		limit = s.cfg.Requests
	}
	if windowSeconds <= 0 {
		windowSeconds = s.cfg.WindowSeconds
	}

	if s.rdb != nil {
		allowed, err := s.allowShared(ctx, scopeKey, limit, windowSeconds)
		if err == nil {
			return allowed
		}
		logger.Warn().Err(err).Str("scope_key", scopeKey).Msg("shared rate limiter unavailable, using local fallback")
	}
	return s.allowLocal(scopeKey, limit, windowSeconds)
}

// allowShared counts against a Redis key per scope × window bucket. The key
// expires shortly after the window rolls over, so state is self-cleaning.
func (s *RateLimitService) allowShared(ctx context.Context, scopeKey string, limit, windowSeconds int) (bool, error) {
	bucket := s.now().Unix() / int64(windowSeconds)
	key := fmt.Sprintf("%s:%s:%d", rateLimitKeyPrefix, scopeKey, bucket)

	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		s.rdb.Expire(ctx, key, time.Duration(windowSeconds+1)*time.Second)
	}
	return count <= int64(limit), nil
}

// allowLocal is the in-process fallback. The mutex is the only concurrency
// control; buckets reset lazily when their window has elapsed and rejected
// calls do not increment further.
func (s *RateLimitService) allowLocal(scopeKey string, limit, windowSeconds int) bool {
	now := s.now()
	window := now.Unix() / int64(windowSeconds)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)

	w := s.local[scopeKey]
	if w == nil || w.windowStart != window {
		w = &localWindow{windowStart: window}
		s.local[scopeKey] = w
	}
	w.lastSeen = now
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// sweepLocked drops buckets idle for over five minutes. Caller holds mu.
func (s *RateLimitService) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < time.Minute {
		return
	}
	s.lastSweep = now
	for key, w := range s.local {
		if now.Sub(w.lastSeen) > 5*time.Minute {
			delete(s.local, key)
		}
	}
}

// ScopeKey builds the counter key for a scope and client identity.
func ScopeKey(scope, clientID string) string {
	return scope + ":" + clientID
}

// LimitFor returns the configured request count for a named scope, falling
// back to the default limit for unknown scopes.
func (s *RateLimitService) LimitFor(scope string) int {
	switch scope {
	case "auth:login":
		return s.cfg.Login
	case "auth:register":
		return s.cfg.Register
	case "agent:enroll":
		return s.cfg.Enroll
	default:
		return s.cfg.Requests
	}
}

// Window returns the configured window length in seconds.
func (s *RateLimitService) Window() int {
	return s.cfg.WindowSeconds
}
