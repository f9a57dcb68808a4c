package services

import (
	"context"
	"testing"
	"time"

	"github.com/fleetgate/fleetgate/internal/config"
)

func testRateLimitConfig() *config.RateLimitConfig {
	return &config.RateLimitConfig{
		Requests:      100,
		WindowSeconds: 60,
		Login:         10,
		Register:      5,
		Enroll:        10,
	}
}

func TestAllow_BoundaryIsExact(t *testing.T) {
	svc := NewRateLimitService(testRateLimitConfig(), nil)
	ctx := context.Background()
	key := ScopeKey("auth:login", "1.2.3.4")

	for i := 0; i < 10; i++ {
		if !svc.Allow(ctx, key, 10, 60) {
			t.Fatalf("request %d rejected, expected first 10 allowed", i+1)
		}
	}
	if svc.Allow(ctx, key, 10, 60) {
		t.Error("request 11 allowed, expected rejection at the boundary")
	}
}

func TestAllow_WindowRollover(t *testing.T) {
	svc := NewRateLimitService(testRateLimitConfig(), nil)
	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	key := ScopeKey("agent:enroll", "5.6.7.8")

	for i := 0; i < 10; i++ {
		if !svc.Allow(ctx, key, 10, 60) {
			t.Fatalf("request %d rejected within limit", i+1)
		}
	}
	if svc.Allow(ctx, key, 10, 60) {
		t.Fatal("over-limit request allowed")
	}

	// Next fixed window: the counter resets completely.
	now = now.Add(61 * time.Second)
	if !svc.Allow(ctx, key, 10, 60) {
		t.Error("request rejected after window rollover")
	}
}

func TestAllow_ScopesIndependent(t *testing.T) {
	svc := NewRateLimitService(testRateLimitConfig(), nil)
	ctx := context.Background()

	loginKey := ScopeKey("auth:login", "9.9.9.9")
	enrollKey := ScopeKey("agent:enroll", "9.9.9.9")

	for i := 0; i < 10; i++ {
		svc.Allow(ctx, loginKey, 10, 60)
	}
	if svc.Allow(ctx, loginKey, 10, 60) {
		t.Fatal("login scope not exhausted")
	}

	if !svc.Allow(ctx, enrollKey, 10, 60) {
		t.Error("enroll scope rejected, scopes must be independent")
	}
}

func TestAllow_ClientsIndependent(t *testing.T) {
	svc := NewRateLimitService(testRateLimitConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.Allow(ctx, ScopeKey("auth:register", "10.0.0.1"), 5, 60)
	}
	if svc.Allow(ctx, ScopeKey("auth:register", "10.0.0.1"), 5, 60) {
		t.Fatal("first client not exhausted")
	}

	if !svc.Allow(ctx, ScopeKey("auth:register", "10.0.0.2"), 5, 60) {
		t.Error("second client rejected, clients must be counted separately")
	}
}

func TestAllow_RejectionDoesNotConsume(t *testing.T) {
	svc := NewRateLimitService(testRateLimitConfig(), nil)
	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	key := ScopeKey("auth:login", "8.8.8.8")

	for i := 0; i < 10; i++ {
		svc.Allow(ctx, key, 10, 60)
	}
	// Hammering a rejected key must not extend the lockout into the next
	// window.
	for i := 0; i < 100; i++ {
		svc.Allow(ctx, key, 10, 60)
	}

	now = now.Add(61 * time.Second)
	if !svc.Allow(ctx, key, 10, 60) {
		t.Error("rejected requests extended the lockout across windows")
	}
}

func TestLimitFor(t *testing.T) {
	svc := NewRateLimitService(testRateLimitConfig(), nil)

	cases := map[string]int{
		"auth:login":    10,
		"auth:register": 5,
		"agent:enroll":  10,
		"agent:api":     100,
		"unknown":       100,
	}
	for scope, want := range cases {
		if got := svc.LimitFor(scope); got != want {
			t.Errorf("LimitFor(%q) = %d, expected %d", scope, got, want)
		}
	}
}
