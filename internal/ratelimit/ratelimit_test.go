package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testPolicy = Policy{Name: "test", Limit: 3, Window: time.Minute, UserLimit: 2}

func TestMemoryLimiterOriginLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < testPolicy.Limit; i++ {
		ok, _ := l.Allow(ctx, testPolicy, "10.0.0.1", "")
		if !ok {
			t.Fatalf("request %d rejected", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, testPolicy, "10.0.0.1", ""); ok {
		t.Fatal("expected request beyond limit to be rejected")
	}
	// Outra origem não é afetada
	if ok, _ := l.Allow(ctx, testPolicy, "10.0.0.2", ""); !ok {
		t.Fatal("expected other origin to be allowed")
	}

	// Janela reinicia em now - start >= window
	now = now.Add(testPolicy.Window)
	if ok, _ := l.Allow(ctx, testPolicy, "10.0.0.1", ""); !ok {
		t.Fatal("expected request after window to be allowed")
	}
}

func TestMemoryLimiterUserDimension(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemoryLimiter()

	// O mesmo usuário vindo de origens diferentes
	if ok, _ := l.Allow(ctx, testPolicy, "a", "user-1"); !ok {
		t.Fatal("first request rejected")
	}
	if ok, _ := l.Allow(ctx, testPolicy, "b", "user-1"); !ok {
		t.Fatal("second request rejected")
	}
	if ok, _ := l.Allow(ctx, testPolicy, "c", "user-1"); ok {
		t.Fatal("expected user limit to reject third request")
	}

	// A rejeição pelo usuário não consumiu cota da origem "c"
	for i := 0; i < testPolicy.Limit; i++ {
		if ok, _ := l.Allow(ctx, testPolicy, "c", ""); !ok {
			t.Fatalf("origin c request %d rejected", i+1)
		}
	}
}

func TestMemoryLimiterRejectDoesNotConsume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemoryLimiter()
	p := Policy{Name: "strict", Limit: 1, Window: time.Minute, UserLimit: 5}

	l.Allow(ctx, p, "a", "")
	for i := 0; i < 10; i++ {
		l.Allow(ctx, p, "a", "user-1")
	}
	// user-1 nunca passou, então ainda tem toda a cota em outra origem
	for i := 0; i < p.UserLimit; i++ {
		if ok, _ := l.Allow(ctx, p, "origin-"+string(rune('0'+i)), "user-1"); !ok {
			t.Fatalf("user request %d rejected", i+1)
		}
	}
}

func TestMemoryLimiterPrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }

	l.Allow(ctx, testPolicy, "a", "user-1")
	l.Allow(ctx, Policy{Name: "long", Limit: 1, Window: time.Hour, UserLimit: 1}, "a", "")

	now = now.Add(2 * time.Minute)
	removed, err := l.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if len(l.windows) != 1 {
		t.Errorf("windows left = %d, want 1", len(l.windows))
	}
}

func TestRedisLimiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := NewRedisLimiter(client)

	for i := 0; i < testPolicy.UserLimit; i++ {
		ok, err := l.Allow(ctx, testPolicy, "10.0.0.1", "user-1")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d rejected", i+1)
		}
	}
	ok, err := l.Allow(ctx, testPolicy, "10.0.0.1", "user-1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("expected user limit to reject")
	}

	// Rejeição não incrementou a origem: ainda resta 1 requisição anônima
	if ok, _ := l.Allow(ctx, testPolicy, "10.0.0.1", ""); !ok {
		t.Fatal("expected anonymous request within origin limit")
	}
	if ok, _ := l.Allow(ctx, testPolicy, "10.0.0.1", ""); ok {
		t.Fatal("expected origin limit to reject")
	}

	mr.FastForward(testPolicy.Window)
	if ok, _ := l.Allow(ctx, testPolicy, "10.0.0.1", "user-1"); !ok {
		t.Fatal("expected keys to expire after the window")
	}
}
