package worker

import (
	"context"
	"testing"
	"time"
)

// exhausted reports whether key has no token left within a short deadline
func exhausted(t *testing.T, l *Limiter, key string) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	return l.Wait(ctx, key) != nil
}

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "openai"); err != nil {
		t.Errorf("wait failed: %v", err)
	}

	// Different key has its own budget
	if err := limiter.Wait(ctx, "api.crossref.org"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_WaitURL(t *testing.T) {
	limiter := NewLimiter(1, 1)
	ctx := context.Background()

	if err := limiter.WaitURL(ctx, "https://api.openalex.org/works?search=x"); err != nil {
		t.Fatalf("WaitURL failed: %v", err)
	}
	if !exhausted(t, limiter, "api.openalex.org") {
		t.Errorf("expected host budget to be consumed by WaitURL")
	}

	if err := limiter.WaitURL(ctx, "::invalid"); err == nil {
		t.Errorf("expected error for invalid URL")
	}
}

func TestLimiter_WaitCanceled(t *testing.T) {
	limiter := NewLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Wait(ctx, "k"); err == nil {
		t.Error("expected error from canceled context")
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "anthropic"); err != nil {
		t.Errorf("first wait failed: %v", err)
	}

	// Burst of one is consumed
	if !exhausted(t, limiter, "anthropic") {
		t.Errorf("expected wait to fail (exhausted tokens)")
	}

	if exhausted(t, limiter, "ollama") {
		t.Errorf("expected other key to pass")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if exhausted(t, limiter, "k") {
			t.Fatalf("request %d denied by unlimited limiter", i)
		}
	}
}

func TestLimiter_SetRate(t *testing.T) {
	limiter := NewLimiter(10, 10)

	limiter.SetRate("slow", 0.1, 1)

	if exhausted(t, limiter, "slow") {
		t.Errorf("first request should pass")
	}
	if !exhausted(t, limiter, "slow") {
		t.Errorf("second request should fail")
	}
	if exhausted(t, limiter, "fast") {
		t.Errorf("other key should pass")
	}
}

func TestHostOf(t *testing.T) {
	host, err := hostOf("http://example.com/foo")
	if err != nil {
		t.Fatalf("hostOf failed: %v", err)
	}
	if host != "example.com" {
		t.Errorf("expected example.com, got %s", host)
	}
}
