package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 RPS = 1 token every 100ms, burst 1.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	// Consume initial token
	if err := l.Wait(ctx, "https://test.com"); err != nil {
		t.Fatal(err)
	}

	// Next one should wait ~100ms
	start := time.Now()
	if err := l.Wait(ctx, "https://test.com/other"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentDomains(t *testing.T) {
	l := New(Config{
		DefaultRPS:   1, // 1 RPS = 1s interval
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.com/1"); err != nil {
		t.Fatal(err)
	}

	// Domain B should not be blocked by A
	start := time.Now()
	if err := l.Wait(ctx, "https://b.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("domain B blocked unexpectedly")
	}
}

func TestLimiter_HostOverride(t *testing.T) {
	l := New(Config{
		DefaultRPS:   0, // unlimited
		DefaultBurst: 1,
		Hosts:        map[string]HostLimit{"News.Google.com": {RPS: 0.001, Burst: 1}},
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx, "https://unlimited.example/"); err != nil {
			t.Fatalf("unlimited host blocked: %v", err)
		}
	}

	if err := l.Wait(ctx, "https://news.google.com/rss"); err != nil {
		t.Fatal(err)
	}
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(short, "https://news.google.com/rss"); err == nil {
		t.Fatal("expected override limiter to refuse a second token")
	}
}
