package auth

import (
	"context"
	"testing"
	"time"
)

func TestLoginLimiter(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewLoginLimiter(rdb, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		locked, err := l.Fail(ctx, "a@b.co")
		if err != nil || locked != 0 {
			t.Fatalf("attempt %d should not lock: %v %v", i, locked, err)
		}
	}
	if wait, _ := l.Check(ctx, "a@b.co"); wait != 0 {
		t.Fatalf("not locked yet")
	}

	locked, err := l.Fail(ctx, "a@b.co")
	if err != nil || locked != time.Minute {
		t.Fatalf("third failure should lock: %v %v", locked, err)
	}
	if wait, _ := l.Check(ctx, "a@b.co"); wait <= 0 {
		t.Fatalf("expected lock-out")
	}
	if wait, _ := l.Check(ctx, "other@b.co"); wait != 0 {
		t.Fatalf("lock-out is per email")
	}

	mr.FastForward(time.Minute + time.Second)
	if wait, _ := l.Check(ctx, "a@b.co"); wait != 0 {
		t.Fatalf("lock-out should expire")
	}

	_, _ = l.Fail(ctx, "a@b.co")
	if err := l.Reset(ctx, "a@b.co"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if mr.Exists(attemptsKey("a@b.co")) {
		t.Fatalf("reset should clear attempts")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *LoginLimiter
	if wait, err := l.Check(context.Background(), "a@b.co"); wait != 0 || err != nil {
		t.Fatalf("nil limiter must allow")
	}
	if _, err := l.Fail(context.Background(), "a@b.co"); err != nil {
		t.Fatalf("nil limiter fail: %v", err)
	}
}
