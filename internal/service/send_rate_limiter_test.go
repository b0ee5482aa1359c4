package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type mockRedisEvaler struct {
	lastScript string
	lastKeys   []string
	lastArgs   []interface{}
	result     int64
	err        error
}

func (m *mockRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.lastScript = script
	m.lastKeys = keys
	m.lastArgs = args
	cmd := redis.NewCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(m.result)
	return cmd
}

func TestRedisSendRateLimiterAllow(t *testing.T) {
	t.Run("nil receiver fail-open", func(t *testing.T) {
		var l *redisSendRateLimiter
		if !l.Allow("dev:task-1") {
			t.Fatalf("expected fail-open for nil limiter")
		}
	})

	t.Run("empty key rejected", func(t *testing.T) {
		l := &redisSendRateLimiter{client: &mockRedisEvaler{result: 1}, window: time.Minute, max: 3, prefix: "conversation:send:rl:"}
		if l.Allow(SendLimiterKey(" ", "")) {
			t.Fatalf("expected empty key to be rejected")
		}
	})

	t.Run("allow when count within max", func(t *testing.T) {
		mock := &mockRedisEvaler{result: 2}
		l := &redisSendRateLimiter{client: mock, window: 2 * time.Minute, max: 3, prefix: "conversation:send:rl:"}
		if !l.Allow(SendLimiterKey(" dev ", "task-1")) {
			t.Fatalf("expected allow when count <= max")
		}
		if len(mock.lastKeys) != 1 || mock.lastKeys[0] != "conversation:send:rl:dev:task-1" {
			t.Fatalf("unexpected key, got %+v", mock.lastKeys)
		}
		if len(mock.lastArgs) != 1 || mock.lastArgs[0] != 120 {
			t.Fatalf("expected TTL seconds=120, got %+v", mock.lastArgs)
		}
		if mock.lastScript != redisSendAllowScript {
			t.Fatalf("expected script to match")
		}
	})

	t.Run("deny when count exceeds max", func(t *testing.T) {
		l := &redisSendRateLimiter{client: &mockRedisEvaler{result: 4}, window: time.Minute, max: 3, prefix: "conversation:send:rl:"}
		if l.Allow("dev:task-1") {
			t.Fatalf("expected deny when count > max")
		}
	})

	t.Run("redis error fail-open", func(t *testing.T) {
		l := &redisSendRateLimiter{client: &mockRedisEvaler{err: errors.New("redis down")}, window: time.Minute, max: 3, prefix: "conversation:send:rl:"}
		if !l.Allow("dev:task-1") {
			t.Fatalf("expected fail-open on redis errors")
		}
	})
}

func TestMemorySendRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
	l := NewSendRateLimiter(time.Minute, 2).(*memorySendRateLimiter)
	l.now = func() time.Time { return now }

	if !l.Allow("k") || !l.Allow("k") {
		t.Fatalf("expected first two sends allowed")
	}
	if l.Allow("k") {
		t.Fatalf("expected third send within window to be denied")
	}
	if !l.Allow("other") {
		t.Fatalf("expected independent keys")
	}

	now = now.Add(61 * time.Second)
	if !l.Allow("k") {
		t.Fatalf("expected send allowed after window")
	}
}
