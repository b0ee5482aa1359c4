package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SendRateLimiter limita cuantos mensajes puede enviar un viewer por conversacion.
type SendRateLimiter interface {
	Allow(key string) bool
}

// SendLimiterKey arma la clave viewer:tarea usada por los limiters.
func SendLimiterKey(viewerID, taskID string) string {
	return strings.TrimSpace(viewerID) + ":" + strings.TrimSpace(taskID)
}

type memorySendRateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewSendRateLimiter crea un limiter en memoria de ventana deslizante.
func NewSendRateLimiter(window time.Duration, max int) SendRateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &memorySendRateLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *memorySendRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	entries := l.hits[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

const redisSendAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisSendRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
}

// NewRedisSendRateLimiter comparte el conteo entre instancias de la API (ventana fija).
func NewRedisSendRateLimiter(client *redis.Client, window time.Duration, max int) SendRateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisSendRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "conversation:send:rl:",
	}
}

func (l *redisSendRateLimiter) Allow(key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" || normalizedKey == ":" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 60
	}
	count, err := l.client.Eval(ctx, redisSendAllowScript, []string{l.prefix + normalizedKey}, seconds).Int()
	if err != nil {
		// Sin Redis se permite el envio.
		return true
	}
	return count <= l.max
}
