// Package ratelimit provides per-IP connection-attempt limiting and
// per-connection message-rate limiting on top of golang.org/x/time/rate's
// token bucket, so one noisy IP or one chatty session cannot starve a
// room's other subscribers.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnectLimiter rate limits WebSocket upgrade attempts per source IP.
type ConnectLimiter struct {
	mu      sync.Mutex
	byIP    map[string]*ipEntry
	perSec  float64
	burst   int
	ttl     time.Duration
	logger  zerolog.Logger
	stop    chan struct{}
	stopped bool
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewConnectLimiter creates a limiter allowing perSec sustained connection
// attempts per IP with the given burst, evicting IPs idle for longer than
// ttl. A perSec of zero disables the per-IP limit entirely (every attempt
// is allowed; used for loopback/test environments).
func NewConnectLimiter(perSec float64, burst int, ttl time.Duration, logger zerolog.Logger) *ConnectLimiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l := &ConnectLimiter{
		byIP:   make(map[string]*ipEntry),
		perSec: perSec,
		burst:  burst,
		ttl:    ttl,
		logger: logger.With().Str("component", "connect_limiter").Logger(),
		stop:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a new connection attempt from ip should proceed.
func (l *ConnectLimiter) Allow(ip string) bool {
	if l.perSec <= 0 {
		return true
	}
	l.mu.Lock()
	entry, ok := l.byIP[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(rate.Limit(l.perSec), l.burst)}
		l.byIP[ip] = entry
	}
	entry.lastAccess = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	allowed := limiter.Allow()
	if !allowed {
		l.logger.Debug().Str("ip", ip).Msg("connection attempt rejected by per-IP rate limit")
	}
	return allowed
}

func (l *ConnectLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *ConnectLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for ip, entry := range l.byIP {
		if now.Sub(entry.lastAccess) > l.ttl {
			delete(l.byIP, ip)
		}
	}
}

// Stop ends the background cleanup goroutine. Safe to call once.
func (l *ConnectLimiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stop)
}

// TrackedIPs reports how many IPs currently have a live limiter entry.
func (l *ConnectLimiter) TrackedIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byIP)
}

// MessageLimiter rate limits the text frames a single session may publish.
// One instance is created per session; it holds no shared state so there
// is no map/cleanup concern like ConnectLimiter's per-IP tracking.
type MessageLimiter struct {
	limiter *rate.Limiter
}

// NewMessageLimiter creates a per-session limiter allowing perSec sustained
// published messages with the given burst.
func NewMessageLimiter(perSec float64, burst int) *MessageLimiter {
	return &MessageLimiter{limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Allow reports whether the session may publish another message now.
func (m *MessageLimiter) Allow() bool {
	return m.limiter.Allow()
}
