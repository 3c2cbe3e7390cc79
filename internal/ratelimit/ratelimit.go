// File: internal/ratelimit/ratelimit.go
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiting configuration
type Config struct {
	PerMinute     int           // Sustained requests per minute per key
	Burst         int           // Requests allowed at once
	IdleTimeout   time.Duration // Forget keys unused for this long
	CleanupPeriod time.Duration // How often to clean up idle keys
}

// DefaultTurnConfig returns defaults for the turn-start endpoint
func DefaultTurnConfig() *Config {
	return &Config{
		PerMinute:     20,
		Burst:         5,
		IdleTimeout:   10 * time.Minute,
		CleanupPeriod: 5 * time.Minute,
	}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key (usually the client IP)
type KeyedLimiter struct {
	config  *Config
	entries map[string]*entry
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewKeyedLimiter creates a limiter and starts its cleanup goroutine
func NewKeyedLimiter(config *Config) *KeyedLimiter {
	limiter := &KeyedLimiter{
		config:  config,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go limiter.cleanupLoop()
	return limiter
}

// Info describes the outcome of a check
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Allow consumes one token for key
func (kl *KeyedLimiter) Allow(key string) Info {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := kl.now()
	e, ok := kl.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(float64(kl.config.PerMinute)/60), kl.config.Burst)}
		kl.entries[key] = e
	}
	e.lastSeen = now

	info := Info{Limit: kl.config.Burst}
	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		info.RetryAfter = delay
		return info
	}
	info.Allowed = true
	info.Remaining = int(e.limiter.TokensAt(now))
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	return info
}

// Len reports the number of tracked keys
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.entries)
}

// cleanupLoop periodically removes idle keys
func (kl *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(kl.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			kl.cleanup()
		case <-kl.stopCh:
			return
		}
	}
}

func (kl *KeyedLimiter) cleanup() {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := kl.now()
	for key, e := range kl.entries {
		if now.Sub(e.lastSeen) > kl.config.IdleTimeout {
			delete(kl.entries, key)
		}
	}
}

// Close stops the cleanup goroutine
func (kl *KeyedLimiter) Close() {
	kl.once.Do(func() { close(kl.stopCh) })
}

// GetClientIP extracts the real client IP from request
func GetClientIP(r *http.Request) string {
	// Check for forwarded IP (behind proxy/load balancer)
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if ip := parseFirstIP(forwarded); ip != "" {
			return ip
		}
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// parseFirstIP extracts the first IP from a comma-separated list
func parseFirstIP(forwarded string) string {
	ips := strings.Split(forwarded, ",")
	return strings.TrimSpace(ips[0])
}
