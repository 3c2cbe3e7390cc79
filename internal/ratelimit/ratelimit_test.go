package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(t *testing.T, now *time.Time) *KeyedLimiter {
	t.Helper()
	kl := NewKeyedLimiter(&Config{PerMinute: 60, Burst: 2, IdleTimeout: time.Minute, CleanupPeriod: time.Hour})
	kl.now = func() time.Time { return *now }
	t.Cleanup(kl.Close)
	return kl
}

func TestKeyedLimiterBurstAndRefill(t *testing.T) {
	now := time.Now()
	kl := newTestLimiter(t, &now)

	assert.True(t, kl.Allow("a").Allowed)
	assert.True(t, kl.Allow("a").Allowed)
	denied := kl.Allow("a")
	assert.False(t, denied.Allowed)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))

	// other keys are independent
	assert.True(t, kl.Allow("b").Allowed)

	now = now.Add(time.Second)
	assert.True(t, kl.Allow("a").Allowed)
}

func TestKeyedLimiterCleanup(t *testing.T) {
	now := time.Now()
	kl := newTestLimiter(t, &now)
	kl.Allow("a")
	kl.Allow("b")
	assert.Equal(t, 2, kl.Len())

	now = now.Add(2 * time.Minute)
	kl.Allow("b")
	kl.cleanup()
	assert.Equal(t, 1, kl.Len())
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", GetClientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", GetClientIP(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", GetClientIP(r))
}
