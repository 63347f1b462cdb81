package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/login/", nil)
		req.RemoteAddr = ip + ":5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2"), "buckets are per client")
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.getLimiter("10.0.0.1")

	rl.sweep(time.Now())
	assert.Len(t, rl.visitors, 1)

	rl.sweep(time.Now().Add(10 * time.Minute))
	assert.Empty(t, rl.visitors)
}

func TestClientIP(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	require.NoError(t, rl.TrustProxies("10.0.0.0/8", "192.0.2.7"))

	req := func(remote, fwd string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		if fwd != "" {
			r.Header.Set("X-Forwarded-For", fwd)
		}
		return r
	}

	assert.Equal(t, "192.0.2.1", rl.clientIP(req("192.0.2.1:1234", "")))
	assert.Equal(t, "198.51.100.4", rl.clientIP(req("198.51.100.4:1234", "203.0.113.9")),
		"headers from untrusted peers are ignored")
	assert.Equal(t, "203.0.113.9", rl.clientIP(req("10.1.2.3:1234", "203.0.113.9")))
	assert.Equal(t, "203.0.113.9", rl.clientIP(req("192.0.2.7:1234", "1.1.1.1, 203.0.113.9, 10.0.0.5")),
		"the rightmost untrusted hop wins over spoofed entries")
	assert.Equal(t, "10.1.2.3", rl.clientIP(req("10.1.2.3:1234", "not-an-ip")))
}

func TestRateLimiter_SpoofedForwardedFor(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for _, fwd := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		req := httptest.NewRequest(http.MethodPost, "/login/", nil)
		req.RemoteAddr = "198.51.100.4:5555"
		req.Header.Set("X-Forwarded-For", fwd)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestTrustProxies_Invalid(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.Error(t, rl.TrustProxies("proxy.internal"))
	assert.Error(t, rl.TrustProxies("10.0.0.0/99"))
	assert.NoError(t, rl.TrustProxies("::1", "fd00::/8"))
}
