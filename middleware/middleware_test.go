package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xianfeast/throttle"
	"github.com/xianfeast/throttle/stats"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func doRequest(t *testing.T, handler http.Handler, method, target, ip string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = ip + ":12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_AllowsUntilCap(t *testing.T) {
	limiter := throttle.NewLimiter()
	rule := throttle.Rule{Window: time.Minute, MaxRequests: 3}
	handler := RateLimit(limiter, rule)(okHandler())

	for i := 0; i < 3; i++ {
		rec := doRequest(t, handler, http.MethodGet, "/menu", "1.2.3.4")
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := doRequest(t, handler, http.MethodGet, "/menu", "1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRateLimit_SetsHeaders(t *testing.T) {
	limiter := throttle.NewLimiter()
	rule := throttle.Rule{Window: time.Minute, MaxRequests: 2}
	handler := RateLimit(limiter, rule)(okHandler())

	rec := doRequest(t, handler, http.MethodGet, "/menu", "1.2.3.4")
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rec.Header().Get("Retry-After"))

	doRequest(t, handler, http.MethodGet, "/menu", "1.2.3.4")
	rec = doRequest(t, handler, http.MethodGet, "/menu", "1.2.3.4")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	retryAfter := rec.Header().Get("Retry-After")
	require.NotEmpty(t, retryAfter)
	assert.NotEqual(t, "0", retryAfter)
}

func TestRateLimit_PerClientKeys(t *testing.T) {
	limiter := throttle.NewLimiter()
	rule := throttle.Rule{Window: time.Minute, MaxRequests: 1}
	handler := RateLimit(limiter, rule)(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(t, handler, http.MethodGet, "/", "1.1.1.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, handler, http.MethodGet, "/", "1.1.1.1").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, handler, http.MethodGet, "/", "2.2.2.2").Code)
}

func TestRateLimit_ExcludePaths(t *testing.T) {
	limiter := throttle.NewLimiter()
	rule := throttle.Rule{Window: time.Minute, MaxRequests: 1}
	handler := RateLimit(limiter, rule,
		WithExcludePaths("/healthz", "/static/*"),
	)(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doRequest(t, handler, http.MethodGet, "/healthz", "1.1.1.1").Code)
		assert.Equal(t, http.StatusOK, doRequest(t, handler, http.MethodGet, "/static/app.css", "1.1.1.1").Code)
	}
}

func TestRateLimit_IncludeMethods(t *testing.T) {
	limiter := throttle.NewLimiter()
	rule := throttle.Rule{Window: time.Minute, MaxRequests: 1}
	handler := RateLimit(limiter, rule, WithIncludeMethods(http.MethodPost))(okHandler())

	// GETs are never limited.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doRequest(t, handler, http.MethodGet, "/orders", "1.1.1.1").Code)
	}

	assert.Equal(t, http.StatusOK, doRequest(t, handler, http.MethodPost, "/orders", "1.1.1.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, handler, http.MethodPost, "/orders", "1.1.1.1").Code)
}

func TestRateLimit_KeyTooLong(t *testing.T) {
	limiter := throttle.NewLimiter()
	rule := throttle.Rule{Window: time.Minute, MaxRequests: 100}
	handler := RateLimit(limiter, rule, WithMaxKeySize(16))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.2.3.4:1"
	req.Header.Set("X-Forwarded-For", strings.Repeat("1", 64))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestHeaderFieldsTooLarge, rec.Code)
}

func TestRateLimit_BlockedIP(t *testing.T) {
	limiter := throttle.NewLimiter()
	limiter.BlockIP("6.6.6.6", 0)
	rule := throttle.Rule{Window: time.Minute, MaxRequests: 100}
	handler := RateLimit(limiter, rule)(okHandler())

	rec := doRequest(t, handler, http.MethodGet, "/menu", "6.6.6.6")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/menu", "7.7.7.7")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_CustomOnLimited(t *testing.T) {
	limiter := throttle.NewLimiter()
	rule := throttle.Rule{Window: time.Minute, MaxRequests: 1}
	handler := RateLimit(limiter, rule,
		WithOnLimited(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}),
	)(okHandler())

	doRequest(t, handler, http.MethodGet, "/", "1.1.1.1")
	rec := doRequest(t, handler, http.MethodGet, "/", "1.1.1.1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit_CategoryKeyFunc(t *testing.T) {
	limiter := throttle.NewLimiter()
	rule := throttle.Rule{Window: time.Minute, MaxRequests: 1}

	auth := RateLimit(limiter, rule, WithKeyFunc(CategoryKeyFunc("auth")))(okHandler())
	browse := RateLimit(limiter, rule, WithKeyFunc(CategoryKeyFunc("browse")))(okHandler())

	// Saturating the auth pool must not consume the browse pool.
	assert.Equal(t, http.StatusOK, doRequest(t, auth, http.MethodPost, "/login", "1.1.1.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, auth, http.MethodPost, "/login", "1.1.1.1").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, browse, http.MethodGet, "/menu", "1.1.1.1").Code)
}

func TestRateLimit_RecordsStats(t *testing.T) {
	limiter := throttle.NewLimiter()
	rec := stats.NewMemory()
	rule := throttle.Rule{Window: time.Minute, MaxRequests: 1}
	handler := RateLimit(limiter, rule, WithStats(rec))(okHandler())

	doRequest(t, handler, http.MethodGet, "/menu", "1.1.1.1")
	doRequest(t, handler, http.MethodGet, "/menu", "1.1.1.1")

	total := rec.Total()
	assert.Equal(t, int64(1), total.Allowed)
	assert.Equal(t, int64(1), total.Denied)
	assert.Contains(t, rec.ByRoute(), "GET /menu")
}
