package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwatch/airwatch/internal/api/middleware"
)

func serve(handler http.Handler, remoteAddr, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.RemoteAddr = remoteAddr
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitByIP_AllowsWithinLimit(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 5, WindowLength: time.Minute}
	handler := middleware.RateLimitByIP(cfg)(okHandler())

	for i := 0; i < 5; i++ {
		rec := serve(handler, "192.168.1.1:12345", "")
		assert.Equal(t, http.StatusOK, rec.Code, "request %d should be allowed", i+1)
	}
}

func TestRateLimitByIP_BlocksOverLimit(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 3, WindowLength: time.Minute}
	handler := middleware.RateLimitByIP(cfg)(okHandler())

	testIP := "10.0.0.1:12345"
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(handler, testIP, "").Code)
	}

	rec := serve(handler, testIP, "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimitByIP_DifferentIPsHaveSeparateLimits(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 2, WindowLength: time.Minute}
	handler := middleware.RateLimitByIP(cfg)(okHandler())

	ip1 := "172.16.0.1:12345"
	ip2 := "172.16.0.2:12345"

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serve(handler, ip1, "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, ip1, "").Code)
	assert.Equal(t, http.StatusOK, serve(handler, ip2, "").Code)
}

func TestRateLimitBySubject_KeysOnTokenSubject(t *testing.T) {
	jwtService := newTestJWTService()
	token, _, err := jwtService.GenerateAccessToken("ops", nil, time.Hour)
	require.NoError(t, err)

	cfg := middleware.RateLimitConfig{RequestLimit: 2, WindowLength: 30 * time.Second}
	handler := middleware.Auth(jwtService)(middleware.RateLimitBySubject(cfg)(okHandler()))

	// Same subject from different addresses shares one budget.
	assert.Equal(t, http.StatusOK, serve(handler, "192.168.1.1:12345", token).Code)
	assert.Equal(t, http.StatusOK, serve(handler, "192.168.1.2:12345", token).Code)

	rec := serve(handler, "192.168.1.3:12345", token)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestRateLimitBySubject_FallsBackToIP(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 1, WindowLength: time.Minute}
	handler := middleware.RateLimitBySubject(cfg)(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "198.51.100.1:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "198.51.100.1:1", "").Code)
	assert.Equal(t, http.StatusOK, serve(handler, "198.51.100.2:1", "").Code)
}

func TestRateLimitExceededResponse_Format(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 1, WindowLength: time.Minute}
	handler := middleware.RequestID(middleware.RateLimitByIP(cfg)(okHandler()))

	testIP := "203.0.113.1:12345"

	req := httptest.NewRequest(http.MethodGet, "/test/path", http.NoBody)
	req.RemoteAddr = testIP
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/test/path", http.NoBody)
	req.RemoteAddr = testIP
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "too-many-requests")
	assert.Contains(t, body, "Rate limit exceeded")
	assert.Contains(t, body, "/test/path")
}

func TestDefaultRateLimitConfigs(t *testing.T) {
	assert.Equal(t, 100, middleware.PublicRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.PublicRateLimit.WindowLength)

	assert.Equal(t, 10, middleware.AdminRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.AdminRateLimit.WindowLength)
}
