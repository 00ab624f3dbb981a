package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSlidingWindow_Allow(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSlidingWindow(2, time.Minute)

	d := s.Allow("a", start)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, start.Add(time.Minute), d.ResetAt)

	assert.True(t, s.Allow("a", start.Add(time.Second)).Allowed)
	assert.False(t, s.Allow("a", start.Add(2*time.Second)).Allowed)
	assert.True(t, s.Allow("b", start.Add(2*time.Second)).Allowed, "keys are independent")

	// Halfway into the next window the previous window still weighs 50%.
	d = s.Allow("a", start.Add(90*time.Second))
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.False(t, s.Allow("a", start.Add(90*time.Second)).Allowed)

	// Two idle windows reset the key.
	assert.True(t, s.Allow("a", start.Add(5*time.Minute)).Allowed)
}

func TestSlidingWindow_Evict(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSlidingWindow(1, time.Minute)
	s.Allow("old", start)
	s.Allow("new", start.Add(2*time.Minute))

	s.Evict(start.Add(2*time.Minute + time.Second))
	assert.NotContains(t, s.buckets, "old")
	assert.Contains(t, s.buckets, "new")
}

func TestRateLimit(t *testing.T) {
	limiter := NewSlidingWindow(2, time.Minute)
	mux := http.NewServeMux()
	mux.Handle("POST /customers/{customerID}/cart/items",
		RateLimit(limiter, PathKey("customerID"))(okHandler()))

	post := func(customer string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/customers/"+customer+"/cart/items", nil))
		return w
	}

	for range 2 {
		w := post("7")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := post("7")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, http.StatusTooManyRequests, body.Code)
	assert.Equal(t, "rate limit exceeded", body.Message)

	assert.Equal(t, http.StatusOK, post("8").Code, "other customers are unaffected")
}

func TestRateLimit_EmptyKeyBypasses(t *testing.T) {
	limiter := NewSlidingWindow(1, time.Minute)
	h := RateLimit(limiter, func(*http.Request) string { return "" })(okHandler())

	for range 3 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{name: "remote addr", remote: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "remote addr without port", remote: "10.0.0.1", want: "10.0.0.1"},
		{
			name:   "forwarded for",
			remote: "192.168.1.1:4444",
			header: map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"},
			want:   "203.0.113.50",
		},
		{
			name:   "real ip",
			remote: "192.168.1.1:4444",
			header: map[string]string{"X-Real-IP": "198.51.100.7"},
			want:   "198.51.100.7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
