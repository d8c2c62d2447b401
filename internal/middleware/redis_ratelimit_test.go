package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/contactbook/internal/model"
)

// --- モック定義 ---

type fakeWindowCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	ttl    time.Duration
	err    error
}

func newFakeWindowCounter() *fakeWindowCounter {
	return &fakeWindowCounter{counts: make(map[string]int64), ttl: 42 * time.Second}
}

func (f *fakeWindowCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, 0, f.err
	}
	f.counts[key]++
	return f.counts[key], f.ttl, nil
}

func requestAs(id int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	return req.WithContext(ContextWithIdentity(req.Context(), &model.Identity{ID: id, Role: model.RoleUser}))
}

// --- テスト ---

func TestFixedWindowLimiter_AllowsUpToLimit(t *testing.T) {
	counter := newFakeWindowCounter()
	collector := &recordingCollector{}
	limiter := NewFixedWindowLimiter(counter, "me", 3, time.Minute, collector)
	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(5))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(5))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "42" {
		t.Errorf("Retry-After = %q, want 42", got)
	}
	if len(collector.rateLimited) != 1 || collector.rateLimited[0] != "me" {
		t.Errorf("rateLimited = %v, want [me]", collector.rateLimited)
	}
	if _, ok := counter.counts["ratelimit:me:5"]; !ok {
		t.Errorf("unexpected keys: %v", counter.counts)
	}
}

func TestFixedWindowLimiter_IsolatesUsers(t *testing.T) {
	limiter := NewFixedWindowLimiter(newFakeWindowCounter(), "me", 1, time.Minute, &recordingCollector{})
	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), requestAs(1))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(2))
	if w.Code != http.StatusOK {
		t.Errorf("別ユーザーの制限に影響されました: status = %d", w.Code)
	}
}

func TestFixedWindowLimiter_FailsOpenOnStoreError(t *testing.T) {
	counter := newFakeWindowCounter()
	counter.err = errors.New("connection refused")
	limiter := NewFixedWindowLimiter(counter, "me", 1, time.Minute, &recordingCollector{})

	called := 0
	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs(5))
	}
	if called != 3 {
		t.Errorf("handler called %d times, want 3", called)
	}
}

func TestFixedWindowLimiter_RequiresIdentity(t *testing.T) {
	limiter := NewFixedWindowLimiter(newFakeWindowCounter(), "me", 1, time.Minute, &recordingCollector{})
	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestWindowRetryAfter(t *testing.T) {
	tests := []struct {
		ttl    time.Duration
		window time.Duration
		want   int
	}{
		{30 * time.Second, time.Minute, 30},
		{1500 * time.Millisecond, time.Minute, 2},
		{0, time.Minute, 60},
		{-1, time.Minute, 60},
		{time.Millisecond, time.Minute, 1},
	}
	for _, tt := range tests {
		if got := windowRetryAfter(tt.ttl, tt.window); got != tt.want {
			t.Errorf("windowRetryAfter(%v, %v) = %d, want %d", tt.ttl, tt.window, got, tt.want)
		}
	}
}
