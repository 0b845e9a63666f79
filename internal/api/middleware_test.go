package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject, role string, ttl time.Duration) string {
	t.Helper()
	claims := ProviderClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestProviderAuth(t *testing.T) {
	provider := uuid.New()

	var seen uuid.UUID
	h := ProviderAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ProviderFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"valid", "Bearer " + signToken(t, testSecret, provider.String(), "provider", time.Hour), http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", provider.String(), "provider", time.Hour), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, provider.String(), "provider", -time.Minute), http.StatusUnauthorized},
		{"subject not uuid", "Bearer " + signToken(t, testSecret, "dr-smith", "provider", time.Hour), http.StatusUnauthorized},
		{"patient token", "Bearer " + signToken(t, testSecret, provider.String(), "patient", time.Hour), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = uuid.Nil
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantCode == http.StatusNoContent && seen != provider {
				t.Fatalf("expected provider %s in context, got %s", provider, seen)
			}
		})
	}
}

func TestProviderAuthDisabledWithoutSecret(t *testing.T) {
	called := false
	h := ProviderAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := ProviderFromContext(r.Context()); ok {
			t.Fatal("no identity expected when auth is disabled")
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("expected handler to run")
	}
}

func TestCreateUsesTokenProvider(t *testing.T) {
	provider := uuid.New()
	h := NewRouter(RouterConfig{Service: newTestRouterService(), Logger: zerolog.Nop(), JWTSecret: testSecret})

	body := createBody(uuid.New(), "2024-01-15", "09:00", "12:00")
	rec := doJSONWithToken(t, h, body, signToken(t, testSecret, provider.String(), "", time.Hour))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("body naming another provider: expected 403, got %d", rec.Code)
	}

	delete(body, "providerId")
	rec = doJSONWithToken(t, h, body, signToken(t, testSecret, provider.String(), "", time.Hour))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

type countingLimiter struct {
	calls int
	err   error
}

func (c *countingLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	c.calls++
	return c.calls <= 1, 1500 * time.Millisecond, c.err
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &countingLimiter{}
	h := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}

	failing := RateLimitMiddleware(&countingLimiter{calls: 10, err: errors.New("redis down")})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("limiter errors should fail open, got %d", rec.Code)
	}
}

func TestLocalRateLimiterPerKey(t *testing.T) {
	l := NewLocalRateLimiter(1, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, _ := l.Allow(ctx, "10.0.0.1"); !ok {
			t.Fatalf("request %d within burst should pass", i)
		}
	}
	ok, retry, _ := l.Allow(ctx, "10.0.0.1")
	if ok {
		t.Fatal("request beyond burst should be limited")
	}
	if retry != time.Second {
		t.Fatalf("expected 1s retry, got %s", retry)
	}
	if ok, _, _ := l.Allow(ctx, "10.0.0.2"); !ok {
		t.Fatal("other clients have their own bucket")
	}
}

func TestLocalRateLimiterSweepsIdleBuckets(t *testing.T) {
	l := NewLocalRateLimiter(1, 1)
	clock := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if ok, _, _ := l.Allow(ctx, fmt.Sprintf("10.0.1.%d", i)); !ok {
			t.Fatalf("first request from client %d should pass", i)
		}
	}
	if got := l.size(); got != 50 {
		t.Fatalf("expected 50 buckets, got %d", got)
	}

	clock = clock.Add(defaultLimiterIdleTTL / 2)
	if ok, _, _ := l.Allow(ctx, "10.0.1.0"); !ok {
		t.Fatal("bucket should have refilled")
	}

	clock = clock.Add(defaultLimiterIdleTTL/2 + time.Second)
	if ok, _, _ := l.Allow(ctx, "10.0.2.1"); !ok {
		t.Fatal("new client should pass")
	}
	if got := l.size(); got != 2 {
		t.Fatalf("expected idle buckets swept leaving 2, got %d", got)
	}

	if ok, _, _ := l.Allow(ctx, "10.0.2.1"); ok {
		t.Fatal("live bucket must keep its state across a sweep")
	}
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("expected request id to propagate, got %q", seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := uuid.Parse(rec.Header().Get("X-Request-ID")); err != nil {
		t.Fatalf("expected generated uuid request id, got %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
