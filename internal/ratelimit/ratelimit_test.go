package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, remoteAddr, caller string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/entities/lead/1", nil)
	req.RemoteAddr = remoteAddr
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMiddleware_RejectsWhenBucketEmpty(t *testing.T) {
	store := NewStore(0.01, 2)
	h := Middleware(store, nil)(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:5000", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:5001", "").Code)

	rr := serve(h, "10.0.0.1:5002", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
}

func TestMiddleware_CallersAreIndependent(t *testing.T) {
	store := NewStore(0.01, 1)
	h := Middleware(store, HeaderKeyFunc("X-Caller"))(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:5000", "billing").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:5000", "billing").Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:5000", "flows").Code)

	// without the header the remote host is the key
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:5000", "").Code)

	assert.Equal(t, 3, store.Len())
}

func TestMiddleware_RejectionDoesNotConsumeTokens(t *testing.T) {
	store := NewStore(20, 1)
	h := Middleware(store, nil)(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:5000", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:5000", "").Code)

	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:5000", "").Code)
}

func TestHeaderKeyFunc(t *testing.T) {
	keyFn := HeaderKeyFunc("X-Caller")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	assert.Equal(t, "192.0.2.10", keyFn(req))

	req.Header.Set("X-Caller", " flows ")
	assert.Equal(t, "flows", keyFn(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", keyFn(req))

	req.RemoteAddr = ""
	assert.Equal(t, "unknown", keyFn(req))
}

func TestStore_CleanupForgetsIdleCallers(t *testing.T) {
	store := NewStore(1, 1, WithIdleTTL(time.Millisecond))

	first := store.Limiter("a")
	assert.Same(t, first, store.Limiter("a"))

	time.Sleep(5 * time.Millisecond)
	store.Cleanup()

	assert.Equal(t, 0, store.Len())
	assert.NotSame(t, first, store.Limiter("a"))
}

func TestStore_Janitor(t *testing.T) {
	store := NewStore(1, 1, WithIdleTTL(time.Millisecond), WithCleanupEvery(5*time.Millisecond))
	store.Limiter("a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartJanitor(ctx)

	assert.Eventually(t, func() bool {
		return store.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
