package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arkilian/cubecore/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(drain time.Duration) *ShutdownManager {
	logger := logging.Nop()
	return NewShutdownManager(ShutdownConfig{DrainTimeout: drain, Logger: &logger})
}

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := newManager(time.Second)
	var order []string
	sm.Register("engine", CloserFunc(func() error { order = append(order, "engine"); return nil }))
	sm.Register("cache", CloserFunc(func() error { order = append(order, "cache"); return nil }))

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.Equal(t, []string{"cache", "engine"}, order)
	assert.True(t, sm.IsShuttingDown())
}

func TestShutdown_OnlyOnce(t *testing.T) {
	sm := newManager(time.Second)
	calls := 0
	boom := errors.New("boom")
	sm.Register("x", CloserFunc(func() error { calls++; return boom }))

	err1 := sm.Shutdown(context.Background(), "first")
	err2 := sm.Shutdown(context.Background(), "second")

	assert.ErrorIs(t, err1, boom)
	assert.Equal(t, err1, err2)
	assert.Equal(t, 1, calls)
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := newManager(20 * time.Millisecond)
	require.True(t, sm.TrackRequest())

	err := sm.Shutdown(context.Background(), "test")
	assert.Error(t, err)
	assert.False(t, sm.TrackRequest())
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	sm := newManager(time.Second)
	require.True(t, sm.TrackRequest())
	go func() {
		time.Sleep(30 * time.Millisecond)
		sm.UntrackRequest()
	}()

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.Zero(t, sm.InFlight())
}

func TestMiddleware_RejectsAfterShutdown(t *testing.T) {
	sm := newManager(time.Second)
	h := sm.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	require.NoError(t, sm.Shutdown(context.Background(), "test"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWaitForSignal_ContextCancel(t *testing.T) {
	sm := newManager(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, sm.WaitForSignal(ctx))
	assert.True(t, sm.IsShuttingDown())
}
