package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pgcontrold/pkg/coordination"
	"github.com/cuemby/pgcontrold/pkg/health"
)

type countingHandler struct {
	statuses         int32
	continueChecking atomic.Bool
}

func (h *countingHandler) HandleStatus(passing bool) {
	atomic.AddInt32(&h.statuses, 1)
}

func (h *countingHandler) ContinueChecking() bool {
	return h.continueChecking.Load()
}

func TestHealthMonitorRegistersTTLCheckBeforeFirstUpdate(t *testing.T) {
	var registered, updated atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agent/check/register":
			registered.Store(true)
		case "/agent/check/update/postgresAlive":
			require.True(t, registered.Load(), "update_check must not be called before register_ttl_check")
			updated.Store(true)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	coord := coordination.NewClient(srv.URL)
	handler := &countingHandler{}
	handler.continueChecking.Store(true)

	probe := health.ProbeFunc(func(ctx context.Context) bool { return true })
	check := health.NewCheck(health.Alive, probe, 1, handler)

	hm, err := NewHealthMonitor(context.Background(), check, coord, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, registered.Load())

	hm.Start()
	defer hm.Stop()

	require.Eventually(t, updated.Load, time.Second, 5*time.Millisecond)
}

func TestHealthMonitorStopsWhenContinueCheckingReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	coord := coordination.NewClient(srv.URL)
	handler := &countingHandler{}
	handler.continueChecking.Store(false)

	probe := health.ProbeFunc(func(ctx context.Context) bool { return false })
	check := health.NewCheck(health.Alive, probe, 1, handler)

	hm, err := NewHealthMonitor(context.Background(), check, coord, time.Millisecond)
	require.NoError(t, err)

	hm.Start()
	hm.Join()
	assert.False(t, hm.IsAlive())
}
