package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/pgcontrold/pkg/coordination"
)

type fakeElectionHandler struct {
	leaderObservations int32
	continueParticipating atomic.Bool
}

func (h *fakeElectionHandler) HandleStatus(ctx context.Context, isLeader bool) {
	if isLeader {
		atomic.AddInt32(&h.leaderObservations, 1)
	}
}

func (h *fakeElectionHandler) ContinueParticipating() bool {
	return h.continueParticipating.Load()
}

func TestElectionAcquiresLeadership(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/session/create":
			fmt.Fprint(w, `{"ID":"sess-1"}`)
		default:
			fmt.Fprint(w, "true")
		}
	}))
	defer srv.Close()

	coord := coordination.NewClient(srv.URL)
	handler := &fakeElectionHandler{}
	handler.continueParticipating.Store(true)

	e, err := NewElection(context.Background(), coord, "service/postgres/master",
		[]string{"postgresAlive", "postgresStandbyReplication"}, handler, "a", "10.0.0.1", 5*time.Millisecond)
	require.NoError(t, err)

	e.Start()
	defer e.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&handler.leaderObservations) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestElectionRecreatesSessionOnInvalidation(t *testing.T) {
	var sessionCreates int32
	var invalidatedOnce atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/session/create":
			atomic.AddInt32(&sessionCreates, 1)
			fmt.Fprint(w, `{"ID":"sess-1"}`)
		default:
			if !invalidatedOnce.Swap(true) {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, "invalid session")
				return
			}
			fmt.Fprint(w, "true")
		}
	}))
	defer srv.Close()

	coord := coordination.NewClient(srv.URL)
	handler := &fakeElectionHandler{}
	handler.continueParticipating.Store(true)

	e, err := NewElection(context.Background(), coord, "service/postgres/master",
		[]string{"postgresAlive", "postgresStandbyReplication"}, handler, "a", "10.0.0.1", 5*time.Millisecond)
	require.NoError(t, err)

	e.Start()
	defer e.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sessionCreates) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestElectionStopsWhenContinueParticipatingReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/create" {
			fmt.Fprint(w, `{"ID":"sess-1"}`)
			return
		}
		fmt.Fprint(w, "true")
	}))
	defer srv.Close()

	coord := coordination.NewClient(srv.URL)
	handler := &fakeElectionHandler{}
	handler.continueParticipating.Store(false)

	e, err := NewElection(context.Background(), coord, "service/postgres/master",
		[]string{"postgresAlive"}, handler, "a", "10.0.0.1", time.Millisecond)
	require.NoError(t, err)

	e.Start()
	e.Join()
	require.False(t, e.IsAlive())
}
