package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pgcontrold/pkg/coordination"
	"github.com/cuemby/pgcontrold/pkg/state"
)

func newTestRoleState(t *testing.T, initialRole state.Role) (*state.RoleState, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kv/service/postgres/master":
			if initialRole == state.Master {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(`{"host":"10.0.0.1","node":"a"}`))
		case "/kv/service/postgres/a/role":
			if initialRole == state.Standby {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(string(initialRole)))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	rs := state.NewRoleState(context.Background(), coordination.NewClient(srv.URL), "service/postgres/master", "service/postgres", "a")
	require.Equal(t, initialRole, rs.CurrentRole())
	return rs, srv
}

func TestPromotionHandlerNoOpWhenNotLeader(t *testing.T) {
	rs, srv := newTestRoleState(t, state.Standby)
	defer srv.Close()

	h := NewPromotionHandler(rs)
	h.HandleStatus(context.Background(), false)

	assert.Equal(t, state.Standby, rs.CurrentRole())
}

func TestPromotionHandlerNoOpWhenAlreadyMaster(t *testing.T) {
	rs, srv := newTestRoleState(t, state.Master)
	defer srv.Close()

	h := NewPromotionHandler(rs)
	h.HandleStatus(context.Background(), true)

	assert.Equal(t, state.Master, rs.CurrentRole())
}

func TestPromotionHandlerContinueParticipating(t *testing.T) {
	rs, srv := newTestRoleState(t, state.Standby)
	defer srv.Close()

	h := NewPromotionHandler(rs)
	assert.True(t, h.ContinueParticipating())

	rs.SetRole(context.Background(), state.Master)
	assert.False(t, h.ContinueParticipating())
}
