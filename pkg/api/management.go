// Package api implements the Management Server: the HTTP surface an
// external load balancer polls for this node's readiness and role.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/pgcontrold/pkg/log"
	"github.com/cuemby/pgcontrold/pkg/state"
)

// ManagementServer exposes exactly /controller/ready and /controller/role,
// 404 on anything else. Metrics are served on a separate listener so this
// contract stays exact.
type ManagementServer struct {
	role   *state.RoleState
	mux    *http.ServeMux
	server *http.Server
}

// NewManagementServer builds a ManagementServer bound to the process Role State.
func NewManagementServer(role *state.RoleState) *ManagementServer {
	mux := http.NewServeMux()
	ms := &ManagementServer{role: role, mux: mux}

	mux.HandleFunc("/controller/ready", ms.readyHandler)
	mux.HandleFunc("/controller/role", ms.roleHandler)
	mux.HandleFunc("/", ms.notFoundHandler)

	return ms
}

func (ms *ManagementServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if ms.role.IsReady() {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

func (ms *ManagementServer) roleHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, string(ms.role.CurrentRole()))
}

func (ms *ManagementServer) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, "Endpoint not found!")
}

// Start begins serving on addr. It returns once the listener is closed by Stop.
func (ms *ManagementServer) Start(addr string) error {
	ms.server = &http.Server{
		Addr:         addr,
		Handler:      ms.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.WithComponent("api").Info().Str("addr", addr).Msg("management server listening")

	err := ms.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop ceases accepting connections and drains in-flight requests.
func (ms *ManagementServer) Stop(ctx context.Context) error {
	if ms.server == nil {
		return nil
	}
	return ms.server.Shutdown(ctx)
}
