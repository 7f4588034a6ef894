package state

import (
	"context"
	"time"
)

// AliveStatusHandler adapts RoleState to health.StatusHandler for the
// postgresAlive check.
type AliveStatusHandler struct {
	Role *RoleState
}

// HandleStatus implements health.StatusHandler.
func (h AliveStatusHandler) HandleStatus(passing bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.Role.HandleAliveStatus(ctx, passing)
}

// ContinueChecking implements health.StatusHandler.
func (h AliveStatusHandler) ContinueChecking() bool {
	return h.Role.ContinueChecking()
}

// ReplicationStatusHandler adapts RoleState to health.StatusHandler for the
// postgresStandbyReplication check.
type ReplicationStatusHandler struct {
	Role *RoleState
}

// HandleStatus implements health.StatusHandler.
func (h ReplicationStatusHandler) HandleStatus(passing bool) {
	h.Role.HandleReplicationStatus(passing)
}

// ContinueChecking implements health.StatusHandler.
func (h ReplicationStatusHandler) ContinueChecking() bool {
	return h.Role.ContinueChecking()
}
