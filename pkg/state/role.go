// Package state holds the process-wide Role State: the single in-process
// source of truth for this node's role, per-check pass/fail signals, and
// the initialized flag the startup orchestrator gates on.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/pgcontrold/pkg/coordination"
	"github.com/cuemby/pgcontrold/pkg/health"
	"github.com/cuemby/pgcontrold/pkg/log"
	"github.com/cuemby/pgcontrold/pkg/metrics"
)

// Role is one of Master, Standby, or DeadMaster. DeadMaster is terminal
// within a process lifetime: nothing transitions out of it.
type Role string

const (
	Master     Role = "Master"
	Standby    Role = "Standby"
	DeadMaster Role = "DeadMaster"
)

// ParseRole parses a persisted role string. Anything other than the three
// known values is rejected and treated by callers as if the value were
// absent.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case Master, Standby, DeadMaster:
		return Role(s), true
	default:
		return "", false
	}
}

// passState is a settable, clearable pass/fail signal: Wait blocks until the
// signal is currently passing, IsSet reports the current value. Unlike a
// one-shot latch it can flip back to failing after having passed, which
// matters for IsReady but not for the one-time startup gate.
type passState struct {
	mu      sync.Mutex
	ch      chan struct{}
	passing bool
}

func newPassState() *passState {
	return &passState{ch: make(chan struct{})}
}

func (p *passState) Set(passing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if passing == p.passing {
		return
	}
	p.passing = passing
	if passing {
		close(p.ch)
	} else {
		p.ch = make(chan struct{})
	}
}

func (p *passState) Wait(ctx context.Context) error {
	p.mu.Lock()
	ch := p.ch
	passing := p.passing
	p.mu.Unlock()

	if passing {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *passState) IsSet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passing
}

// RoleState is the process-wide singleton described in the component
// design. Constructed once via NewRoleState (which performs initial-role
// resolution) and injected as an explicit dependency into every worker and
// HTTP handler that needs it, rather than consumed as a package global.
type RoleState struct {
	mu   sync.RWMutex
	role Role

	electionKey   string
	roleKeyPrefix string
	hostName      string

	coord *coordination.Client

	checks   map[health.Name]*passState
	checksMu sync.Mutex

	initialized bool
	initMu      sync.Mutex
}

// NewRoleState resolves the initial role per the startup resolution rules
// and returns a ready RoleState. electionKey is "<prefix>/master";
// roleKeyPrefix is "<prefix>" (the per-host role key is roleKeyPrefix +
// "/" + hostName + "/role").
func NewRoleState(ctx context.Context, coord *coordination.Client, electionKey, roleKeyPrefix, hostName string) *RoleState {
	rs := &RoleState{
		electionKey:   electionKey,
		roleKeyPrefix: roleKeyPrefix,
		hostName:      hostName,
		coord:         coord,
		checks: map[health.Name]*passState{
			health.Alive:              newPassState(),
			health.StandbyReplication: newPassState(),
		},
	}

	rs.role = resolveInitialRole(ctx, coord, electionKey, rs.roleKey())
	metrics.Role.Reset()
	metrics.Role.WithLabelValues(string(rs.role)).Set(1)
	return rs
}

func (rs *RoleState) roleKey() string {
	return rs.roleKeyPrefix + "/" + rs.hostName + "/role"
}

// resolveInitialRole implements §4.7: if the election key is absent, this
// node assumes Master; otherwise it adopts its previously persisted role,
// or Standby if none was persisted. Transient coordination errors are
// retried indefinitely with a 3-second backoff.
func resolveInitialRole(ctx context.Context, coord *coordination.Client, electionKey, roleKey string) Role {
	for {
		electionValue, err := coord.GetKV(ctx, electionKey)
		if err != nil {
			log.WithComponent("state").Warn().Err(err).Msg("resolving initial role: retrying")
			sleepOrDone(ctx, 3*time.Second)
			continue
		}

		if electionValue == nil {
			return Master
		}

		persisted, err := coord.GetKV(ctx, roleKey)
		if err != nil {
			log.WithComponent("state").Warn().Err(err).Msg("resolving initial role: retrying")
			sleepOrDone(ctx, 3*time.Second)
			continue
		}
		if persisted == nil {
			return Standby
		}

		role, ok := ParseRole(string(persisted))
		if !ok {
			return Standby
		}
		return role
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// CurrentRole returns the role under the read lock.
func (rs *RoleState) CurrentRole() Role {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.role
}

// IsStandby implements health.RoleReader.
func (rs *RoleState) IsStandby() bool {
	return rs.CurrentRole() == Standby
}

// SetRole persists the new role under the role key (best effort; failure is
// logged but never blocks the mutation) and then updates the in-process
// value.
func (rs *RoleState) SetRole(ctx context.Context, role Role) {
	if err := rs.coord.PutKV(ctx, rs.roleKey(), []byte(role)); err != nil {
		log.WithComponent("state").Error().Err(err).Str("role", string(role)).Msg("failed to persist role")
	}

	rs.mu.Lock()
	rs.role = role
	rs.mu.Unlock()

	metrics.Role.Reset()
	metrics.Role.WithLabelValues(string(role)).Set(1)
}

// HandleAliveStatus implements the postgresAlive side effect of §4.3: record
// the pass/fail state, and if the check fails while this node is an
// initialized Master, transition to DeadMaster. Before initialization, a
// failing alive check must never transition the role.
func (rs *RoleState) HandleAliveStatus(ctx context.Context, passing bool) {
	rs.checksMu.Lock()
	rs.checks[health.Alive].Set(passing)
	rs.checksMu.Unlock()

	metrics.CheckPassing.WithLabelValues(string(health.Alive)).Set(boolToFloat(passing))

	if passing {
		return
	}
	if rs.CurrentRole() != Master {
		return
	}
	if !rs.IsInitialized() {
		return
	}
	log.WithComponent("state").Error().Msg("alive check failed on initialized master, transitioning to DeadMaster")
	rs.SetRole(ctx, DeadMaster)
}

// HandleReplicationStatus implements the postgresStandbyReplication side
// effect of §4.3: record the pass/fail state only.
func (rs *RoleState) HandleReplicationStatus(passing bool) {
	rs.checksMu.Lock()
	rs.checks[health.StandbyReplication].Set(passing)
	rs.checksMu.Unlock()

	metrics.CheckPassing.WithLabelValues(string(health.StandbyReplication)).Set(boolToFloat(passing))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ContinueChecking reports whether a health monitor loop bound to this
// state should keep iterating: false once the role is DeadMaster.
func (rs *RoleState) ContinueChecking() bool {
	return rs.CurrentRole() != DeadMaster
}

// MarkInitialized sets the write-once initialized flag.
func (rs *RoleState) MarkInitialized() {
	rs.initMu.Lock()
	defer rs.initMu.Unlock()
	rs.initialized = true
}

// IsInitialized reports the initialized flag.
func (rs *RoleState) IsInitialized() bool {
	rs.initMu.Lock()
	defer rs.initMu.Unlock()
	return rs.initialized
}

// IsReady implements the §3 readiness invariant: initialized, all checks
// currently passing, and role is not DeadMaster.
func (rs *RoleState) IsReady() bool {
	if rs.CurrentRole() == DeadMaster {
		return false
	}
	if !rs.IsInitialized() {
		return false
	}

	rs.checksMu.Lock()
	defer rs.checksMu.Unlock()
	for _, p := range rs.checks {
		if !p.IsSet() {
			return false
		}
	}
	return true
}

// WaitTillHealthy blocks until every named check has passed at least once.
// Used as the startup gate before the election loop begins.
func (rs *RoleState) WaitTillHealthy(ctx context.Context) error {
	rs.checksMu.Lock()
	states := make([]*passState, 0, len(rs.checks))
	for _, p := range rs.checks {
		states = append(states, p)
	}
	rs.checksMu.Unlock()

	for _, p := range states {
		if err := p.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
