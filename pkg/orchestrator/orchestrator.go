// Package orchestrator sequences startup of the role state, management
// server, health monitors, service registration, and election loop in the
// strict order the supervisory control plane depends on.
package orchestrator

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/pgcontrold/pkg/api"
	"github.com/cuemby/pgcontrold/pkg/config"
	"github.com/cuemby/pgcontrold/pkg/coordination"
	"github.com/cuemby/pgcontrold/pkg/health"
	"github.com/cuemby/pgcontrold/pkg/log"
	"github.com/cuemby/pgcontrold/pkg/metrics"
	"github.com/cuemby/pgcontrold/pkg/state"
	"github.com/cuemby/pgcontrold/pkg/worker"
)

// periodicWorker is the minimal surface Orchestrator needs from each
// Periodic-based loop to sequence startup and shutdown.
type periodicWorker interface {
	Start()
	Stop()
	Join()
}

// Orchestrator sequences the nine startup steps of the component design and
// installs the SIGTERM/SIGINT handler that drives graceful shutdown.
type Orchestrator struct {
	cfg   config.Config
	coord *coordination.Client

	role               *state.RoleState
	mgmt               *api.ManagementServer
	metricsSrv         *http.Server
	aliveMonitor       *worker.HealthMonitor
	replicationMonitor *worker.HealthMonitor
	election           *worker.Election

	started []periodicWorker
	mgmtErr chan error
}

// New builds an Orchestrator for the given configuration.
func New(cfg config.Config) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		coord:   coordination.NewClient(cfg.ConsulAddr),
		mgmtErr: make(chan error, 1),
	}
}

// Role returns the process Role State, available once Start has returned
// without error.
func (o *Orchestrator) Role() *state.RoleState {
	return o.role
}

// Start sequences the nine startup steps of the component design and
// returns once the election loop is running and the state is marked
// initialized. It does not block waiting for shutdown; call Run for that.
func (o *Orchestrator) Start(ctx context.Context) error {
	// 1. Parse configuration: done by the caller before New.

	// 2. Construct Role State (triggers initial-role resolution).
	o.role = state.NewRoleState(ctx, o.coord, o.cfg.ElectionKey(), o.cfg.ConsulKeyPrefix, o.cfg.HostName)
	log.WithComponent("orchestrator").Info().Str("role", string(o.role.CurrentRole())).Msg("initial role resolved")

	// 3. Start Management Server.
	o.mgmt = api.NewManagementServer(o.role)
	go func() {
		o.mgmtErr <- o.mgmt.Start(":" + strconv.Itoa(o.cfg.ManagementPort))
	}()

	o.startMetricsServer()

	// 4. Start alive Health Monitor.
	aliveProbe := health.NewAliveProbe(o.cfg.ConnectTimeoutSeconds)
	aliveCheck := health.NewCheck(health.Alive, aliveProbe, o.cfg.AliveCheckFailureThreshold, state.AliveStatusHandler{Role: o.role})
	aliveMonitor, err := worker.NewHealthMonitor(ctx, aliveCheck, o.coord, o.cfg.CheckInterval())
	if err != nil {
		o.Stop(ctx)
		return err
	}
	o.aliveMonitor = aliveMonitor
	o.aliveMonitor.Start()
	o.started = append(o.started, o.aliveMonitor)

	// 5. Start standby-replication Health Monitor.
	replicationProbe := health.NewReplicationProbe(o.cfg.ConnectTimeoutSeconds, o.role)
	replicationCheck := health.NewCheck(health.StandbyReplication, replicationProbe, o.cfg.StandbyReplicationCheckFailureThreshold, state.ReplicationStatusHandler{Role: o.role})
	replicationMonitor, err := worker.NewHealthMonitor(ctx, replicationCheck, o.coord, o.cfg.CheckInterval())
	if err != nil {
		o.Stop(ctx)
		return err
	}
	o.replicationMonitor = replicationMonitor
	o.replicationMonitor.Start()
	o.started = append(o.started, o.replicationMonitor)

	// 6. register_service("postgres").
	if err := o.coord.RegisterService(ctx, "postgres"); err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Msg("failed to register service")
	}

	// 7. wait_till_healthy().
	if err := o.role.WaitTillHealthy(ctx); err != nil {
		o.Stop(ctx)
		return err
	}

	// 8. Start Election Loop.
	handler := worker.NewPromotionHandler(o.role)
	checkNames := []string{string(health.Alive), string(health.StandbyReplication)}
	election, err := worker.NewElection(ctx, o.coord, o.cfg.ElectionKey(), checkNames, handler, o.cfg.HostName, o.cfg.HostIP, o.cfg.CheckInterval())
	if err != nil {
		o.Stop(ctx)
		return err
	}
	o.election = election
	o.election.Start()
	o.started = append(o.started, o.election)

	// 9. Mark state initialized.
	o.role.MarkInitialized()
	log.WithComponent("orchestrator").Info().Msg("pgcontrold initialized")

	return nil
}

func (o *Orchestrator) startMetricsServer() {
	if o.cfg.MetricsPort == 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	o.metricsSrv = &http.Server{
		Addr:    ":" + strconv.Itoa(o.cfg.MetricsPort),
		Handler: mux,
	}

	go func() {
		if err := o.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("orchestrator").Error().Err(err).Msg("metrics server exited unexpectedly")
		}
	}()
}

// Run calls Start, then blocks until SIGTERM/SIGINT (or an unexpected
// management server exit), then runs Stop.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}

	o.waitForSignal()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return o.Stop(stopCtx)
}

func (o *Orchestrator) waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		log.WithComponent("orchestrator").Info().Str("signal", sig.String()).Msg("received termination signal")
	case err := <-o.mgmtErr:
		if err != nil {
			log.WithComponent("orchestrator").Error().Err(err).Msg("management server exited unexpectedly")
		}
	}
}

// Stop signals every started worker in start order, joins them, and shuts
// down the management and metrics servers. Safe to call more than once.
func (o *Orchestrator) Stop(ctx context.Context) error {
	for _, w := range o.started {
		w.Stop()
	}
	for _, w := range o.started {
		w.Join()
	}
	o.started = nil

	if o.metricsSrv != nil {
		_ = o.metricsSrv.Shutdown(ctx)
		o.metricsSrv = nil
	}

	if o.mgmt != nil {
		err := o.mgmt.Stop(ctx)
		o.mgmt = nil
		return err
	}
	return nil
}
