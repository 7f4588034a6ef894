package worker

import (
	"context"
	"time"

	"github.com/cuemby/pgcontrold/pkg/coordination"
	"github.com/cuemby/pgcontrold/pkg/log"
	"github.com/cuemby/pgcontrold/pkg/metrics"
)

// ElectionStatusHandler reacts to the outcome of an election iteration and
// decides whether the loop should keep racing for the lock.
type ElectionStatusHandler interface {
	HandleStatus(ctx context.Context, isLeader bool)
	ContinueParticipating() bool
}

// Election is a Periodic Worker holding a session bound to a set of checks,
// racing for a well-known key every iteration.
type Election struct {
	coord       *coordination.Client
	electionKey string
	checkNames  []string
	handler     ElectionStatusHandler
	hostName    string
	hostIP      string

	session string

	periodic *Periodic
}

// NewElection creates a session bound to checkNames and returns an Election
// ready to Start.
func NewElection(ctx context.Context, coord *coordination.Client, electionKey string, checkNames []string, handler ElectionStatusHandler, hostName, hostIP string, interval time.Duration) (*Election, error) {
	session, err := coord.CreateSession(ctx, checkNames)
	if err != nil {
		return nil, err
	}

	e := &Election{
		coord:       coord,
		electionKey: electionKey,
		checkNames:  checkNames,
		handler:     handler,
		hostName:    hostName,
		hostIP:      hostIP,
		session:     session,
	}
	e.periodic = NewPeriodic(interval, e.doOneRun)
	return e, nil
}

func (e *Election) doOneRun() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	isLeader := e.acquire(ctx)

	e.handleStatusSafely(ctx, isLeader)

	if !e.handler.ContinueParticipating() {
		e.periodic.Stop()
	}
}

func (e *Election) acquire(ctx context.Context) bool {
	value := map[string]string{"host": e.hostIP, "node": e.hostName}

	result, err := e.coord.Acquire(ctx, e.electionKey, e.session, value)
	if err != nil {
		log.WithComponent("election").Error().Err(err).Msg("acquire failed")
		return false
	}

	if result.SessionInvalidated {
		log.WithComponent("election").Warn().Msg("session invalidated, recreating")
		metrics.SessionRecreationsTotal.Inc()
		session, err := e.coord.CreateSession(ctx, e.checkNames)
		if err != nil {
			log.WithComponent("election").Error().Err(err).Msg("failed to recreate session")
			return false
		}
		e.session = session
		return false
	}

	return result.Leader
}

func (e *Election) handleStatusSafely(ctx context.Context, isLeader bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("election").Error().Interface("panic", r).Msg("status handler panicked")
		}
	}()
	e.handler.HandleStatus(ctx, isLeader)
}

// Start launches the election loop.
func (e *Election) Start() {
	e.periodic.Start()
}

// Stop signals the loop to terminate. Idempotent.
func (e *Election) Stop() {
	e.periodic.Stop()
}

// Join blocks until the loop has exited.
func (e *Election) Join() {
	e.periodic.Join()
}

// IsAlive reports whether the loop is currently running.
func (e *Election) IsAlive() bool {
	return e.periodic.IsAlive()
}
