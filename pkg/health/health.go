// Package health implements the Health Check Wrapper: it runs a probe,
// counts consecutive failures against a threshold, and reports pass/fail
// status to a StatusHandler.
package health

import (
	"context"

	"github.com/cuemby/pgcontrold/pkg/log"
	"github.com/cuemby/pgcontrold/pkg/metrics"
)

// Name identifies one of the two named health checks.
type Name string

const (
	// Alive is the postgresAlive check: can we open a connection and SELECT 1.
	Alive Name = "postgresAlive"

	// StandbyReplication is the postgresStandbyReplication check: is this
	// standby actively streaming from the master.
	StandbyReplication Name = "postgresStandbyReplication"
)

// Probe is a single health signal. Run reports whether the signal currently
// passes; it must never panic and should treat any internal error as false.
type Probe interface {
	Run(ctx context.Context) bool
}

// StatusHandler reacts to a post-observation status change and decides
// whether the owning loop should keep running.
type StatusHandler interface {
	HandleStatus(passing bool)
	ContinueChecking() bool
}

// ProbeFunc adapts a plain function to Probe.
type ProbeFunc func(ctx context.Context) bool

// Run implements Probe.
func (f ProbeFunc) Run(ctx context.Context) bool {
	return f(ctx)
}

// Check wraps a Probe with consecutive-failure counting against a threshold.
// A check is passing iff its consecutive-failure counter is below threshold,
// so threshold=1 flips on the very first failure.
type Check struct {
	name      Name
	probe     Probe
	threshold int
	handler   StatusHandler

	counter int
}

// NewCheck builds a Check. threshold must be >= 1.
func NewCheck(name Name, probe Probe, threshold int, handler StatusHandler) *Check {
	if threshold < 1 {
		threshold = 1
	}
	return &Check{
		name:      name,
		probe:     probe,
		threshold: threshold,
		handler:   handler,
	}
}

// Name returns the check's name.
func (c *Check) Name() Name {
	return c.name
}

// DoHealthCheck runs the probe once, updates the failure counter, and
// returns the resulting passing state. It does not invoke the handler;
// callers decide when to call HandleStatus (the Health Monitor Loop
// interleaves a TTL update between the two).
func (c *Check) DoHealthCheck(ctx context.Context) bool {
	timer := metrics.NewTimer()
	passed := c.runProbe(ctx)
	timer.ObserveDurationVec(metrics.CheckDuration, string(c.name))

	if passed {
		c.counter = 0
	} else {
		c.counter++
	}
	metrics.CheckFailureCount.WithLabelValues(string(c.name)).Set(float64(c.counter))
	return c.counter < c.threshold
}

func (c *Check) runProbe(ctx context.Context) (passed bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithCheck(string(c.name)).Error().Interface("panic", r).Msg("health probe panicked")
			passed = false
		}
	}()
	return c.probe.Run(ctx)
}

// HandleStatus forwards the observed passing state to the status handler.
func (c *Check) HandleStatus(passing bool) {
	c.handler.HandleStatus(passing)
}

// ContinueChecking reports whether the owning loop should keep iterating.
func (c *Check) ContinueChecking() bool {
	return c.handler.ContinueChecking()
}
