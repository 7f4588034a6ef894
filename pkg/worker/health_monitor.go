package worker

import (
	"context"
	"time"

	"github.com/cuemby/pgcontrold/pkg/coordination"
	"github.com/cuemby/pgcontrold/pkg/health"
	"github.com/cuemby/pgcontrold/pkg/log"
	"github.com/cuemby/pgcontrold/pkg/metrics"
)

// HealthMonitor is a Periodic Worker binding one health.Check to one TTL
// check registered with the coordination service.
type HealthMonitor struct {
	check    *health.Check
	coord    *coordination.Client
	interval time.Duration

	periodic *Periodic
}

// NewHealthMonitor registers the check's TTL check with the coordination
// service and returns a HealthMonitor ready to Start. ttl is interval+5s,
// the buffer for probe latency and network jitter.
func NewHealthMonitor(ctx context.Context, check *health.Check, coord *coordination.Client, interval time.Duration) (*HealthMonitor, error) {
	ttlSeconds := int(interval.Seconds()) + 5
	if err := coord.RegisterTTLCheck(ctx, string(check.Name()), ttlSeconds); err != nil {
		return nil, err
	}

	hm := &HealthMonitor{
		check:    check,
		coord:    coord,
		interval: interval,
	}
	hm.periodic = NewPeriodic(interval, hm.doOneRun)
	return hm, nil
}

func (hm *HealthMonitor) doOneRun() {
	ctx, cancel := context.WithTimeout(context.Background(), hm.interval)
	defer cancel()

	passing := hm.check.DoHealthCheck(ctx)

	if err := hm.coord.UpdateCheck(ctx, string(hm.check.Name()), passing); err != nil {
		log.WithCheck(string(hm.check.Name())).Error().Err(err).Msg("failed to update TTL check")
	}

	metrics.CheckPassing.WithLabelValues(string(hm.check.Name())).Set(boolToFloat(passing))
	hm.check.HandleStatus(passing)

	if !hm.check.ContinueChecking() {
		hm.periodic.Stop()
	}
}

// Start launches the monitor loop.
func (hm *HealthMonitor) Start() {
	hm.periodic.Start()
}

// Stop signals the loop to terminate. Idempotent.
func (hm *HealthMonitor) Stop() {
	hm.periodic.Stop()
}

// Join blocks until the loop has exited.
func (hm *HealthMonitor) Join() {
	hm.periodic.Join()
}

// IsAlive reports whether the loop is currently running.
func (hm *HealthMonitor) IsAlive() bool {
	return hm.periodic.IsAlive()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
