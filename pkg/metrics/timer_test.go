package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewTimer tests timer creation
func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}

	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}

	// Verify start time is recent (within last second)
	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

// TestTimerDurationMeasuresProbeLatency simulates timing a postgresAlive
// probe round trip the way health.Check.DoHealthCheck does.
func TestTimerDurationMeasuresProbeLatency(t *testing.T) {
	timer := NewTimer()

	probeLatency := 100 * time.Millisecond
	time.Sleep(probeLatency)

	duration := timer.Duration()

	if duration < probeLatency {
		t.Errorf("Timer.Duration() = %v, want >= %v", duration, probeLatency)
	}
	if duration > 2*probeLatency {
		t.Errorf("Timer.Duration() = %v, want < %v", duration, 2*probeLatency)
	}
}

// TestTimerObserveDurationRecordsPromotionLatency mirrors how
// worker.PromotionHandler would time a pg_promote round trip against a
// histogram before recording the outcome in PromotionsTotal.
func TestTimerObserveDurationRecordsPromotionLatency(t *testing.T) {
	promotionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pgcontrold_test_promotion_duration_seconds",
		Help:    "Time taken to run a pg_promote round trip",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	timer.ObserveDuration(promotionDuration)

	if got := testutilCollectAndCount(promotionDuration); got != 1 {
		t.Errorf("expected exactly one promotion duration observation, got %d", got)
	}
}

// TestTimerObserveDurationVecRecordsPerCheckDuration mirrors how
// health.Check.DoHealthCheck times each of the two named probes
// (postgresAlive, postgresStandbyReplication) into a single vec keyed by
// check name.
func TestTimerObserveDurationVecRecordsPerCheckDuration(t *testing.T) {
	checkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgcontrold_test_check_duration_seconds",
			Help:    "Time taken to run a health check probe",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"check"},
	)

	aliveTimer := NewTimer()
	time.Sleep(20 * time.Millisecond)
	aliveTimer.ObserveDurationVec(checkDuration, "postgresAlive")

	replicationTimer := NewTimer()
	time.Sleep(20 * time.Millisecond)
	replicationTimer.ObserveDurationVec(checkDuration, "postgresStandbyReplication")

	if got := testutilCollectAndCount(checkDuration); got != 2 {
		t.Errorf("expected one observation per check name, got %d series", got)
	}
}

// testutilCollectAndCount counts the metrics a collector currently
// produces, without pulling in the testutil subpackage for a single helper.
func testutilCollectAndCount(c prometheus.Collector) int {
	ch := make(chan prometheus.Metric)
	done := make(chan struct{})
	count := 0
	go func() {
		for range ch {
			count++
		}
		close(done)
	}()
	c.Collect(ch)
	close(ch)
	<-done
	return count
}
