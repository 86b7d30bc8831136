// Package zmetrics holds the Metrics counters and the pluggable
// Observer interface the dispatcher and worker pool report through.
// It lives under internal/ (rather than the root package) so that
// internal/dispatch and internal/mount can depend on it without an
// import cycle back through the root package, which re-exports
// everything here under the same names.
package zmetrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// opCounter holds the per-operation-code counters tracked by Metrics.
type opCounter struct {
	ops      atomic.Uint64
	errors   atomic.Uint64
	latency  atomic.Uint64
	buckets  [numLatencyBuckets]atomic.Uint64
}

// Metrics tracks performance and operational statistics for the
// dispatch core, keyed by operation code rather than by block-IO verb.
type Metrics struct {
	counters sync.Map // operation code (string) -> *opCounter

	ActiveWorkers   atomic.Int64 // currently running zu-threads
	MaxActiveWorkers atomic.Int64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) counterFor(op string) *opCounter {
	if v, ok := m.counters.Load(op); ok {
		return v.(*opCounter)
	}
	v, _ := m.counters.LoadOrStore(op, &opCounter{})
	return v.(*opCounter)
}

// RecordOp records one dispatched operation identified by its
// routing-table operation code (e.g. "LOOKUP", "READ", "MOUNT").
func (m *Metrics) RecordOp(op string, latencyNs uint64, success bool) {
	c := m.counterFor(op)
	c.ops.Add(1)
	if !success {
		c.errors.Add(1)
	}
	c.latency.Add(latencyNs)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			c.buckets[i].Add(1)
		}
	}

	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordWorkerStart/RecordWorkerStop track the live worker-pool size,
// replacing a per-queue depth gauge with a per-worker one.
func (m *Metrics) RecordWorkerStart() {
	n := m.ActiveWorkers.Add(1)
	for {
		cur := m.MaxActiveWorkers.Load()
		if n <= cur || m.MaxActiveWorkers.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (m *Metrics) RecordWorkerStop() {
	m.ActiveWorkers.Add(-1)
}

// Stop marks the daemon as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// OpSnapshot is a point-in-time snapshot of one operation code's counters.
type OpSnapshot struct {
	Op           string
	Ops          uint64
	Errors       uint64
	AvgLatencyNs uint64
}

// MetricsSnapshot is a point-in-time snapshot of all metrics.
type MetricsSnapshot struct {
	TotalOps         uint64
	ActiveWorkers    int64
	MaxActiveWorkers int64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	OpsPerSecond float64
	ErrorRate    float64

	ByOp []OpSnapshot
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ActiveWorkers:    m.ActiveWorkers.Load(),
		MaxActiveWorkers: m.MaxActiveWorkers.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	snap.TotalOps = opCount
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}
	if snap.UptimeNs > 0 {
		snap.OpsPerSecond = float64(snap.TotalOps) / (float64(snap.UptimeNs) / 1e9)
	}

	var totalErrors uint64
	m.counters.Range(func(k, v interface{}) bool {
		c := v.(*opCounter)
		ops := c.ops.Load()
		errs := c.errors.Load()
		totalErrors += errs
		var avg uint64
		if ops > 0 {
			avg = c.latency.Load() / ops
		}
		snap.ByOp = append(snap.ByOp, OpSnapshot{Op: k.(string), Ops: ops, Errors: errs, AvgLatencyNs: avg})
		return true
	})
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.counters.Range(func(k, _ interface{}) bool {
		m.counters.Delete(k)
		return true
	})
	m.ActiveWorkers.Store(0)
	m.MaxActiveWorkers.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection from the Operation
// Dispatcher and Worker Pool without coupling either to *Metrics.
type Observer interface {
	ObserveOp(op string, latencyNs uint64, success bool)
	ObserveWorkerStart()
	ObserveWorkerStop()
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveOp(string, uint64, bool) {}
func (NoOpObserver) ObserveWorkerStart()            {}
func (NoOpObserver) ObserveWorkerStop()             {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveOp(op string, latencyNs uint64, success bool) {
	o.metrics.RecordOp(op, latencyNs, success)
}

func (o *MetricsObserver) ObserveWorkerStart() { o.metrics.RecordWorkerStart() }
func (o *MetricsObserver) ObserveWorkerStop()  { o.metrics.RecordWorkerStop() }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
