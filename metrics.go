package zuscore

import "github.com/anvilfs/zuscore/internal/zmetrics"

// Metrics, Observer, and friends live in internal/zmetrics so internal
// packages (dispatch, mount, workerpool) can use them without
// importing this root package. Everything here is a direct re-export
// for callers outside internal/.
var LatencyBuckets = zmetrics.LatencyBuckets

type Metrics = zmetrics.Metrics
type OpSnapshot = zmetrics.OpSnapshot
type MetricsSnapshot = zmetrics.MetricsSnapshot
type Observer = zmetrics.Observer
type NoOpObserver = zmetrics.NoOpObserver
type MetricsObserver = zmetrics.MetricsObserver

func NewMetrics() *Metrics { return zmetrics.NewMetrics() }

func NewMetricsObserver(m *Metrics) *MetricsObserver { return zmetrics.NewMetricsObserver(m) }
