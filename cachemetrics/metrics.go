// Package cachemetrics exports callcache observer events as Prometheus metrics.
package cachemetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goforj/callcache"
)

const subsystem = "callcache"

// Observer counts and times every cache operation reported to it.
type Observer struct {
	ops      *prometheus.CounterVec   // By op, driver and result (hit/miss/error)
	duration *prometheus.HistogramVec // By op and driver
}

var _ callcache.Observer = (*Observer)(nil)

// New creates the metrics and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &Observer{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ops_total",
			Help:      "Total number of cache operations",
		}, []string{"op", "driver", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "op_duration_seconds",
			Help:      "Cache operation duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op", "driver"}),
	}
	if err := reg.Register(o.ops); err != nil {
		return nil, err
	}
	if err := reg.Register(o.duration); err != nil {
		reg.Unregister(o.ops)
		return nil, err
	}
	return o, nil
}

// OnCacheOp implements callcache.Observer.
func (o *Observer) OnCacheOp(_ context.Context, op string, _ string, hit bool, err error, dur time.Duration, driver callcache.Driver) {
	if o == nil {
		return
	}
	o.ops.WithLabelValues(op, string(driver), result(hit, err)).Inc()
	o.duration.WithLabelValues(op, string(driver)).Observe(dur.Seconds())
}

// Ops returns the counter for one op/driver/result combination.
func (o *Observer) Ops(op string, driver callcache.Driver, result string) prometheus.Counter {
	return o.ops.WithLabelValues(op, string(driver), result)
}

func result(hit bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case hit:
		return "hit"
	default:
		return "miss"
	}
}
