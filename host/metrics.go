package host

import (
	"errors"
	"time"

	"github.com/mnehpets/servicebox/jsonrpc"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	calls     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	batchSize prometheus.Histogram
	batches   *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicebox",
			Subsystem: "host",
			Name:      "calls_total",
			Help:      "Calls executed, by method and result code (0 for success).",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "servicebox",
			Subsystem: "host",
			Name:      "call_duration_seconds",
			Help:      "Duration of method execution, including validation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "servicebox",
			Subsystem: "host",
			Name:      "batch_size",
			Help:      "Number of calls per accepted batch.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicebox",
			Subsystem: "host",
			Name:      "batches_total",
			Help:      "Batches handled, by outcome (ok or rejected).",
		}, []string{"outcome"}),
	}
}

// register registers the collectors with r. Collectors already registered by
// another host are shared.
func (m *metrics) register(r prometheus.Registerer) error {
	if r == nil {
		return nil
	}
	var err error
	m.calls, err = registerOrExisting(r, m.calls)
	if err != nil {
		return err
	}
	m.duration, err = registerOrExisting(r, m.duration)
	if err != nil {
		return err
	}
	m.batchSize, err = registerOrExisting(r, m.batchSize)
	if err != nil {
		return err
	}
	m.batches, err = registerOrExisting(r, m.batches)
	return err
}

func registerOrExisting[C prometheus.Collector](r prometheus.Registerer, c C) (C, error) {
	err := r.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *metrics) observeCall(method string, rpcErr *jsonrpc.Error, elapsed time.Duration) {
	code := "0"
	if rpcErr != nil {
		code = rpcErr.Code.Label()
	}
	m.calls.WithLabelValues(method, code).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *metrics) observeBatch(size int, rejected bool) {
	if rejected {
		m.batches.WithLabelValues("rejected").Inc()
		return
	}
	m.batches.WithLabelValues("ok").Inc()
	m.batchSize.Observe(float64(size))
}
