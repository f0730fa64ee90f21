package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics exposes the counters of m on reg, labelled with link.
func RegisterMetrics(reg prometheus.Registerer, link string, m *LinkMetrics) error {
	labels := prometheus.Labels{"link": link}

	counter := func(name, help string, load func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "cavro",
			Subsystem:   "transport",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(load()) })
	}

	collectors := []prometheus.Collector{
		counter("frames_sent_total", "Frames written to the pump, repeats included.", m.FrameSendCount.Load),
		counter("frames_received_total", "Valid reply frames received.", m.FrameRecvCount.Load),
		counter("retries_total", "Repeat frames sent after a missing or invalid reply.", m.RetryCount.Load),
		counter("invalid_replies_total", "Attempts that ended without a valid reply frame.", m.InvalidFrameCount.Load),
		counter("timeouts_total", "Requests that exhausted all attempts.", m.TimeoutCount.Load),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}
