package cloudmetrics

import "github.com/prometheus/client_golang/prometheus"

// metrics are gauges rebuilt from store counts on every push, so restarts
// never under-report and no write path has to remember to increment anything.
type metrics struct {
	mirrorPayments *prometheus.GaugeVec
	mirrorRefunds  *prometheus.GaugeVec
	mirrorEvents   *prometheus.GaugeVec
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		mirrorPayments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "paymirror_payments",
			Help: "Mirrored payment records by mode and status.",
		}, []string{"mode", "status"}),
		mirrorRefunds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "paymirror_refunds",
			Help: "Mirrored refund records by mode and status.",
		}, []string{"mode", "status"}),
		mirrorEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "paymirror_notification_events",
			Help: "Recorded provider events by processed state.",
		}, []string{"processed"}),
	}

	if registry != nil {
		registry.MustRegister(m.mirrorPayments, m.mirrorRefunds, m.mirrorEvents)
	}
	return m
}
