package memory

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "transport_memory"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of payloads published, by topic kind.
	Published metrics.Counter
	// Number of payloads enqueued to a subscriber mailbox, by topic kind.
	Delivered metrics.Counter
	// Number of payloads dropped because a subscriber mailbox was full.
	MailboxDrops metrics.Counter
	// Number of live subscriptions.
	Subscribers metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Published: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "published",
			Help:      "Number of messages published.",
		}, append(labels, "topic")).With(labelsAndValues...),
		Delivered: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "delivered",
			Help:      "Number of messages queued for a subscriber.",
		}, append(labels, "topic")).With(labelsAndValues...),
		MailboxDrops: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "mailbox_drops",
			Help:      "Number of messages dropped because a subscriber mailbox was full.",
		}, append(labels, "topic")).With(labelsAndValues...),
		Subscribers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "subscribers",
			Help:      "Number of live subscriptions.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Published:    discard.NewCounter(),
		Delivered:    discard.NewCounter(),
		MailboxDrops: discard.NewCounter(),
		Subscribers:  discard.NewGauge(),
	}
}
