package negotiation

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "negotiation"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of intents broadcast by buyers.
	IntentsBroadcast metrics.Counter
	// Number of valid intents handled by sellers.
	IntentsReceived metrics.Counter
	// Number of intents dropped by sellers, by reason.
	IntentsDropped metrics.Counter

	// Number of offers sent by sellers.
	OffersSent metrics.Counter
	// Number of offers buffered by buyers.
	OffersReceived metrics.Counter
	// Number of offers dropped by buyers, by reason.
	OffersDropped metrics.Counter
	// Number of offers a buyer held when its collection window closed.
	OffersCollected metrics.Histogram

	// Number of sent offers a seller stopped listening on, by reason.
	OffersReleased metrics.Counter

	// Number of deals sent by buyers.
	DealsSent metrics.Counter
	// Number of deals accepted by sellers.
	DealsAccepted metrics.Counter
	// Number of deals dropped by sellers, by reason.
	DealsDropped metrics.Counter

	// Number of intents a seller had no matching product for.
	MatchesMissed metrics.Counter
	// Number of negotiations that ended without any verified offer.
	NoMatch metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	counter := func(name, help string, extra ...string) metrics.Counter {
		return prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, append(append([]string{}, labels...), extra...)).With(labelsAndValues...)
	}
	return &Metrics{
		IntentsBroadcast: counter("intents_broadcast", "Number of intents broadcast by buyers."),
		IntentsReceived:  counter("intents_received", "Number of valid intents handled by sellers."),
		IntentsDropped:   counter("intents_dropped", "Number of intents dropped by sellers.", "reason"),

		OffersSent:     counter("offers_sent", "Number of offers sent by sellers."),
		OffersReceived: counter("offers_received", "Number of offers buffered by buyers."),
		OffersDropped:  counter("offers_dropped", "Number of offers dropped by buyers.", "reason"),
		OffersCollected: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "offers_collected",
			Help:      "Number of offers a buyer held when its collection window closed.",
			Buckets:   stdprometheus.LinearBuckets(0, 2, 10),
		}, labels).With(labelsAndValues...),
		OffersReleased: counter("offers_released", "Number of sent offers a seller stopped listening on.", "reason"),

		DealsSent:     counter("deals_sent", "Number of deals sent by buyers."),
		DealsAccepted: counter("deals_accepted", "Number of deals accepted by sellers."),
		DealsDropped:  counter("deals_dropped", "Number of deals dropped by sellers.", "reason"),

		MatchesMissed: counter("matches_missed", "Number of intents a seller had no matching product for."),
		NoMatch:       counter("no_match", "Number of negotiations that ended without any verified offer."),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		IntentsBroadcast: discard.NewCounter(),
		IntentsReceived:  discard.NewCounter(),
		IntentsDropped:   discard.NewCounter(),
		OffersSent:       discard.NewCounter(),
		OffersReceived:   discard.NewCounter(),
		OffersDropped:    discard.NewCounter(),
		OffersCollected:  discard.NewHistogram(),
		OffersReleased:   discard.NewCounter(),
		DealsSent:        discard.NewCounter(),
		DealsAccepted:    discard.NewCounter(),
		DealsDropped:     discard.NewCounter(),
		MatchesMissed:    discard.NewCounter(),
		NoMatch:          discard.NewCounter(),
	}
}
