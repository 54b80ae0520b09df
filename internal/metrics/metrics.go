// Package metrics registers the Prometheus collectors of the seller.
package metrics

import (
	"math/big"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SellerMetrics holds all Prometheus metrics of the seller
type SellerMetrics struct {
	// Oracle
	OraclePrice    *prometheus.GaugeVec
	OracleFailures *prometheus.CounterVec
	VenueQuotes    *prometheus.CounterVec

	// Validation
	ValidationRejections *prometheus.CounterVec
	ValidationAccepted   prometheus.Counter

	// Settlement
	Transitions    *prometheus.CounterVec
	ReservedAmount *prometheus.GaugeVec

	// Events
	EventsPublished *prometheus.CounterVec

	// Scheduler
	JobRuns *prometheus.CounterVec
}

var (
	sellerMetricsOnce sync.Once
	sellerMetrics     *SellerMetrics
)

// Get returns the process-wide metrics (singleton pattern)
func Get() *SellerMetrics {
	sellerMetricsOnce.Do(func() {
		sellerMetrics = &SellerMetrics{
			OraclePrice: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "otcseller",
					Subsystem: "oracle",
					Name:      "price",
					Help:      "Last price read from a feed, scaled down by feed decimals",
				},
				[]string{"feed", "direction"},
			),
			OracleFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "otcseller",
					Subsystem: "oracle",
					Name:      "failures_total",
					Help:      "Feed reads rejected as stale or invalid",
				},
				[]string{"feed"},
			),
			VenueQuotes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "otcseller",
					Subsystem: "probe",
					Name:      "venue_quotes_total",
					Help:      "Venue quote attempts by result",
				},
				[]string{"venue", "result"},
			),
			ValidationRejections: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "otcseller",
					Subsystem: "validator",
					Name:      "rejections_total",
					Help:      "Orders rejected by reason",
				},
				[]string{"reason"},
			),
			ValidationAccepted: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "otcseller",
					Subsystem: "validator",
					Name:      "accepted_total",
					Help:      "Orders passing every check",
				},
			),
			Transitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "otcseller",
					Subsystem: "engine",
					Name:      "transitions_total",
					Help:      "State transitions attempted by result",
				},
				[]string{"transition", "result"},
			),
			ReservedAmount: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "otcseller",
					Subsystem: "ledger",
					Name:      "reserved_amount",
					Help:      "Sell amount reserved against settled orders, in base units",
				},
				[]string{"token"},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "otcseller",
					Subsystem: "events",
					Name:      "published_total",
					Help:      "Events handed to sinks by result",
				},
				[]string{"sink", "result"},
			),
			JobRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "otcseller",
					Subsystem: "scheduler",
					Name:      "job_runs_total",
					Help:      "Scheduled job runs by result",
				},
				[]string{"job", "result"},
			),
		}
	})
	return sellerMetrics
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Float converts a base-unit amount for gauges; precision loss is acceptable there
func Float(v *big.Int, decimals uint8) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v)
	if decimals > 0 {
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
		f.Quo(f, scale)
	}
	out, _ := f.Float64()
	return out
}

// Result labels an outcome
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
