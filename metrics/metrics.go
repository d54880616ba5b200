// Package metrics holds the daemon's prometheus indicators
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const NAMESPACE = "satslink"

type PromIndicators struct {
	callDurationSeconds *prometheus.HistogramVec
	callTotal           *prometheus.CounterVec

	totalMinted        prometheus.Gauge
	currentRound       prometheus.Gauge
	poolMembers        prometheus.Gauge
	paymentUsers       prometheus.Gauge
	lastRefreshSuccess prometheus.Gauge
}

func NewPromIndicators(network string, reg prometheus.Registerer) *PromIndicators {

	labels := prometheus.Labels{"network": network}

	return &PromIndicators{
		callDurationSeconds: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   NAMESPACE,
				Name:        "call_duration_seconds",
				Help:        "Duration of canister <method> calls in seconds",
				ConstLabels: labels,
			},
			[]string{"canister", "method"},
		),
		callTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   NAMESPACE,
				Name:        "call_total",
				Help:        "Total number of canister <method> calls by outcome",
				ConstLabels: labels,
			},
			[]string{"canister", "method", "outcome"},
		),
		totalMinted: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   NAMESPACE,
			Name:        "total_token_minted",
			Help:        "SATSLINK minted so far",
			ConstLabels: labels,
		}),
		currentRound: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   NAMESPACE,
			Name:        "current_pos_round",
			Help:        "Current reward round",
			ConstLabels: labels,
		}),
		poolMembers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   NAMESPACE,
			Name:        "pool_members",
			Help:        "Number of pool members in the last listing",
			ConstLabels: labels,
		}),
		paymentUsers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   NAMESPACE,
			Name:        "payment_users",
			Help:        "Number of users that have paid",
			ConstLabels: labels,
		}),
		lastRefreshSuccess: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   NAMESPACE,
			Name:        "last_refresh_success_timestamp_seconds",
			Help:        "Unix time of the last refresh round without errors",
			ConstLabels: labels,
		}),
	}
}

// ObserveCall records one remote call
func (p *PromIndicators) ObserveCall(canister, method, outcome string, seconds float64) {
	p.callTotal.With(prometheus.Labels{
		"canister": canister,
		"method":   method,
		"outcome":  outcome,
	}).Inc()

	p.callDurationSeconds.With(prometheus.Labels{
		"canister": canister,
		"method":   method,
	}).Observe(seconds)
}

func (p *PromIndicators) SetTotalMinted(v float64) {
	p.totalMinted.Set(v)
}

func (p *PromIndicators) SetCurrentRound(round uint64) {
	p.currentRound.Set(float64(round))
}

func (p *PromIndicators) SetPoolMembers(n int) {
	p.poolMembers.Set(float64(n))
}

func (p *PromIndicators) SetPaymentUsers(n uint64) {
	p.paymentUsers.Set(float64(n))
}

func (p *PromIndicators) SetLastRefreshSuccess(unix int64) {
	p.lastRefreshSuccess.Set(float64(unix))
}
