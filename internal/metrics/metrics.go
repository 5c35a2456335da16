// Package metrics holds the Prometheus collectors shared by the engine, the
// services and the relay.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector. A Metrics built with a nil registerer is
// fully usable but exported nowhere, which is what tests and library callers
// get by default.
type Metrics struct {
	SealsTotal         *prometheus.CounterVec
	OpensTotal         *prometheus.CounterVec
	HandshakesTotal    *prometheus.CounterVec
	SkippedEvictions   prometheus.Counter
	SessionsLive       prometheus.Gauge
	RelayRequests      *prometheus.CounterVec
	RelayRequestSecs   *prometheus.HistogramVec
	RelayQueuedTotal   prometheus.Gauge
	PreKeysIssuedTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when reg is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SealsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ciphermesh",
				Name:      "seals_total",
				Help:      "Messages sealed, by result.",
			},
			[]string{"result"},
		),
		OpensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ciphermesh",
				Name:      "opens_total",
				Help:      "Envelopes opened, by result.",
			},
			[]string{"result"},
		),
		HandshakesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ciphermesh",
				Name:      "handshakes_total",
				Help:      "X3DH handshakes, by role and result.",
			},
			[]string{"role", "result"},
		),
		SkippedEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ciphermesh",
			Name:      "skipped_key_evictions_total",
			Help:      "Skipped message keys evicted from a full cache.",
		}),
		SessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ciphermesh",
			Name:      "sessions_live",
			Help:      "Ratchet sessions held in memory.",
		}),
		RelayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ciphermesh",
				Subsystem: "relay",
				Name:      "http_requests_total",
				Help:      "Total number of relay HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		RelayRequestSecs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ciphermesh",
				Subsystem: "relay",
				Name:      "http_request_duration_seconds",
				Help:      "Duration of relay HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RelayQueuedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ciphermesh",
			Subsystem: "relay",
			Name:      "queued_envelopes",
			Help:      "Envelopes waiting in relay mailboxes.",
		}),
		PreKeysIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ciphermesh",
				Subsystem: "relay",
				Name:      "prekey_bundles_total",
				Help:      "Pre-key bundles served, by whether a one-time pre-key was included.",
			},
			[]string{"one_time"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.SealsTotal,
			m.OpensTotal,
			m.HandshakesTotal,
			m.SkippedEvictions,
			m.SessionsLive,
			m.RelayRequests,
			m.RelayRequestSecs,
			m.RelayQueuedTotal,
			m.PreKeysIssuedTotal,
		)
	}
	return m
}

// Cause pairs a sentinel error with its metric label.
type Cause struct {
	Label string
	Err   error
}

// Result maps an operation error to a low-cardinality label. Causes are
// matched in order, so list the more specific ones first.
func Result(err error, causes ...Cause) string {
	if err == nil {
		return "ok"
	}
	for _, c := range causes {
		if errors.Is(err, c.Err) {
			return c.Label
		}
	}
	return "error"
}
