// Package metrics holds the engine's prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "msgdash"

// Metrics is the set of counters the engine increments.
type Metrics struct {
	Reconciled      prometheus.Counter
	Appended        prometheus.Counter
	Duplicates      prometheus.Counter
	Ignored         prometheus.Counter
	HistoryFailures prometheus.Counter
	Reconnects      prometheus.Counter
	ChannelErrors   prometheus.Counter
	TypingSignals   prometheus.Counter

	registry *prometheus.Registry
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

// New creates the counters on a private registry.
func New() *Metrics {
	m := &Metrics{
		Reconciled:      counter("messages_reconciled_total", "Placeholders replaced by their confirmed message."),
		Appended:        counter("messages_appended_total", "Messages appended to the open conversation."),
		Duplicates:      counter("messages_duplicate_total", "Inbound messages dropped because their id was already present."),
		Ignored:         counter("messages_ignored_total", "Inbound messages for another conversation or without an id."),
		HistoryFailures: counter("history_failures_total", "Failed history fetches."),
		Reconnects:      counter("reconnects_total", "Connections regained after a drop."),
		ChannelErrors:   counter("channel_errors_total", "Channel connect and emit failures."),
		TypingSignals:   counter("typing_signals_total", "Typing signals received for the open conversation."),
		registry:        prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Reconciled, m.Appended, m.Duplicates, m.Ignored,
		m.HistoryFailures, m.Reconnects, m.ChannelErrors, m.TypingSignals,
	)
	return m
}

// Registry exposes the registry the counters live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OrNew returns m, or fresh counters when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m == nil {
		return New()
	}
	return m
}
