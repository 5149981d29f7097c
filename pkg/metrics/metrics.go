// Package metrics provides Prometheus metrics for the interpreter and the
// backend server.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kronktech/sully/pkg/action"
)

const namespace = "sully"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Activation gate
	Activations   prometheus.Counter
	StartCommands prometheus.Counter

	// Realtime session
	SessionStarts   prometheus.Counter
	SessionFailures *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Correlation
	TranscriptsCreated prometheus.Counter
	StopCommands       prometheus.Counter
	ResponsesHandled   *prometheus.CounterVec
	MalformedResponses *prometheus.CounterVec
	UnmatchedResponses *prometheus.CounterVec

	// Actions
	ActionsDispatched *prometheus.CounterVec

	// Collaborators
	WebhookLatency *prometheus.HistogramVec
	Summaries      *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates the metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Activations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Total number of wake word activations",
		}),
		StartCommands: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "start_commands_total",
			Help:      "Total number of start commands heard while armed",
		}),

		SessionStarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Total number of realtime sessions opened",
		}),
		SessionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_failures_total",
			Help:      "Total number of failed session attempts by setup step",
		}, []string{"step"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open realtime sessions",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of realtime sessions in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),

		TranscriptsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_created_total",
			Help:      "Total number of utterances added to the transcript",
		}),
		StopCommands: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_commands_total",
			Help:      "Total number of stop commands heard during a session",
		}),
		ResponsesHandled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_handled_total",
			Help:      "Total number of model responses merged, by topic",
		}, []string{"topic"}),
		MalformedResponses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_responses_total",
			Help:      "Total number of model responses that could not be decoded",
		}, []string{"topic"}),
		UnmatchedResponses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmatched_responses_total",
			Help:      "Total number of model responses for an unknown transcript id",
		}, []string{"topic"}),

		ActionsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_dispatched_total",
			Help:      "Total number of clinical actions dispatched",
		}, []string{"type", "origin", "result"}),

		WebhookLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook deliveries in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"result"}),
		Summaries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Total number of conversation summaries by result",
		}, []string{"result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of backend HTTP requests by route and status class",
		}, []string{"route", "code"}),
	}
}

// Result labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// ActionDispatched implements action.Observer.
func (m *Metrics) ActionDispatched(a action.DetectedAction, origin action.Origin, err error) {
	m.ActionsDispatched.WithLabelValues(string(a.Type), string(origin), result(err)).Inc()
}

// RecordSummary counts a summarization attempt.
func (m *Metrics) RecordSummary(err error) {
	m.Summaries.WithLabelValues(result(err)).Inc()
}

// Webhook wraps w so every delivery is timed.
func (m *Metrics) Webhook(w action.Webhook) action.Webhook {
	return timedWebhook{next: w, latency: m.WebhookLatency}
}

type timedWebhook struct {
	next    action.Webhook
	latency *prometheus.HistogramVec
}

func (t timedWebhook) Forward(ctx context.Context, a action.DetectedAction) error {
	start := time.Now()
	err := t.next.Forward(ctx, a)
	t.latency.WithLabelValues(result(err)).Observe(time.Since(start).Seconds())
	return err
}

var _ action.Observer = (*Metrics)(nil)
