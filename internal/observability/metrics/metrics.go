package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "autoreply"

// PipelineMetrics exposes counters/histograms for the webhook-to-reply flow.
// A nil *PipelineMetrics is a valid no-op.
type PipelineMetrics struct {
	webhookTotal      *prometheus.CounterVec
	webhookLatency    prometheus.Histogram
	outcomesTotal     *prometheus.CounterVec
	generationLatency *prometheus.HistogramVec
	generationErrors  *prometheus.CounterVec
	deliveriesTotal   *prometheus.CounterVec
	reconcileTotal    *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by result",
		}, []string{"result"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Time spent handling a webhook delivery before responding",
			Buckets:   prometheus.DefBuckets,
		}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Pipeline jobs by terminal state, failed stage and skip reason",
		}, []string{"state", "stage", "reason"}),
		generationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "generation_latency_seconds",
			Help:      "Wall-clock latency of model calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"provider"}),
		generationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "generation_errors_total",
			Help:      "Failed model calls by provider and error kind",
		}, []string{"provider", "kind"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whatsapp",
			Name:      "sends_total",
			Help:      "Outbound WhatsApp sends by result",
		}, []string{"result"}),
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "messages_total",
			Help:      "Messages picked up by the reconciler by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.webhookTotal,
		m.webhookLatency,
		m.outcomesTotal,
		m.generationLatency,
		m.generationErrors,
		m.deliveriesTotal,
		m.reconcileTotal,
	)
	return m
}

func (m *PipelineMetrics) ObserveWebhook(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(result).Inc()
	m.webhookLatency.Observe(elapsed.Seconds())
}

// ObserveOutcome counts one finished job. stage and reason may be empty.
func (m *PipelineMetrics) ObserveOutcome(state, stage, reason string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(state, stage, reason).Inc()
}

func (m *PipelineMetrics) ObserveGeneration(provider string, latency time.Duration) {
	if m == nil {
		return
	}
	m.generationLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (m *PipelineMetrics) ObserveGenerationError(provider, kind string) {
	if m == nil {
		return
	}
	m.generationErrors.WithLabelValues(provider, kind).Inc()
}

func (m *PipelineMetrics) ObserveDelivery(result string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) ObserveReconcile(result string) {
	if m == nil {
		return
	}
	m.reconcileTotal.WithLabelValues(result).Inc()
}
