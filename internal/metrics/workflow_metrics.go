package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkflowMetrics содержит метрики оркестратора заказов.
type WorkflowMetrics struct {
	// Счётчики запусков по сценариям
	workflowStarted   *prometheus.CounterVec
	workflowCompleted *prometheus.CounterVec
	workflowFailed    *prometheus.CounterVec
	compensations     prometheus.Counter

	// Гистограммы времени выполнения
	workflowDuration prometheus.Histogram
	stepDuration     *prometheus.HistogramVec

	// Счётчики событий outbox
	outboxEvents prometheus.Counter

	// Gauge для активных запусков
	activeWorkflows prometheus.Gauge
}

// NewWorkflowMetrics создаёт новый экземпляр метрик оркестратора.
func NewWorkflowMetrics() *WorkflowMetrics {
	return newWorkflowMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newWorkflowMetricsWithRegisterer(registerer prometheus.Registerer) *WorkflowMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &WorkflowMetrics{
		workflowStarted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ecom_workflow_started_total",
			Help: "Total number of order workflows started",
		}, []string{"kind"}),
		workflowCompleted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ecom_workflow_completed_total",
			Help: "Total number of order workflows completed successfully",
		}, []string{"kind"}),
		workflowFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ecom_workflow_failed_total",
			Help: "Total number of order workflows failed or compensated",
		}, []string{"kind"}),
		compensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ecom_workflow_compensations_total",
			Help: "Total number of compensation actions executed",
		}),
		workflowDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "ecom_workflow_duration_seconds",
			Help:    "Duration of order workflows in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ecom_workflow_step_duration_seconds",
			Help:    "Duration of individual workflow steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ecom_outbox_events_total",
			Help: "Total number of events enqueued to the transactional outbox",
		}),
		activeWorkflows: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ecom_active_workflows",
			Help: "Number of currently running order workflows",
		}),
	}
}

// RecordWorkflowStarted фиксирует запуск сценария.
func (m *WorkflowMetrics) RecordWorkflowStarted(kind string) {
	m.workflowStarted.WithLabelValues(kind).Inc()
	m.activeWorkflows.Inc()
}

// RecordWorkflowCompleted фиксирует успешное завершение.
func (m *WorkflowMetrics) RecordWorkflowCompleted(kind string) {
	m.workflowCompleted.WithLabelValues(kind).Inc()
	m.activeWorkflows.Dec()
}

// RecordWorkflowFailed фиксирует провал или компенсацию сценария.
func (m *WorkflowMetrics) RecordWorkflowFailed(kind string) {
	m.workflowFailed.WithLabelValues(kind).Inc()
	m.activeWorkflows.Dec()
}

// RecordCompensation фиксирует выполненное компенсирующее действие.
func (m *WorkflowMetrics) RecordCompensation() {
	m.compensations.Inc()
}

// RecordWorkflowDuration фиксирует длительность сценария.
func (m *WorkflowMetrics) RecordWorkflowDuration(d time.Duration) {
	m.workflowDuration.Observe(d.Seconds())
}

// RecordStepDuration фиксирует длительность отдельного шага.
func (m *WorkflowMetrics) RecordStepDuration(step string, d time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordOutboxEvent фиксирует событие, поставленное в outbox.
func (m *WorkflowMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}
