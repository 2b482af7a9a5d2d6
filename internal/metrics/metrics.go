package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission queue
	AdmissionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "launchpad",
		Subsystem: "admission",
		Name:      "queue_depth",
		Help:      "Tasks waiting in the admission queue, excluding the running one",
	})

	AdmissionTaskLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "launchpad",
		Subsystem: "admission",
		Name:      "task_duration_seconds",
		Help:      "Wall time of one admitted task from start to completion",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	AdmissionTaskWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "launchpad",
		Subsystem: "admission",
		Name:      "task_wait_seconds",
		Help:      "Time a task spent queued before it started",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	// Purchase outcomes, partitioned by error kind ("ok" on success)
	PurchaseOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "purchase",
		Name:      "outcomes_total",
		Help:      "Purchase task outcomes by result kind",
	}, []string{"kind"})

	LaunchCreateOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "launch",
		Name:      "create_outcomes_total",
		Help:      "Launch and token creation outcomes by result kind",
	}, []string{"operation", "kind"})

	// Payment verification
	PaymentVerifyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "launchpad",
		Subsystem: "payment",
		Name:      "verify_duration_seconds",
		Help:      "Broadcast-to-verdict duration of payment verification",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 90},
	}, []string{"result"})

	// Settlement failures that need manual reconciliation
	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "settlement",
		Name:      "failures_total",
		Help:      "Final writes that failed after payment and issuance executed",
	})
)
