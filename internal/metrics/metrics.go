// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rafaelmp/comexflow/internal/domain"
)

var (
	initOnce sync.Once

	workflowsStartedCounter   prometheus.Counter
	workflowsFinishedCounter  *prometheus.CounterVec
	approvalRequestsCounter   *prometheus.CounterVec
	resolutionDurationMetric  prometheus.Histogram
	notifierDeliveriesCounter *prometheus.CounterVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		workflowsStartedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "workflows_started_total",
				Help: "Total number of process workflow bindings started.",
			},
		)

		workflowsFinishedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflows_finished_total",
				Help: "Total number of process workflows reaching a terminal status.",
			},
			[]string{"status"},
		)

		approvalRequestsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_requests_total",
				Help: "Total number of approval request transitions by status.",
			},
			[]string{"status"},
		)

		resolutionDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "approval_resolution_duration_seconds",
				Help:    "Duration of approve/reject calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		notifierDeliveriesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_deliveries_total",
				Help: "Total number of webhook delivery attempts by outcome.",
			},
			[]string{"outcome"},
		)

		prometheus.MustRegister(
			workflowsStartedCounter,
			workflowsFinishedCounter,
			approvalRequestsCounter,
			resolutionDurationMetric,
			notifierDeliveriesCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.ProcessStatus{
			domain.ProcessCompleted,
			domain.ProcessCancelled,
		} {
			workflowsFinishedCounter.WithLabelValues(string(status))
		}

		for _, status := range []domain.ApprovalStatus{
			domain.ApprovalPending,
			domain.ApprovalApproved,
			domain.ApprovalRejected,
		} {
			approvalRequestsCounter.WithLabelValues(string(status))
		}

		for _, outcome := range []string{"delivered", "failed"} {
			notifierDeliveriesCounter.WithLabelValues(outcome)
		}
	})
}

func IncWorkflowStarted() {
	Init()
	workflowsStartedCounter.Inc()
}

func IncWorkflowFinished(status string) {
	Init()
	workflowsFinishedCounter.WithLabelValues(status).Inc()
}

func IncRequestStatus(status string) {
	Init()
	approvalRequestsCounter.WithLabelValues(status).Inc()
}

func ObserveResolutionDuration(d time.Duration) {
	Init()
	resolutionDurationMetric.Observe(d.Seconds())
}

func IncNotifierDelivery(outcome string) {
	Init()
	notifierDeliveriesCounter.WithLabelValues(outcome).Inc()
}
