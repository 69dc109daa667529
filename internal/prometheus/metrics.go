package prometheus

import "github.com/prometheus/client_golang/prometheus"

const (
	passDurationBucketStart  = 0.05
	passDurationBucketFactor = 2.0
	passDurationBucketCount  = 12
)

const (
	webhookDurationBucketStart  = 0.005
	webhookDurationBucketFactor = 2.0
	webhookDurationBucketCount  = 12
)

const (
	analysisDurationBucketStart  = 1.0
	analysisDurationBucketFactor = 2.0
	analysisDurationBucketCount  = 10
)

var AdmissionDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admission_decisions_total",
		Help: "Slot reservation outcomes by decision",
	},
	[]string{"decision"},
)

var Preemptions = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "campaign_preemptions_total",
		Help: "Campaign calls preempted by direct calls",
	},
)

var LifecycleNotifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lifecycle_notifications_total",
		Help: "Incoming call lifecycle notifications by target status",
	},
	[]string{"status"},
)

var StaleNotifications = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "stale_lifecycle_notifications_total",
		Help: "Duplicate or out-of-order notifications ignored by the state machine",
	},
)

var DispatchFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dispatch_failures_total",
		Help: "Synchronous call placement failures",
	},
)

var LeaseContention = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "scheduler_lease_contention_total",
		Help: "Scheduling passes skipped because another instance holds the lease",
	},
)

var OrphanedSlotsReaped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "orphaned_slots_reaped_total",
		Help: "Active slots reclaimed by the orphan reaper",
	},
)

var SchedulerPassDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "scheduler_pass_duration_seconds",
		Help: "Time taken by one scheduling pass",
		Buckets: prometheus.ExponentialBuckets(
			passDurationBucketStart,
			passDurationBucketFactor,
			passDurationBucketCount,
		),
	},
)

var WebhookHandlingDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "webhook_handling_duration_seconds",
		Help: "Time taken to acknowledge a lifecycle notification",
		Buckets: prometheus.ExponentialBuckets(
			webhookDurationBucketStart,
			webhookDurationBucketFactor,
			webhookDurationBucketCount,
		),
	},
	[]string{"status"},
)

var AnalysisDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "analysis_job_duration_seconds",
		Help: "Time taken to analyze one call transcript",
		Buckets: prometheus.ExponentialBuckets(
			analysisDurationBucketStart,
			analysisDurationBucketFactor,
			analysisDurationBucketCount,
		),
	},
)

var MinioOperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "minio_operation_duration_seconds",
		Help:    "Time taken by MinIO uploads and downloads",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

func init() {
	prometheus.MustRegister(AdmissionDecisions)
	prometheus.MustRegister(Preemptions)
	prometheus.MustRegister(LifecycleNotifications)
	prometheus.MustRegister(StaleNotifications)
	prometheus.MustRegister(DispatchFailures)
	prometheus.MustRegister(LeaseContention)
	prometheus.MustRegister(OrphanedSlotsReaped)
	prometheus.MustRegister(SchedulerPassDuration)
	prometheus.MustRegister(WebhookHandlingDuration)
	prometheus.MustRegister(AnalysisDuration)
	prometheus.MustRegister(MinioOperationDuration)
}
