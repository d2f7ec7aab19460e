package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded = "deadline_exceeded"
	JobReasonCanceled         = "canceled"
	JobReasonNotFound         = "not_found"
	JobReasonDB               = "db"
	JobReasonUnknown          = "unknown"
)

// JobMetrics captures background job health signals.
type JobMetrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobTimeouts     *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	accountsChecked *prometheus.CounterVec
	driftDetected   *prometheus.CounterVec
	lockSkipped     *prometheus.CounterVec
	runLoopLag      prometheus.Observer
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// Jobs returns the singleton job metrics registry.
func Jobs() *JobMetrics {
	return JobsWithConfig(Config{})
}

// JobsWithConfig returns the singleton job metrics registry using config labels.
func JobsWithConfig(cfg Config) *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = newJobMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return jobMetrics
}

// NewJobMetricsForTest builds job metrics on a private registry.
func NewJobMetricsForTest(registerer prometheus.Registerer) *JobMetrics {
	return newJobMetrics(registerer, Config{ServiceName: "test", Environment: "test"})
}

func newJobMetrics(registerer prometheus.Registerer, cfg Config) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "adslibrary_job_runs_total",
		Help:        "Background job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "adslibrary_job_duration_seconds",
		Help:        "Background job latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "adslibrary_job_timeouts_total",
		Help:        "Background job runs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "adslibrary_job_errors_total",
		Help:        "Background job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	accountsChecked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "adslibrary_reconcile_accounts_checked_total",
		Help:        "Accounts whose balance was replayed against their transactions.",
		ConstLabels: constLabels,
	}, []string{"job"})
	driftDetected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "adslibrary_reconcile_drift_total",
		Help:        "Accounts whose balance disagreed with the sum of their transactions.",
		ConstLabels: constLabels,
	}, []string{"job"})
	lockSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "adslibrary_job_lock_skipped_total",
		Help:        "Job runs skipped because another instance held the lock.",
		ConstLabels: constLabels,
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "adslibrary_job_runloop_lag_seconds",
		Help:        "Run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		accountsChecked,
		driftDetected,
		lockSkipped,
		runLoopLag,
	)

	return &JobMetrics{
		jobRuns:         jobRuns,
		jobDuration:     jobDuration,
		jobTimeouts:     jobTimeouts,
		jobErrors:       jobErrors,
		accountsChecked: accountsChecked,
		driftDetected:   driftDetected,
		lockSkipped:     lockSkipped,
		runLoopLag:      runLoopLag,
	}
}

// ObserveRun records one completed job run.
func (m *JobMetrics) ObserveRun(job string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
	m.jobDuration.WithLabelValues(job).Observe(seconds)
	if err == nil {
		return
	}
	reason := ClassifyJobError(err)
	if reason == JobReasonDeadlineExceeded {
		m.jobTimeouts.WithLabelValues(job).Inc()
	}
	m.jobErrors.WithLabelValues(job, reason).Inc()
}

func (m *JobMetrics) AddAccountsChecked(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.accountsChecked.WithLabelValues(job).Add(float64(n))
}

func (m *JobMetrics) IncDrift(job string) {
	if m == nil {
		return
	}
	m.driftDetected.WithLabelValues(job).Inc()
}

func (m *JobMetrics) IncLockSkipped(job string) {
	if m == nil {
		return
	}
	m.lockSkipped.WithLabelValues(job).Inc()
}

func (m *JobMetrics) ObserveRunLoopLag(seconds float64) {
	if m == nil || seconds <= 0 {
		return
	}
	m.runLoopLag.Observe(seconds)
}

// ClassifyJobError maps an error to a low-cardinality reason label.
func ClassifyJobError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return JobReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return JobReasonCanceled
	case errors.Is(err, gorm.ErrRecordNotFound):
		return JobReasonNotFound
	case errors.Is(err, gorm.ErrInvalidTransaction), errors.Is(err, gorm.ErrInvalidDB):
		return JobReasonDB
	default:
		return JobReasonUnknown
	}
}
