package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Config labels every series with the service identity.
type Config struct {
	ServiceName string
	Environment string
}

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonUnknown              = "unknown"
)

const (
	ReconcileApplied    = "applied"
	ReconcileDiscarded  = "discarded"
	ReconcileEvicted    = "evicted"
	ReconcileRebaseline = "rebaseline"
)

// DuesMetrics tracks the dues lifecycle: transitions, races lost, batch
// generation throughput and the health of live views.
type DuesMetrics struct {
	transitions     *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	generated       *prometheus.CounterVec
	reconcileEvents *prometheus.CounterVec
	activeViews     *prometheus.GaugeVec
	reportDuration  prometheus.Histogram
	jobRuns         *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
}

var (
	duesMetricsOnce sync.Once
	duesMetrics     *DuesMetrics
)

// Dues returns the singleton dues metrics registry.
func Dues() *DuesMetrics {
	return DuesWithConfig(Config{})
}

// DuesWithConfig returns the singleton dues metrics registry using config labels.
func DuesWithConfig(cfg Config) *DuesMetrics {
	duesMetricsOnce.Do(func() {
		duesMetrics = newDuesMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return duesMetrics
}

// ResetDuesMetricsForTest resets the singleton for tests.
func ResetDuesMetricsForTest() {
	duesMetricsOnce = sync.Once{}
	duesMetrics = nil
}

func newDuesMetrics(registerer prometheus.Registerer, cfg Config) *DuesMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "iuran"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &DuesMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "iuran_dues_transitions_total",
			Help:        "Dues status transitions by source and target status.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "iuran_dues_conflicts_total",
			Help:        "Conditional writes lost to a concurrent writer.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		generated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "iuran_dues_generated_total",
			Help:        "Dues records handled by batch generation.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		reconcileEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "iuran_reconciler_events_total",
			Help:        "Change events seen by live views by outcome.",
			ConstLabels: constLabels,
		}, []string{"scope", "outcome"}),
		activeViews: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "iuran_reconciler_active_views",
			Help:        "Open live views by scope.",
			ConstLabels: constLabels,
		}, []string{"scope"}),
		reportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "iuran_report_build_duration_seconds",
			Help:        "Time spent building a period report.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "iuran_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "iuran_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
	}

	m.transitions = registerCounterVec(registerer, m.transitions)
	m.conflicts = registerCounterVec(registerer, m.conflicts)
	m.generated = registerCounterVec(registerer, m.generated)
	m.reconcileEvents = registerCounterVec(registerer, m.reconcileEvents)
	m.jobRuns = registerCounterVec(registerer, m.jobRuns)
	m.jobErrors = registerCounterVec(registerer, m.jobErrors)

	if err := registerer.Register(m.activeViews); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				m.activeViews = existing
			}
		}
	}
	if err := registerer.Register(m.reportDuration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				m.reportDuration = existing
			}
		}
	}

	return m
}

func registerCounterVec(registerer prometheus.Registerer, vec *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return vec
}

func (m *DuesMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *DuesMetrics) RecordConflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}

func (m *DuesMetrics) AddGenerated(created, skipped int) {
	if m == nil {
		return
	}
	m.generated.WithLabelValues("created").Add(float64(created))
	m.generated.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *DuesMetrics) RecordReconcile(scope, outcome string) {
	if m == nil {
		return
	}
	m.reconcileEvents.WithLabelValues(scope, outcome).Inc()
}

func (m *DuesMetrics) ViewOpened(scope string) {
	if m == nil {
		return
	}
	m.activeViews.WithLabelValues(scope).Inc()
}

func (m *DuesMetrics) ViewClosed(scope string) {
	if m == nil {
		return
	}
	m.activeViews.WithLabelValues(scope).Dec()
}

func (m *DuesMetrics) ObserveReport(seconds float64) {
	if m == nil {
		return
	}
	m.reportDuration.Observe(seconds)
}

func (m *DuesMetrics) RecordJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *DuesMetrics) RecordJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyReason(err)).Inc()
}

// ClassifyReason maps an error onto a bounded label set.
func ClassifyReason(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ReasonUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return ReasonDBLockTimeout
		case "40001":
			return ReasonSerializationFailure
		case "23505":
			return ReasonUniqueViolation
		}
	}
	return ReasonUnknown
}
