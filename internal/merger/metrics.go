package merger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/mergeordinator/internal/logfields"
)

const metricNamespace = "mergeordinator"

const (
	sweepsMetricName       = "sweeps_total"
	checkedPRsMetricName   = "checked_prs_total"
	mergesMetricName       = "merges_total"
	buildRetriesMetricName = "build_retries_total"
	scopeErrorsMetricName  = "sweep_scope_errors_total"
)

const (
	scopeLabel  = "scope"
	resultLabel = "result"
)

const (
	scopeOwn      = "own"
	scopeApproved = "approved"
)

type metricCollector struct {
	logger       *zap.Logger
	sweeps       prometheus.Counter
	checkedPRs   *prometheus.CounterVec
	merges       *prometheus.CounterVec
	buildRetries prometheus.Counter
	scopeErrors  *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		sweeps: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      sweepsMetricName,
				Help:      "count of started merge sweeps",
			},
		),
		checkedPRs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      checkedPRsMetricName,
				Help:      "count of checked pull requests per scope",
			},
			[]string{scopeLabel},
		),
		merges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      mergesMetricName,
				Help:      "count of merge attempts by result",
			},
			[]string{resultLabel},
		),
		buildRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      buildRetriesMetricName,
				Help:      "count of triggered ci rebuilds",
			},
		),
		scopeErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      scopeErrorsMetricName,
				Help:      "count of sweep scopes that failed to fetch their pull request list",
			},
			[]string{scopeLabel},
		),
	}
}

func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	m.logger.Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

func (m *metricCollector) SweepsInc() {
	m.sweeps.Inc()
}

func (m *metricCollector) CheckedPRsInc(scope string) {
	cnt, err := m.checkedPRs.GetMetricWith(prometheus.Labels{scopeLabel: scope})
	if err != nil {
		m.logGetMetricFailed(checkedPRsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) MergesInc(success bool) {
	result := "failure"
	if success {
		result = "success"
	}

	cnt, err := m.merges.GetMetricWith(prometheus.Labels{resultLabel: result})
	if err != nil {
		m.logGetMetricFailed(mergesMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) BuildRetriesInc() {
	m.buildRetries.Inc()
}

func (m *metricCollector) ScopeErrorsInc(scope string) {
	cnt, err := m.scopeErrors.GetMetricWith(prometheus.Labels{scopeLabel: scope})
	if err != nil {
		m.logGetMetricFailed(scopeErrorsMetricName, err)
		return
	}

	cnt.Inc()
}
