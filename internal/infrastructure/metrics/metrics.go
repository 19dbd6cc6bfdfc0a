package metrics

import (
	"errors"
	"time"

	"stock-alarm/internal/application/alert"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockalarm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockalarm_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// Pass metrics
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockalarm_passes_total",
			Help: "Total number of evaluation passes",
		},
		[]string{"result"}, // result: ok, skipped, interrupted, failed
	)

	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stockalarm_pass_duration_seconds",
			Help:    "Duration of evaluation passes",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	WatchesEvaluatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockalarm_watches_evaluated_total",
			Help: "Total number of watches evaluated against a fresh quote",
		},
	)

	ConditionsFiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockalarm_conditions_fired_total",
			Help: "Total number of watches whose condition fired",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockalarm_notifications_total",
			Help: "Total number of alert notifications by outcome",
		},
		[]string{"status"}, // status: delivered, failed
	)

	LookupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockalarm_lookup_failures_total",
			Help: "Total number of watches skipped because the price lookup failed",
		},
	)

	CommentaryFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockalarm_commentary_fallbacks_total",
			Help: "Total number of alerts sent with the fallback commentary",
		},
	)

	StoreErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockalarm_store_errors_total",
			Help: "Total number of per-watch store failures",
		},
	)

	LastPassTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockalarm_last_pass_timestamp_seconds",
			Help: "Unix time of the last finished evaluation pass",
		},
	)
)

// PassObserver 將批次統計寫入 Prometheus。
type PassObserver struct {
	now func() time.Time
}

// NewPassObserver 建立 observer。
func NewPassObserver() *PassObserver {
	return &PassObserver{now: time.Now}
}

// ObservePass 實作 alert.PassObserver。
func (o *PassObserver) ObservePass(s alert.Summary, elapsed time.Duration, err error) {
	result := PassResult(err)
	PassesTotal.WithLabelValues(result).Inc()
	if result == "skipped" {
		return
	}
	PassDuration.Observe(elapsed.Seconds())
	WatchesEvaluatedTotal.Add(float64(s.Evaluated))
	ConditionsFiredTotal.Add(float64(s.Fired))
	NotificationsTotal.WithLabelValues("delivered").Add(float64(s.Notified))
	NotificationsTotal.WithLabelValues("failed").Add(float64(s.FailedNotify))
	LookupFailuresTotal.Add(float64(s.FailedLookup))
	CommentaryFallbacksTotal.Add(float64(s.CommentaryFallbacks))
	StoreErrorsTotal.Add(float64(s.StoreErrors))
	LastPassTimestamp.Set(float64(o.now().Unix()))
}

// PassResult 批次結果的 label。
func PassResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, alert.ErrPassInProgress):
		return "skipped"
	case alert.IsInterrupted(err):
		return "interrupted"
	default:
		return "failed"
	}
}

var _ alert.PassObserver = (*PassObserver)(nil)
