// Package observability exposes Prometheus metrics for the tutor services.
package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	actions          *prometheus.CounterVec
	actionDurations  *prometheus.HistogramVec
	guardianRequests *prometheus.CounterVec
	guardianLogins   prometheus.Counter
	closes           *prometheus.CounterVec
	surveys          *prometheus.CounterVec
	storeRequests    *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *metrics
)

func global() *metrics {
	metricsOnce.Do(func() {
		metricsInst = newMetrics()
	})
	return metricsInst
}

func newMetrics() *metrics {
	return &metrics{
		actions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zajuna",
			Subsystem: "actions",
			Name:      "executed_total",
			Help:      "Custom actions executed, labeled by action name and outcome",
		}, []string{"action", "outcome"}),
		actionDurations: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zajuna",
			Subsystem: "actions",
			Name:      "duration_seconds",
			Help:      "Duration of custom action execution",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		guardianRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zajuna",
			Subsystem: "guardian_client",
			Name:      "requests_total",
			Help:      "Guardian store requests issued by the client, labeled by path and outcome",
		}, []string{"path", "outcome"}),
		guardianLogins: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "zajuna",
			Subsystem: "guardian_client",
			Name:      "logins_total",
			Help:      "Token acquisitions against /auth/login",
		}),
		closes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zajuna",
			Subsystem: "sessions",
			Name:      "closed_total",
			Help:      "Confirmed session closes, labeled by farewell variant",
		}, []string{"variant"}),
		surveys: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zajuna",
			Subsystem: "surveys",
			Name:      "submissions_total",
			Help:      "Survey submissions, labeled by resulting state",
		}, []string{"state"}),
		storeRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zajuna",
			Subsystem: "guardian_store",
			Name:      "requests_total",
			Help:      "Requests served by the guardian store, labeled by route and status class",
		}, []string{"route", "status"}),
	}
}

// ObserveAction records one custom action run.
func ObserveAction(action, outcome string, seconds float64) {
	m := global()
	m.actions.WithLabelValues(action, outcome).Inc()
	m.actionDurations.WithLabelValues(action).Observe(seconds)
}

// ObserveGuardianRequest records one guardian client call.
func ObserveGuardianRequest(path, outcome string) {
	global().guardianRequests.WithLabelValues(path, outcome).Inc()
}

// ObserveGuardianLogin records a token acquisition.
func ObserveGuardianLogin() {
	global().guardianLogins.Inc()
}

// ObserveClose records a confirmed close with its farewell variant.
func ObserveClose(variant string) {
	global().closes.WithLabelValues(variant).Inc()
}

// ObserveSurvey records a survey submission outcome.
func ObserveSurvey(state string) {
	global().surveys.WithLabelValues(state).Inc()
}

// ObserveStoreRequest records a request served by the guardian store.
func ObserveStoreRequest(route string, status int) {
	class := "2xx"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	}
	global().storeRequests.WithLabelValues(route, class).Inc()
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	global()
	return promhttp.Handler()
}
