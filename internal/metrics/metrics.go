// metrics — Prometheus-коллекторы сервиса.
// Все методы допускают nil-получатель: без метрик код работает так же.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "volunteer_hub"

// Metrics — набор коллекторов.
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	authOutcomes    *prometheus.CounterVec
	csrfValidations *prometheus.CounterVec
	swept           *prometheus.CounterVec
}

// New создаёт коллекторы и регистрирует их в reg.
// reg == nil — коллекторы не регистрируются (удобно в тестах).
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_outcomes_total",
			Help:      "Auth actions by result code.",
		}, []string{"action", "result"}),
		csrfValidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_validations_total",
			Help:      "CSRF token validations by result.",
		}, []string{"result"}),
		swept: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_deleted_total",
			Help:      "Expired rows deleted by the janitor.",
		}, []string{"kind"}),
	}
}

// ObserveHTTP учитывает завершённый HTTP-запрос.
func (m *Metrics) ObserveHTTP(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}

	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(dur.Seconds())
}

// AuthOutcome учитывает результат действия /auth ("ok" или код ошибки).
func (m *Metrics) AuthOutcome(action, result string) {
	if m == nil {
		return
	}

	m.authOutcomes.WithLabelValues(action, result).Inc()
}

// CSRFValidation учитывает проверку CSRF-токена.
func (m *Metrics) CSRFValidation(ok bool) {
	if m == nil {
		return
	}

	result := "rejected"
	if ok {
		result = "accepted"
	}

	m.csrfValidations.WithLabelValues(result).Inc()
}

// Swept учитывает записи, удалённые janitor.
func (m *Metrics) Swept(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}

	m.swept.WithLabelValues(kind).Add(float64(n))
}
