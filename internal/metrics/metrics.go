package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenantcore"

// Metrics holds the service collectors.
type Metrics struct {
	// HTTP
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Identity core
	SignIns            *prometheus.CounterVec
	AuthzDecisions     *prometheus.CounterVec
	SessionTransitions *prometheus.CounterVec
	SupersededTotal    prometheus.Counter
	TrialsExpired      prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		SignIns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "sign_ins_total",
				Help:      "Sign-in attempts by outcome code",
			},
			[]string{"result"},
		),
		AuthzDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "decisions_total",
				Help:      "Authorization decisions by check and outcome",
			},
			[]string{"check", "resource", "allowed"},
		),
		SessionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Published session states",
			},
			[]string{"state"},
		),
		SupersededTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "superseded_total",
				Help:      "Session resolutions discarded because a newer one was issued",
			},
		),
		TrialsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tenants",
				Name:      "trials_expired_total",
				Help:      "Tenant trials marked expired by the sweep",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.RequestCount,
		m.RequestDuration,
		m.SignIns,
		m.AuthzDecisions,
		m.SessionTransitions,
		m.SupersededTotal,
		m.TrialsExpired,
	)
	return m
}

// NewNop returns collectors registered with a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) ObserveSignIn(result string) {
	m.SignIns.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAuthz(check, resource string, allowed bool) {
	m.AuthzDecisions.WithLabelValues(check, resource, strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) ObserveSessionState(state string) {
	m.SessionTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveSuperseded() {
	m.SupersededTotal.Inc()
}

func (m *Metrics) ObserveTrialsExpired(n int) {
	m.TrialsExpired.Add(float64(n))
}

// Middleware records request count and latency per matched route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.RequestCount.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
