package http

import (
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once
	metricsErr  error

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        *prometheus.GaugeVec

	sessionsResolvedTotal *prometheus.CounterVec
	oauthCallbacksTotal   *prometheus.CounterVec
)

// RegisterMetrics inicializa las métricas y devuelve el handler de /metrics.
func RegisterMetrics(registry prometheus.Registerer) (http.Handler, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	metricsOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		httpInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests en vuelo por método y ruta",
		}, []string{"method", "path"})

		sessionsResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_resolved_total",
			Help: "Resoluciones de sesión por fuente",
		}, []string{"source"}) // source: cookie_cache|store|unauthenticated

		oauthCallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_callbacks_total",
			Help: "Callbacks OAuth completados por provider y resultado",
		}, []string{"provider", "result"}) // result: ok|error

		for _, col := range []prometheus.Collector{
			httpRequestsTotal, httpRequestDuration, httpInflight,
			sessionsResolvedTotal, oauthCallbacksTotal,
		} {
			if err := registerCollector(registry, col); err != nil {
				metricsErr = err
				return
			}
		}
	})
	if metricsErr != nil {
		return nil, metricsErr
	}
	return promhttp.Handler(), nil
}

func registerCollector(r prometheus.Registerer, c prometheus.Collector) error {
	if err := r.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// ObserveSessionResolved registra la fuente de una resolución de sesión.
func ObserveSessionResolved(source string) {
	if sessionsResolvedTotal != nil {
		sessionsResolvedTotal.WithLabelValues(source).Inc()
	}
}

// ObserveOAuthCallback registra el desenlace de un callback.
func ObserveOAuthCallback(provider, result string) {
	if oauthCallbacksTotal != nil {
		oauthCallbacksTotal.WithLabelValues(provider, result).Inc()
	}
}

// idSegment colapsa segmentos con pinta de id para acotar la cardinalidad
// de la label path.
var idSegment = regexp.MustCompile(`(?i)/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

func metricsPath(p string) string {
	return idSegment.ReplaceAllString(p, "/:id")
}

// WithHTTPMetrics instrumenta counters, histograma e inflight gauge.
func WithHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpRequestsTotal == nil {
			next.ServeHTTP(w, r)
			return
		}
		path := metricsPath(r.URL.Path)
		httpInflight.WithLabelValues(r.Method, path).Inc()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		httpInflight.WithLabelValues(r.Method, path).Dec()
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
