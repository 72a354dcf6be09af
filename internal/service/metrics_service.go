package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the attendance domain.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	tokensIssued    prometheus.Counter
	scansTotal      *prometheus.CounterVec
	wsConnections   prometheus.Gauge
	wsEventsPushed  prometheus.Counter
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	tokensIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qr_tokens_issued_total",
		Help: "Total QR tokens issued",
	})

	scansTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_scans_total",
		Help: "Attendance scans by outcome",
	}, []string{"outcome"})

	wsConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Currently registered realtime connections",
	})

	wsEventsPushed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_pushed_total",
		Help: "Events pushed through the realtime gateway",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, tokensIssued, scansTotal, wsConnections, wsEventsPushed, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		tokensIssued:    tokensIssued,
		scansTotal:      scansTotal,
		wsConnections:   wsConnections,
		wsEventsPushed:  wsEventsPushed,
	}
}

// Handler exposes the /metrics endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// TokenIssued counts one issuance.
func (s *MetricsService) TokenIssued() {
	s.tokensIssued.Inc()
}

// ScanObserved counts one scan by outcome (recorded, duplicate, rejected).
func (s *MetricsService) ScanObserved(outcome string) {
	s.scansTotal.WithLabelValues(outcome).Inc()
}

// ConnectionOpened / ConnectionClosed track the realtime gauge.
func (s *MetricsService) ConnectionOpened() { s.wsConnections.Inc() }

func (s *MetricsService) ConnectionClosed() { s.wsConnections.Dec() }

// EventPushed counts one realtime push.
func (s *MetricsService) EventPushed() { s.wsEventsPushed.Inc() }
