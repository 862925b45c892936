package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics holds every series the chat service exports: generic HTTP
// request accounting plus the retrieval-funnel series that make degraded
// answers and empty recalls visible without log digging.
type ServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	answersTotal    *prometheus.CounterVec
	degradedTotal   *prometheus.CounterVec
	noContextTotal  prometheus.Counter
	retrievedChunks *prometheus.HistogramVec
	chatDuration    *prometheus.HistogramVec

	rerankSkippedTotal prometheus.Counter
	corpusReloadsTotal *prometheus.CounterVec
	corpusChunks       prometheus.Gauge
}

func NewServerMetrics(service string) *ServerMetrics {
	registry := prometheus.NewRegistry()
	serviceLabel := prometheus.Labels{"service": service}

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "irag",
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total HTTP requests processed.",
			ConstLabels: serviceLabel,
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "irag",
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: serviceLabel,
		},
		[]string{"method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "irag",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: serviceLabel,
		},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "irag",
			Subsystem:   "chat",
			Name:        "answers_total",
			Help:        "Total answered chat turns by result quality.",
			ConstLabels: serviceLabel,
		},
		[]string{"degraded"},
	)
	degradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "irag",
			Subsystem:   "chat",
			Name:        "degraded_total",
			Help:        "Degraded chat turns by cause.",
			ConstLabels: serviceLabel,
		},
		[]string{"cause"},
	)
	noContextTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "irag",
			Subsystem:   "chat",
			Name:        "no_context_total",
			Help:        "Chat turns answered with the canned no-evidence reply.",
			ConstLabels: serviceLabel,
		},
	)
	retrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "irag",
			Subsystem:   "chat",
			Name:        "retrieved_chunks",
			Help:        "Distribution of evidence chunks per answered turn.",
			Buckets:     []float64{0, 1, 2, 3, 5, 8, 13, 21},
			ConstLabels: serviceLabel,
		},
		[]string{"degraded"},
	)
	chatDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "irag",
			Subsystem:   "chat",
			Name:        "duration_seconds",
			Help:        "End-to-end chat turn duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: serviceLabel,
		},
		[]string{"degraded"},
	)
	rerankSkippedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "irag",
			Subsystem:   "rerank",
			Name:        "skipped_total",
			Help:        "Turns that fell back to recall ordering because the judge was unavailable.",
			ConstLabels: serviceLabel,
		},
	)
	corpusReloadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "irag",
			Subsystem:   "corpus",
			Name:        "reloads_total",
			Help:        "Corpus reload attempts by outcome.",
			ConstLabels: serviceLabel,
		},
		[]string{"status"},
	)
	corpusChunks := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "irag",
			Subsystem:   "corpus",
			Name:        "chunks",
			Help:        "Chunks in the active corpus snapshot.",
			ConstLabels: serviceLabel,
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		answersTotal,
		degradedTotal,
		noContextTotal,
		retrievedChunks,
		chatDuration,
		rerankSkippedTotal,
		corpusReloadsTotal,
		corpusChunks,
	)

	return &ServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		answersTotal:       answersTotal,
		degradedTotal:      degradedTotal,
		noContextTotal:     noContextTotal,
		retrievedChunks:    retrievedChunks,
		chatDuration:       chatDuration,
		rerankSkippedTotal: rerankSkippedTotal,
		corpusReloadsTotal: corpusReloadsTotal,
		corpusChunks:       corpusChunks,
	}
}

func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// RecordChatTurn accounts one answered turn. noContext marks the canned
// reply path where generation was never invoked.
func (m *ServerMetrics) RecordChatTurn(degraded, noContext bool, chunkCount int, duration time.Duration) {
	label := strconv.FormatBool(degraded)
	m.answersTotal.WithLabelValues(label).Inc()
	m.retrievedChunks.WithLabelValues(label).Observe(float64(chunkCount))
	m.chatDuration.WithLabelValues(label).Observe(duration.Seconds())
	if noContext {
		m.noContextTotal.Inc()
	}
}

func (m *ServerMetrics) RecordDegradation(cause string) {
	if cause == "" {
		cause = "unknown"
	}
	m.degradedTotal.WithLabelValues(cause).Inc()
	if cause == "rerank" {
		m.rerankSkippedTotal.Inc()
	}
}

func (m *ServerMetrics) RecordCorpusReload(err error, chunkCount int) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.corpusReloadsTotal.WithLabelValues(status).Inc()
	if err == nil {
		m.corpusChunks.Set(float64(chunkCount))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
