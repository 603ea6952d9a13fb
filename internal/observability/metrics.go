package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type moduleMetrics struct {
	activeSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	turnsTotal          *prometheus.CounterVec
	interruptsTotal     *prometheus.CounterVec

	generateTotal    *prometheus.CounterVec
	generateDuration *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "goose_active_sessions",
					Help: "Current running session loops.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "goose_session_load_duration_seconds",
					Help:    "Session log load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "goose_session_save_duration_seconds",
					Help:    "Session log append/rewrite duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "goose_turns_total",
					Help: "Operator turns processed by outcome.",
				},
				[]string{"outcome"},
			),
			interruptsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "goose_interrupts_total",
					Help: "Interrupt recoveries by recovery action.",
				},
				[]string{"action"},
			),
			generateTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "goose_generate_total",
					Help: "Model backend calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			generateDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "goose_generate_duration_seconds",
					Help:    "Model backend call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			tokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "goose_tokens_total",
					Help: "Tokens reported by the model backend by provider.",
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "goose_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "goose_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "goose_tool_errors_total",
					Help: "Total tool execution errors by tool and kind.",
				},
				[]string{"tool", "kind"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.turnsTotal,
			m.interruptsTotal,
			m.generateTotal,
			m.generateDuration,
			m.tokensTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr is a no-op.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func SessionStarted() {
	getMetrics().activeSessions.Inc()
}

func SessionEnded() {
	getMetrics().activeSessions.Dec()
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordTurn(outcome string) {
	getMetrics().turnsTotal.WithLabelValues(outcome).Inc()
}

func RecordInterrupt(action string) {
	getMetrics().interruptsTotal.WithLabelValues(action).Inc()
}

func RecordGenerate(provider string, duration time.Duration, tokens int64, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.generateTotal.WithLabelValues(provider, status).Inc()
	m.generateDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if tokens > 0 {
		m.tokensTotal.WithLabelValues(provider).Add(float64(tokens))
	}
}

// RecordToolExecution counts one tool call. errKind is empty for successful calls.
func RecordToolExecution(tool string, duration time.Duration, errKind string) {
	m := getMetrics()
	status := "success"
	if errKind != "" {
		status = "error"
		m.toolErrorsTotal.WithLabelValues(tool, errKind).Inc()
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
