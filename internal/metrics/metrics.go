// Package metrics exposes Prometheus collectors for generation passes and
// the file watcher.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pass results used as the "result" label
const (
	ResultWritten   = "written"
	ResultUnchanged = "unchanged"
	ResultStale     = "stale"
	ResultFailed    = "failed"
)

// Recorder owns a private registry so several recorders can coexist in one
// process. A nil *Recorder discards every observation.
type Recorder struct {
	registry *prometheus.Registry

	passesTotal   *prometheus.CounterVec
	passDuration  prometheus.Histogram
	classes       prometheus.Gauge
	unknownDeps   prometheus.Gauge
	skippedFiles  prometheus.Counter
	fileEvents    prometheus.Counter
	coalescedRuns prometheus.Counter
}

// NewRecorder creates a recorder with all collectors registered
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		passesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autowire_generation_passes_total",
				Help: "Number of generation passes by result.",
			},
			[]string{"result"},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autowire_generation_pass_duration_seconds",
				Help:    "Time taken by one generation pass.",
				Buckets: prometheus.DefBuckets,
			},
		),
		classes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autowire_classes",
				Help: "Number of classes wired by the last successful pass.",
			},
		),
		unknownDeps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autowire_unknown_dependencies",
				Help: "Number of dependency names with no scanned class in the last successful pass.",
			},
		),
		skippedFiles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "autowire_skipped_files_total",
				Help: "Total number of source files skipped because they failed to parse.",
			},
		),
		fileEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "autowire_watch_file_events_total",
				Help: "Total number of file changes delivered by the watcher after debouncing.",
			},
		),
		coalescedRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "autowire_watch_coalesced_triggers_total",
				Help: "Total number of regeneration triggers folded into an already queued pass.",
			},
		),
	}

	r.registry.MustRegister(
		r.passesTotal,
		r.passDuration,
		r.classes,
		r.unknownDeps,
		r.skippedFiles,
		r.fileEvents,
		r.coalescedRuns,
	)
	return r
}

// Registry returns the recorder's registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObservePass records one finished pass
func (r *Recorder) ObservePass(result string, duration time.Duration) {
	if r == nil {
		return
	}
	r.passesTotal.WithLabelValues(result).Inc()
	r.passDuration.Observe(duration.Seconds())
}

// ObserveGraph records the size of the last successfully built graph
func (r *Recorder) ObserveGraph(classes, unknown int) {
	if r == nil {
		return
	}
	r.classes.Set(float64(classes))
	r.unknownDeps.Set(float64(unknown))
}

// SkippedFiles counts unparseable source files
func (r *Recorder) SkippedFiles(n int) {
	if r == nil || n == 0 {
		return
	}
	r.skippedFiles.Add(float64(n))
}

// FileEvents counts debounced file changes
func (r *Recorder) FileEvents(n int) {
	if r == nil || n == 0 {
		return
	}
	r.fileEvents.Add(float64(n))
}

// Coalesced counts a trigger merged into a pending pass
func (r *Recorder) Coalesced() {
	if r == nil {
		return
	}
	r.coalescedRuns.Inc()
}

// Handler serves /metrics and /healthz
func (r *Recorder) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      r.registry,
		Timeout:       30 * time.Second,
	}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return router
}

// Serve runs the metrics endpoint on addr until ctx is cancelled
func (r *Recorder) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
