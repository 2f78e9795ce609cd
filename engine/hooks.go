package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/casemesh-ai/casemesh/logging"
)

// Hook observes run lifecycle transitions. Hooks execute synchronously on the
// engine's goroutines and must be fast and non-blocking; anything expensive
// belongs behind a channel in the hook implementation.
//
// Hooks are observational only. They cannot veto or alter a run; error
// handling stays inside the loop and its event stream.
type Hook interface {
	// RunStarted fires after the run is registered, before the first event.
	RunStarted(threadID, runID string)

	// RunFinished fires after the run's RunFinished event was published.
	RunFinished(threadID, runID string)

	// RunErrored fires after the run terminated with an error.
	RunErrored(threadID, runID string, err error)
}

// hookSet fans one lifecycle transition out to every registered hook.
type hookSet struct {
	hooks []Hook
}

func newHookSet(hooks []Hook) *hookSet {
	return &hookSet{hooks: hooks}
}

func (hs *hookSet) runStarted(threadID, runID string) {
	for _, h := range hs.hooks {
		h.RunStarted(threadID, runID)
	}
}

func (hs *hookSet) runFinished(threadID, runID string) {
	for _, h := range hs.hooks {
		h.RunFinished(threadID, runID)
	}
}

func (hs *hookSet) runErrored(threadID, runID string, err error) {
	for _, h := range hs.hooks {
		h.RunErrored(threadID, runID, err)
	}
}

// LoggingHook logs run lifecycle transitions at info level with run duration.
type LoggingHook struct {
	logger logging.Logger

	starts timeByRun
}

// NewLoggingHook creates a lifecycle logging hook.
func NewLoggingHook(logger logging.Logger) *LoggingHook {
	return &LoggingHook{logger: logger, starts: newTimeByRun()}
}

// RunStarted implements Hook.
func (h *LoggingHook) RunStarted(threadID, runID string) {
	h.starts.set(runID, time.Now())
	h.logger.Info("run.lifecycle", "phase", "started", "thread_id", threadID, "run_id", runID)
}

// RunFinished implements Hook.
func (h *LoggingHook) RunFinished(threadID, runID string) {
	h.logger.Info("run.lifecycle",
		"phase", "finished", "thread_id", threadID, "run_id", runID,
		"duration_ms", h.starts.since(runID).Milliseconds())
}

// RunErrored implements Hook.
func (h *LoggingHook) RunErrored(threadID, runID string, err error) {
	h.logger.Warn("run.lifecycle",
		"phase", "errored", "thread_id", threadID, "run_id", runID,
		"duration_ms", h.starts.since(runID).Milliseconds(), "error", err.Error())
}

// MetricsHook exports run lifecycle counters and an in-flight gauge to
// Prometheus.
type MetricsHook struct {
	started  prometheus.Counter
	finished prometheus.Counter
	errored  prometheus.Counter
	inFlight prometheus.Gauge
	duration prometheus.Histogram

	starts timeByRun
}

// NewMetricsHook creates the hook and registers its collectors on reg.
func NewMetricsHook(reg prometheus.Registerer) *MetricsHook {
	h := &MetricsHook{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casemesh", Subsystem: "engine",
			Name: "runs_started_total", Help: "Runs started.",
		}),
		finished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casemesh", Subsystem: "engine",
			Name: "runs_finished_total", Help: "Runs finished successfully.",
		}),
		errored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casemesh", Subsystem: "engine",
			Name: "runs_errored_total", Help: "Runs terminated by RunError.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "casemesh", Subsystem: "engine",
			Name: "runs_in_flight", Help: "Currently executing runs.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "casemesh", Subsystem: "engine",
			Name: "run_duration_seconds", Help: "Run wall time from start to terminal event.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		starts: newTimeByRun(),
	}
	reg.MustRegister(h.started, h.finished, h.errored, h.inFlight, h.duration)
	return h
}

// RunStarted implements Hook.
func (h *MetricsHook) RunStarted(threadID, runID string) {
	h.starts.set(runID, time.Now())
	h.started.Inc()
	h.inFlight.Inc()
}

// RunFinished implements Hook.
func (h *MetricsHook) RunFinished(threadID, runID string) {
	h.finished.Inc()
	h.inFlight.Dec()
	h.duration.Observe(h.starts.since(runID).Seconds())
}

// RunErrored implements Hook.
func (h *MetricsHook) RunErrored(threadID, runID string, err error) {
	h.errored.Inc()
	h.inFlight.Dec()
	h.duration.Observe(h.starts.since(runID).Seconds())
}
