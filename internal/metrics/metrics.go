// Package metrics exports pipeline, scheduler and delivery counters to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dealsignal/internal/etl"
	"dealsignal/internal/source"
)

const namespace = "dealsignal"

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Recorder owns a private registry so several instances can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	executions      *prometheus.CounterVec
	skipped         *prometheus.CounterVec
	pipelineRuns    *prometheus.CounterVec
	pipelineRecords *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	deliveries      *prometheus.CounterVec
	sourceConnected *prometheus.GaugeVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_executions_total",
			Help:      "Schedule executions by outcome",
		}, []string{"schedule", "status"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_skipped_total",
			Help:      "Timer fires skipped because the previous execution was still running",
		}, []string{"schedule"}),
		pipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "ETL job runs by outcome",
		}, []string{"job", "status"}),
		pipelineRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_records_total",
			Help:      "Records emitted by ETL jobs",
		}, []string{"job"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "ETL job run duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification deliveries by channel and outcome",
		}, []string{"channel", "status"}),
		sourceConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_connected",
			Help:      "1 when the last health check of a source succeeded",
		}, []string{"source"}),
	}
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) ObserveExecution(scheduleID string, err error, _ time.Duration) {
	r.executions.WithLabelValues(scheduleID, outcome(err)).Inc()
}

func (r *Recorder) ObserveSkipped(scheduleID string) {
	r.skipped.WithLabelValues(scheduleID).Inc()
}

func (r *Recorder) ObserveDelivery(channel string, err error) {
	r.deliveries.WithLabelValues(channel, outcome(err)).Inc()
}

// ObservePipelineRun has the shape of runner.RunObserver.
func (r *Recorder) ObservePipelineRun(job etl.JobConfig, res etl.Result) {
	r.pipelineRuns.WithLabelValues(job.ID, outcome(res.Error)).Inc()
	r.pipelineRecords.WithLabelValues(job.ID).Add(float64(res.ProcessedCount))
	r.runDuration.WithLabelValues(job.ID).Observe(res.Duration.Seconds())
}

// SetSourceConnected has the shape of source.StatusObserver.
func (r *Recorder) SetSourceConnected(sourceID string, st source.ConnectionStatus) {
	v := 0.0
	if st.Connected {
		v = 1
	}
	r.sourceConnected.WithLabelValues(sourceID).Set(v)
}

func outcome(err error) string {
	if err != nil {
		return statusError
	}
	return statusSuccess
}
