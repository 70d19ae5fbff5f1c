package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const metricsJobName = "cell_export"

// jobMetrics holds the gauges of a single export job. Each job has its
// own registry so concurrent jobs never share series; the pushgateway
// groups them by mode.
type jobMetrics struct {
	registry    *prometheus.Registry
	rows        prometheus.Gauge
	bytes       prometheus.Gauge
	duration    prometheus.Gauge
	lastSuccess prometheus.Gauge
	failed      prometheus.Gauge
	succeeded   bool
}

func newJobMetrics() *jobMetrics {
	m := &jobMetrics{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cell_export_rows",
			Help: "Number of station rows written by the last export.",
		}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cell_export_bytes",
			Help: "Compressed size in bytes of the last export artifact.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cell_export_duration_seconds",
			Help: "Wall clock duration of the last export.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cell_export_last_success_timestamp_seconds",
			Help: "Unix time of the last successful export.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cell_export_failed",
			Help: "1 if the last export failed, 0 otherwise.",
		}),
	}
	m.registry.MustRegister(m.rows, m.bytes, m.duration, m.lastSuccess, m.failed)
	return m
}

// observe records the outcome of a finished job
func (m *jobMetrics) observe(result *JobResult, err error) {
	if result != nil {
		m.duration.Set(result.Duration.Seconds())
	}
	if err != nil {
		m.failed.Set(1)
		m.succeeded = false
		return
	}
	m.succeeded = true
	m.failed.Set(0)
	m.rows.Set(float64(result.Rows))
	m.bytes.Set(float64(result.Bytes))
	m.lastSuccess.Set(float64(result.FinishedAt.Unix()))
}

// push sends the job's gauges to a pushgateway. A successful job replaces
// the whole group (PUT). A failed job only adds failed and duration (POST)
// so the last success timestamp, rows and bytes of the group are kept.
// A failed push is logged and never changes the job outcome.
func (m *jobMetrics) push(ctx context.Context, url, mode string, logger *slog.Logger) {
	if url == "" {
		return
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	pusher := push.New(url, metricsJobName).Grouping("mode", mode)

	var err error
	if m.succeeded {
		err = pusher.Gatherer(m.registry).PushContext(pushCtx)
	} else {
		err = pusher.Collector(m.failed).Collector(m.duration).AddContext(pushCtx)
	}
	if err != nil {
		logger.Warn(fmt.Sprintf("⚠️  Failed to push metrics to %s: %v", url, err))
		return
	}
	logger.Debug(fmt.Sprintf("📈 Pushed metrics to %s", url))
}
