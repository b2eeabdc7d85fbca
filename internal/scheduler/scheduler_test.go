package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/paymirror/internal/clock"
	obsmetrics "github.com/smallbiznis/paymirror/internal/observability/metrics"
	"go.uber.org/zap"
)

func TestRunJobTimeoutDoesNotReturnErrorAndCountsReason(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSweeperMetricsForTest()
	obsmetrics.SweeperWithConfig(obsmetrics.Config{
		ServiceName: "paymirror",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	errorLabels := map[string]string{
		"service": "paymirror",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SweeperJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "paymirror_sweeper_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestAutoSyncDueRespectsInterval(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	s := &Scheduler{
		clock: fakeClock,
		cfg: Config{
			AutoSyncEnabled:  true,
			AutoSyncInterval: time.Hour,
		},
	}

	if !s.autoSyncDue() {
		t.Fatal("expected first run to be due")
	}

	s.lastAutoSync = fakeClock.Now()
	if s.autoSyncDue() {
		t.Fatal("expected sync not due right after a run")
	}

	fakeClock.Advance(30 * time.Minute)
	if s.autoSyncDue() {
		t.Fatal("expected sync not due before the interval elapses")
	}

	fakeClock.Advance(31 * time.Minute)
	if !s.autoSyncDue() {
		t.Fatal("expected sync due after the interval")
	}

	s.cfg.AutoSyncEnabled = false
	if s.autoSyncDue() {
		t.Fatal("expected disabled auto sync never to be due")
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSweeperMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
