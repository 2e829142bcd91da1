package telemetry_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/devos-platform/agent-orchestrator/internal/telemetry"
)

func TestNewLoggerBuildsForEveryLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		log, err := telemetry.NewLogger(level, "json")
		require.NoError(t, err)
		log.Info("smoke test", "level", level)
	}
}

func TestNewMetricsRegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	m.PipelineTransitionsTotal.WithLabelValues("planning", "implementing", "success").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
