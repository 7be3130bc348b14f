package telemetry

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordsRunsAndResources(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.RunStarted("build")
	m.ResourceReconciled("created", 2)
	m.ResourceReconciled("skipped", 0)
	m.RunCompleted("build", true, 3*time.Second)

	families, err := m.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["deployql_runs_started_total"])
	assert.True(t, names["deployql_runs_completed_total"])
	assert.True(t, names["deployql_resource_outcomes_total"])
	assert.True(t, names["deployql_verification_attempts"])
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	var m *Metrics
	m.RunStarted("build") // nil receiver must not panic
	m.RunCompleted("build", false, time.Second)

	disabled := NewMetrics(MetricsConfig{})
	disabled.ResourceReconciled("created", 1)
	families, err := disabled.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zerolog.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("nonsense"))
}
