package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestRecordStreamCountsFailures(t *testing.T) {
	before := counterValue(t, GenerationFailures)
	RecordStream("done", 0.5)
	require.Equal(t, before, counterValue(t, GenerationFailures))
	RecordStream("failed", 0.1)
	require.Equal(t, before+1, counterValue(t, GenerationFailures))
}

func TestRecordTurnByRole(t *testing.T) {
	before := counterValue(t, TurnsCommitted.WithLabelValues("user"))
	RecordTurn("user")
	RecordTurn("user")
	require.Equal(t, before+2, counterValue(t, TurnsCommitted.WithLabelValues("user")))
}
