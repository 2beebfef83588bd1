package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnPrivateRegistry(t *testing.T) {
	t.Parallel()

	// Two runs side by side must not collide.
	a := New(prometheus.NewRegistry())
	b := New(nil)

	a.ReconciliationFailures.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ReconciliationFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ReconciliationFailures))
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.Periods.WithLabelValues("safe").Add(3)
	m.HealthFactor.Set(1.07)

	path := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `yieldloop_engine_periods_total{level="safe"} 3`))
	assert.True(t, strings.Contains(text, "yieldloop_risk_health_factor 1.07"))
}
