package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/evaluator"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const thresholdsYAML = `
ph:
  enabled: true
  warning_min: 6.5
  warning_max: 8.5
  critical_min: 6.0
  critical_max: 9.0
tds:
  enabled: true
  warning_max: 500
  trend_threshold_pct: 15
  trend_window_minutes: 30
chlorine:
  enabled: true
`

func writeThresholds(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestFileThresholds_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	writeThresholds(t, path, thresholdsYAML)

	ft, err := NewFileThresholds(path, logger.Nop())
	require.NoError(t, err)

	ph, ok := ft.Thresholds(models.ParameterPH)
	require.True(t, ok)
	assert.True(t, ph.Enabled)
	require.NotNil(t, ph.CriticalMax)
	assert.Equal(t, 9.0, *ph.CriticalMax)

	tds, ok := ft.Thresholds(models.ParameterTDS)
	require.True(t, ok)
	assert.Nil(t, tds.CriticalMax)
	assert.Equal(t, 30, tds.TrendWindowMinutes)

	_, ok = ft.Thresholds(models.ParameterTurbidity)
	assert.False(t, ok)
	_, ok = ft.Thresholds("chlorine")
	assert.False(t, ok)
}

func TestFileThresholds_BadReloadKeepsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	writeThresholds(t, path, thresholdsYAML)
	ft, err := NewFileThresholds(path, logger.Nop())
	require.NoError(t, err)

	writeThresholds(t, path, "ph: [not, a, map")
	assert.Error(t, ft.Reload())

	_, ok := ft.Thresholds(models.ParameterPH)
	assert.True(t, ok)
}

func TestFileThresholds_MissingFile(t *testing.T) {
	_, err := NewFileThresholds(filepath.Join(t.TempDir(), "absent.yaml"), logger.Nop())
	assert.Error(t, err)
}

func TestFileThresholds_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	writeThresholds(t, path, thresholdsYAML)
	ft, err := NewFileThresholds(path, logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ft.Watch(ctx))

	writeThresholds(t, path, "turbidity:\n  enabled: true\n  warning_max: 5\n")

	require.Eventually(t, func() bool {
		_, ok := ft.Thresholds(models.ParameterTurbidity)
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestMemoryTrendWindows_EvictsOutsideHorizon(t *testing.T) {
	w := NewMemoryTrendWindows()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := w.Push(ctx, "dev-1/tds", evaluator.Sample{Value: 1, Timestamp: base}, 10*time.Minute)
	require.NoError(t, err)
	_, err = w.Push(ctx, "dev-1/tds", evaluator.Sample{Value: 2, Timestamp: base.Add(5 * time.Minute)}, 10*time.Minute)
	require.NoError(t, err)
	got, err := w.Push(ctx, "dev-1/tds", evaluator.Sample{Value: 3, Timestamp: base.Add(12 * time.Minute)}, 10*time.Minute)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Value)
	assert.Equal(t, 3.0, got[1].Value)

	other, err := w.Push(ctx, "dev-2/tds", evaluator.Sample{Value: 9, Timestamp: base}, 10*time.Minute)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestRedisTrendWindows(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	w, err := NewRedisTrendWindows(ctx, addr, "", 0)
	require.NoError(t, err)
	defer w.Close()

	key := "test/" + t.Name() + "/" + time.Now().Format(time.RFC3339Nano)
	base := time.Now().UTC().Truncate(time.Millisecond)
	_, err = w.Push(ctx, key, evaluator.Sample{Value: 100, Timestamp: base}, 10*time.Minute)
	require.NoError(t, err)
	_, err = w.Push(ctx, key, evaluator.Sample{Value: 100, Timestamp: base.Add(time.Minute)}, 10*time.Minute)
	require.NoError(t, err)
	got, err := w.Push(ctx, key, evaluator.Sample{Value: 120, Timestamp: base.Add(11 * time.Minute)}, 10*time.Minute)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.Equal(base.Add(time.Minute)))
	assert.Equal(t, 120.0, got[1].Value)
}

func TestDecodeSample(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 123, time.UTC)
	s, err := decodeSample(encodeSample(evaluator.Sample{Value: 7.25, Timestamp: at}))
	require.NoError(t, err)
	assert.Equal(t, 7.25, s.Value)
	assert.True(t, s.Timestamp.Equal(at))

	_, err = decodeSample("garbage")
	assert.Error(t, err)
}
