package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediadex/pkg/logger"
)

func testMonitor(usage float64) *MemoryMonitor {
	m := NewMemoryMonitor(1<<30, logger.NewNopLogger())
	m.usage = func() float64 { return usage }
	return m
}

func TestBandClassification(t *testing.T) {
	tests := []struct {
		usage float64
		want  PressureBand
	}{
		{0.0, BandNormal},
		{0.49, BandNormal},
		{0.50, BandWarning},
		{0.64, BandWarning},
		{0.65, BandHigh},
		{0.79, BandHigh},
		{0.80, BandCritical},
		{0.95, BandCritical},
		{1.20, BandCritical},
	}
	for _, tt := range tests {
		if got := bandFor(tt.usage); got != tt.want {
			t.Errorf("bandFor(%.2f) = %s, want %s", tt.usage, got, tt.want)
		}
	}
}

func TestThrottleDelayBackoff(t *testing.T) {
	tests := []struct {
		name   string
		band   PressureBand
		streak int32
		want   time.Duration
	}{
		{"normal has no delay", BandNormal, 5, 0},
		{"first warning throttle", BandWarning, 1, 120 * time.Millisecond},
		{"high band fourth throttle", BandHigh, 4, 540 * time.Millisecond},
		{"backoff caps at 3x", BandCritical, 100, 2400 * time.Millisecond},
		{"streak clamps at ten", BandHigh, 10, 900 * time.Millisecond},
		{"streak beyond ten stays clamped", BandHigh, 11, 900 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, throttleDelay(tt.band, tt.streak))
		})
	}
}

func TestCheckAndThrottleSustainedPressure(t *testing.T) {
	m := testMonitor(0.70)
	m.consecutive.Store(3)

	start := time.Now()
	err := m.CheckAndThrottle(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 4, m.ConsecutiveThrottles())
	assert.GreaterOrEqual(t, elapsed, 540*time.Millisecond)
	assert.Less(t, elapsed, 800*time.Millisecond, "delay should stay near 540ms")
}

func TestCheckAndThrottleNormalResetsStreak(t *testing.T) {
	m := testMonitor(0.55)
	require.NoError(t, m.CheckAndThrottle(context.Background()))
	require.NoError(t, m.CheckAndThrottle(context.Background()))
	assert.Equal(t, 2, m.ConsecutiveThrottles())

	m.usage = func() float64 { return 0.30 }
	start := time.Now()
	require.NoError(t, m.CheckAndThrottle(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "normal band must not sleep")
	assert.Equal(t, 0, m.ConsecutiveThrottles())
}

func TestCheckAndThrottleCancelled(t *testing.T) {
	m := testMonitor(0.85)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := m.CheckAndThrottle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "cancelled wait must return promptly")
}

func TestCanStartParallelWork(t *testing.T) {
	assert.True(t, testMonitor(0.59).CanStartParallelWork())
	assert.False(t, testMonitor(0.60).CanStartParallelWork())
	assert.False(t, testMonitor(0.90).CanStartParallelWork())
}

func TestMonitorLimitFallback(t *testing.T) {
	m := NewMemoryMonitor(0, logger.NewNopLogger())
	u := m.Usage()
	assert.GreaterOrEqual(t, u, 0.0)
	assert.Less(t, u, 1.0, "a test process should sit well under its heap limit")
}

func TestMonitorReset(t *testing.T) {
	m := testMonitor(0.55)
	require.NoError(t, m.CheckAndThrottle(context.Background()))
	require.Equal(t, 1, m.ConsecutiveThrottles())
	m.Reset()
	assert.Equal(t, 0, m.ConsecutiveThrottles())
}
