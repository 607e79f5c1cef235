package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdaptivePollFirstSleepIsFast(t *testing.T) {
	ap := newAdaptivePoll(2*time.Millisecond, 20*time.Millisecond)
	start := time.Now()
	ap.sleep()
	require.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
}

func TestAdaptivePollDoublesTowardSteady(t *testing.T) {
	ap := newAdaptivePoll(2*time.Millisecond, 20*time.Millisecond)
	require.Equal(t, 2*time.Millisecond, ap.cur)
	ap.sleep()
	require.Equal(t, 4*time.Millisecond, ap.cur)
	ap.sleep()
	require.Equal(t, 8*time.Millisecond, ap.cur)
	ap.sleep()
	require.Equal(t, 16*time.Millisecond, ap.cur)
	ap.sleep()
	require.Equal(t, 20*time.Millisecond, ap.cur) // clamped at steady
	ap.sleep()
	require.Equal(t, 20*time.Millisecond, ap.cur)
}

func TestAdaptivePollResetSkipsNextSleep(t *testing.T) {
	ap := newAdaptivePoll(5*time.Millisecond, 20*time.Millisecond)
	ap.sleep()
	ap.sleep()
	require.NotEqual(t, ap.fast, ap.cur)

	ap.reset()
	require.Equal(t, ap.fast, ap.cur)

	start := time.Now()
	ap.sleep() // skipped: should return almost immediately
	require.Less(t, time.Since(start), 2*time.Millisecond)
}

func TestAdaptivePollDefaultsFastWhenZero(t *testing.T) {
	ap := newAdaptivePoll(0, 10*time.Millisecond)
	require.Equal(t, DefaultFastPoll, ap.fast)
}

func TestAdaptivePollClampsSteadyToFast(t *testing.T) {
	ap := newAdaptivePoll(10*time.Millisecond, time.Millisecond)
	require.Equal(t, 10*time.Millisecond, ap.steady)
}
