package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReloadBackoffSchedule(t *testing.T) {
	// Spec §8 scenario 5: initial=100, multiplier=2, max=500; retries at
	// approximately T0, T0+100, T0+300, T0+700, then every 500ms.
	opts := normalizeBackoff(ReloadOptions{Initial: 100 * time.Millisecond, Multiplier: 2, Max: 500 * time.Millisecond})

	delay := opts.Initial
	require.Equal(t, 100*time.Millisecond, delay)

	delay = nextDelay(delay, opts)
	require.Equal(t, 200*time.Millisecond, delay)

	delay = nextDelay(delay, opts)
	require.Equal(t, 400*time.Millisecond, delay)

	delay = nextDelay(delay, opts)
	require.Equal(t, 500*time.Millisecond, delay) // capped at Max

	delay = nextDelay(delay, opts)
	require.Equal(t, 500*time.Millisecond, delay) // stays capped
}

func TestNormalizeBackoffDefaults(t *testing.T) {
	opts := normalizeBackoff(ReloadOptions{})
	require.Equal(t, time.Second, opts.Initial)
	require.Equal(t, 2.0, opts.Multiplier)
	require.Equal(t, 30*time.Second, opts.Max)
}

func TestReloadStopBeforeStartIsNoop(t *testing.T) {
	r := NewReload("https://example.invalid/anon", DefaultConnectOptions(), DefaultReloadOptions())
	require.Equal(t, StateDisconnected, r.State())
	r.Stop()
	require.Equal(t, StateDisconnected, r.State())
	require.Nil(t, r.Connection())
}
