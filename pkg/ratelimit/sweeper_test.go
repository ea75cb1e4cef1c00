package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgelimit/edgelimit/pkg/ratelimit"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/clock"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/store"
)

func TestSweeper_SweepOnceDropsStaleKeys(t *testing.T) {
	mem := store.NewMemoryStore()
	manual := clock.NewManual(time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC))
	admission := ratelimit.NewAdmission(mem, newRegistry(t, baseConfig()), testLogger(), &ratelimit.Options{Clock: manual})
	sweeper := ratelimit.NewSweeper(mem, admission, manual, testLogger(), time.Minute)

	require.True(t, admission.CheckLimit(context.Background(), "stale-user", "api", "").Allowed)
	manual.Advance(10 * time.Minute)
	require.True(t, admission.CheckLimit(context.Background(), "fresh-user", "auth", "").Allowed)

	// Another 6 minutes on, the sweep horizon (widest window, auth's 15m) has
	// passed the first entry but not the second.
	manual.Advance(6 * time.Minute)
	sweeper.SweepOnce(context.Background())

	// Probe with an oversized window so a merely-expired entry would still
	// show up; only an actually removed key reads zero.
	probe, err := mem.Usage(context.Background(), admission.Key("stale-user", "api"), manual.Now(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), probe.Count, "stale key should be gone, not just expired")

	usage, err := admission.GetUsage(context.Background(), "fresh-user", "auth")
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Count, "entries inside the widest window survive the sweep")
}

func TestSweeper_StoreFailureOnlyLogs(t *testing.T) {
	manual := clock.NewManual(time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC))
	admission := ratelimit.NewAdmission(failingStore{}, newRegistry(t, baseConfig()), testLogger(), &ratelimit.Options{Clock: manual})
	sweeper := ratelimit.NewSweeper(failingStore{}, admission, manual, testLogger(), time.Minute)

	assert.NotPanics(t, func() {
		sweeper.SweepOnce(context.Background())
	})
}
