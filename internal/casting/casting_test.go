package casting

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/radiodrama/internal/dialog"
	"github.com/loqalabs/radiodrama/internal/timbre"
	"github.com/loqalabs/radiodrama/internal/voicebank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newBank(t *testing.T) *voicebank.Bank {
	t.Helper()
	bank, err := voicebank.New([]voicebank.Voice{
		{Key: "male1", Gender: dialog.Male},
		{Key: "male2", Gender: dialog.Male},
		{Key: "female1", Gender: dialog.Female},
	})
	require.NoError(t, err)
	return bank
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestAssignUsesPartitions(t *testing.T) {
	c, err := New(newBank(t), nil, WithLogger(newLogger()))
	require.NoError(t, err)

	her, err := c.Assign("Nalan", dialog.Female)
	require.NoError(t, err)
	assert.Equal(t, "female1", her)

	him, err := c.Assign("Xiao Yan", dialog.Male)
	require.NoError(t, err)
	assert.Equal(t, "male2", him, "free pool pops from the end of the sorted keys")

	assert.Equal(t, map[string]string{"Nalan": "female1", "Xiao Yan": "male2"}, c.Snapshot())
}

func TestSeedSplitAcrossPartitions(t *testing.T) {
	c, err := New(newBank(t), map[string]string{"Nalan": "female1", "Elder": "male1"}, WithLogger(newLogger()))
	require.NoError(t, err)

	got, err := c.Assign("Elder", dialog.Male)
	require.NoError(t, err)
	assert.Equal(t, "male1", got)

	got, err = c.Assign("Xiao Yan", dialog.Male)
	require.NoError(t, err)
	assert.Equal(t, "male2", got)
}

func TestSeedWithUnknownVoice(t *testing.T) {
	_, err := New(newBank(t), map[string]string{"Nalan": "female9"}, WithLogger(newLogger()))
	require.ErrorIs(t, err, timbre.ErrInvalidSeed)
}

func TestEmptyPartitionIsExhausted(t *testing.T) {
	bank, err := voicebank.New([]voicebank.Voice{{Key: "male1", Gender: dialog.Male}})
	require.NoError(t, err)
	c, err := New(bank, nil, WithLogger(newLogger()))
	require.NoError(t, err)

	_, err = c.Assign("Nalan", dialog.Female)
	require.ErrorIs(t, err, timbre.ErrCapacityExhausted)

	_, err = c.Assign("Robot", dialog.Gender("other"))
	require.Error(t, err)
}

func TestEvictionHookAndMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var evictions []Eviction
	c, err := New(newBank(t), nil,
		WithLogger(newLogger()),
		WithMeter(provider.Meter("test")),
		WithEvictionHook(func(e Eviction) { evictions = append(evictions, e) }),
	)
	require.NoError(t, err)

	for _, who := range []string{"a", "b", "c"} {
		_, err := c.Assign(who, dialog.Male)
		require.NoError(t, err)
	}

	require.Len(t, evictions, 1)
	assert.Equal(t, Eviction{Partition: dialog.Male, Character: "a", Timbre: "male2", Successor: "c"}, evictions[0])
	assert.Equal(t, []string{"c", "b"}, c.Characters(dialog.Male))
	assert.Equal(t, int64(3), counterTotal(t, reader, "drama.timbre.resolves"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "drama.timbre.evictions"))
}

func TestSlowEvictionHookDoesNotHoldPool(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	c, err := New(newBank(t), nil,
		WithLogger(newLogger()),
		WithEvictionHook(func(Eviction) {
			close(entered)
			<-release
		}),
	)
	require.NoError(t, err)
	for _, who := range []string{"a", "b"} {
		_, err := c.Assign(who, dialog.Male)
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Assign("c", dialog.Male)
		done <- err
	}()
	<-entered

	// The hook for c's eviction of a is still blocked here.
	start := time.Now()
	voice, err := c.Assign("b", dialog.Male)
	require.NoError(t, err)
	assert.Equal(t, "male1", voice)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.NoError(t, <-done)
	assert.ElementsMatch(t, []string{"b", "c"}, c.Characters(dialog.Male))
}

func TestSeedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "role_timbre.json")

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Empty(t, seed)

	want := map[string]string{"纳兰嫣然": "female1", "Xiao Yan": "male2"}
	require.NoError(t, SaveSeed(path, want))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "纳兰嫣然", "non-ASCII names are written verbatim")

	got, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadSeedMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := LoadSeed(path)
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, []string{"a=x", "b=y"}, Summary(map[string]string{"b": "y", "a": "x"}))
}
