package timbre_test

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/loqalabs/radiodrama/internal/timbre"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustResolve(t *testing.T, a *timbre.Allocator, key string) string {
	t.Helper()
	value, err := a.Resolve(key)
	require.NoError(t, err)
	return value
}

func TestResolveEvictsLeastRecentlyUsed(t *testing.T) {
	a, err := timbre.New([]string{"a", "b", "c", "d", "e"}, nil)
	require.NoError(t, err)

	for i, want := range []string{"e", "d", "c", "b", "a"} {
		assert.Equal(t, want, mustResolve(t, a, fmt.Sprint(i+1)))
	}
	assert.Equal(t, "e", mustResolve(t, a, "1"))
	assert.Equal(t, "d", mustResolve(t, a, "2"))
	assert.Equal(t, []string{"2", "1", "5", "4", "3"}, a.Residents())

	assert.Equal(t, "c", mustResolve(t, a, "6"))
	assert.Equal(t, []string{"6", "2", "1", "5", "4"}, a.Residents())
	assert.NotContains(t, a.Snapshot(), "3")
}

func TestResolveIsStableWhileResident(t *testing.T) {
	a, err := timbre.New([]string{"a", "b", "c"}, nil)
	require.NoError(t, err)

	first := mustResolve(t, a, "hero")
	for i := 0; i < 10; i++ {
		mustResolve(t, a, fmt.Sprintf("extra-%d", i%2))
		assert.Equal(t, first, mustResolve(t, a, "hero"))
	}
}

func TestResolveTouchNeverEvicts(t *testing.T) {
	a, err := timbre.New([]string{"a", "b"}, nil)
	require.NoError(t, err)

	var evictions int
	a2, err := timbre.New([]string{"a", "b"}, nil, timbre.WithObserver(timbre.ObserverFunc(func(string, string, string) { evictions++ })))
	require.NoError(t, err)

	for _, alloc := range []*timbre.Allocator{a, a2} {
		mustResolve(t, alloc, "x")
		mustResolve(t, alloc, "y")
		for i := 0; i < 5; i++ {
			mustResolve(t, alloc, "x")
			mustResolve(t, alloc, "y")
		}
		assert.Len(t, alloc.Snapshot(), 2)
	}
	assert.Zero(t, evictions)
}

func TestSeedIsRespected(t *testing.T) {
	seed := map[string]string{"alice": "a"}
	a, err := timbre.New([]string{"a", "b"}, seed)
	require.NoError(t, err)

	assert.Equal(t, "a", mustResolve(t, a, "alice"))
	assert.Equal(t, "b", mustResolve(t, a, "bob"))

	mustResolve(t, a, "carol")
	assert.Equal(t, map[string]string{"alice": "a"}, seed, "caller's seed must not be mutated")
}

func TestSeededKeysAreEvictable(t *testing.T) {
	a, err := timbre.New([]string{"a", "b"}, map[string]string{"alice": "a", "bob": "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "alice"}, a.Residents())

	assert.Equal(t, "a", mustResolve(t, a, "carol"))
	assert.Equal(t, map[string]string{"bob": "b", "carol": "a"}, a.Snapshot())
}

func TestSnapshotIsIdempotentCopy(t *testing.T) {
	a, err := timbre.New([]string{"a", "b", "c"}, nil)
	require.NoError(t, err)
	mustResolve(t, a, "x")
	mustResolve(t, a, "y")

	first := a.Snapshot()
	second := a.Snapshot()
	assert.Equal(t, first, second)

	first["x"] = "tampered"
	assert.NotEqual(t, "tampered", a.Snapshot()["x"])
	assert.Equal(t, []string{"y", "x"}, a.Residents(), "snapshot must not reorder the track")
}

func TestNewRejectsBadCandidates(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
	}{
		{name: "empty", candidates: nil},
		{name: "blank", candidates: []string{"a", ""}},
		{name: "duplicate", candidates: []string{"a", "b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := timbre.New(tt.candidates, nil)
			require.ErrorIs(t, err, timbre.ErrConfiguration)
		})
	}
}

func TestNewRejectsBadSeed(t *testing.T) {
	_, err := timbre.New([]string{"a", "b"}, map[string]string{"alice": "z"})
	require.ErrorIs(t, err, timbre.ErrInvalidSeed)

	_, err = timbre.New([]string{"a", "b"}, map[string]string{"alice": "a", "bob": "a"})
	require.ErrorIs(t, err, timbre.ErrInvalidSeed)
}

func TestZeroValueIsExhausted(t *testing.T) {
	var a timbre.Allocator
	_, err := a.Resolve("anyone")
	require.ErrorIs(t, err, timbre.ErrCapacityExhausted)
	assert.Empty(t, a.Snapshot())
	assert.Zero(t, a.Capacity())
}

func TestObserverSeesEviction(t *testing.T) {
	type eviction struct{ evicted, timbre, successor string }
	var got []eviction
	a, err := timbre.New([]string{"a"}, nil, timbre.WithObserver(timbre.ObserverFunc(func(evicted, value, successor string) {
		got = append(got, eviction{evicted, value, successor})
	})))
	require.NoError(t, err)

	mustResolve(t, a, "x")
	mustResolve(t, a, "y")
	mustResolve(t, a, "y")
	mustResolve(t, a, "x")

	assert.Equal(t, []eviction{{"x", "a", "y"}, {"y", "a", "x"}}, got)
}

func TestInvariantsUnderRandomOrderings(t *testing.T) {
	candidates := []string{"a", "b", "c", "d"}
	valid := map[string]bool{}
	for _, c := range candidates {
		valid[c] = true
	}
	a, err := timbre.New(candidates, nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	model := map[string]string{}
	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("k%d", rng.Intn(12))
		value := mustResolve(t, a, key)
		require.True(t, valid[value])
		if prev, ok := model[key]; ok {
			require.Equal(t, prev, value)
		}

		model = a.Snapshot()
		require.LessOrEqual(t, len(model), len(candidates))
		seen := map[string]string{}
		for k, v := range model {
			other, dup := seen[v]
			require.Falsef(t, dup, "timbre %s held by %s and %s", v, k, other)
			seen[v] = k
		}
		residents := a.Residents()
		require.Len(t, residents, len(model))
		require.Equal(t, key, residents[0])
		for _, k := range residents {
			require.Contains(t, model, k)
		}
	}
}

func TestConcurrentResolve(t *testing.T) {
	a, err := timbre.New([]string{"a", "b", "c", "d", "e", "f"}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_, err := a.Resolve(fmt.Sprintf("c%d", (w*31+i)%20))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	snap := a.Snapshot()
	assert.Len(t, snap, 6)
	values := map[string]bool{}
	for _, v := range snap {
		values[v] = true
	}
	assert.Len(t, values, 6)
}
