package presence

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/radiodrama/internal/bus"
	"github.com/loqalabs/radiodrama/internal/config"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connect(t *testing.T, url, name string) *bus.Client {
	t.Helper()
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{url}, ConnectTimeout: 2000}, name, newLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestWorkersSeeEachOther(t *testing.T) {
	opts := test.DefaultTestOptions
	opts.Port = -1
	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	cfgA := config.PresenceConfig{NodeID: "a", HeartbeatInterval: 50, HeartbeatTimeout: 500}
	a, err := New(context.Background(), cfgA, connect(t, srv.ClientURL(), "a"), []string{"text", "speech"}, map[string]int{"male": 2}, func() int { return 3 }, newLogger())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.True(t, a.Healthy())

	cfgB := config.PresenceConfig{NodeID: "b", HeartbeatInterval: 50, HeartbeatTimeout: 500}
	b, err := New(context.Background(), cfgB, connect(t, srv.ClientURL(), "b"), []string{"merge"}, nil, nil, newLogger())
	require.NoError(t, err)
	t.Cleanup(b.Close)

	// b announced after a subscribed, so a learns b's stages directly.
	require.Eventually(t, func() bool {
		return len(a.Workers(WithStage("merge"))) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// b only learns about a from heartbeats.
	require.Eventually(t, func() bool {
		ws := b.Workers(func(w Worker) bool { return w.ID == "a" })
		return len(ws) == 1 && ws[0].ActiveJobs == 3
	}, 2*time.Second, 10*time.Millisecond)

	all := a.Workers(nil)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, map[string]int{"male": 2}, all[0].Voices)
	assert.Equal(t, []string{"merge"}, all[1].Stages)
	assert.Empty(t, a.Workers(WithStage("ambience")))
}

func TestEvaluateHealthMarksSilentWorkers(t *testing.T) {
	r := &Registry{
		cfg:     config.PresenceConfig{NodeID: "self", HeartbeatTimeout: 1000},
		log:     newLogger(),
		workers: map[string]*Worker{},
	}
	now := time.Now()
	r.workers["self"] = &Worker{ID: "self", LastSeen: now, Healthy: true}
	r.workers["gone"] = &Worker{ID: "gone", Stages: []string{"speech"}, LastSeen: now.Add(-2 * time.Second), Healthy: true}

	r.evaluateHealth(now)

	assert.True(t, r.Healthy())
	assert.Empty(t, r.Workers(WithStage("speech")))
	known, healthy := r.counts()
	assert.Equal(t, int64(2), known)
	assert.Equal(t, int64(1), healthy)
}

func TestNewRequiresBus(t *testing.T) {
	_, err := New(context.Background(), config.PresenceConfig{NodeID: "x", HeartbeatInterval: 1, HeartbeatTimeout: 2}, nil, nil, nil, nil, newLogger())
	assert.Error(t, err)
}
