package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/radiodrama/internal/bus"
	"github.com/loqalabs/radiodrama/internal/casting"
	"github.com/loqalabs/radiodrama/internal/config"
	"github.com/loqalabs/radiodrama/internal/dialog"
	"github.com/loqalabs/radiodrama/internal/pipeline"
	"github.com/loqalabs/radiodrama/internal/protocol"
	"github.com/loqalabs/radiodrama/internal/voicebank"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRunner struct {
	results string
	release chan struct{}

	mu      sync.Mutex
	outputs []string
	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeRunner) Layout(source string) pipeline.Layout {
	return pipeline.NewLayout(f.results, source)
}

func (f *fakeRunner) Run(ctx context.Context, runID, source string, stages []string, cast *casting.Casting, output string) (pipeline.Result, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.outputs = append(f.outputs, output)
	f.mu.Unlock()
	if source == "broken.txt" {
		return pipeline.Result{}, errors.New("speech stage exploded")
	}
	timbre, err := cast.Assign("narrator", dialog.Male)
	if err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{Outputs: []string{output}, Timbres: map[string]string{"narrator": timbre}}, nil
}

func (f *fakeRunner) Outputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.outputs...)
}

type fixture struct {
	client *bus.Client
	done   chan *nats.Msg
	seed   string
	runner *fakeRunner
}

func setup(t *testing.T, concurrency int, runner *fakeRunner) (*fixture, *Service) {
	t.Helper()
	opts := test.DefaultTestOptions
	opts.Port = -1
	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	cfg := config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}
	client, err := bus.Connect(context.Background(), cfg, "jobs-test", newLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	done := make(chan *nats.Msg, 16)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectJobDone, done)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	bank, err := voicebank.New([]voicebank.Voice{{Key: "male1", Gender: dialog.Male}})
	require.NoError(t, err)
	cast, err := casting.New(bank, nil, casting.WithLogger(newLogger()))
	require.NoError(t, err)

	dir := t.TempDir()
	runner.results = filepath.Join(dir, "results")
	seed := filepath.Join(dir, "role_timbre.json")
	svc, err := New(context.Background(), config.JobsConfig{Enabled: true, Concurrency: concurrency}, client, runner, cast, seed, newLogger())
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	require.NoError(t, client.Conn().Flush())

	return &fixture{client: client, done: done, seed: seed, runner: runner}, svc
}

func (f *fixture) request(t *testing.T, req protocol.JobRequest) {
	t.Helper()
	require.NoError(t, f.client.PublishJSON(protocol.SubjectJobRequest, req))
}

func (f *fixture) next(t *testing.T) protocol.JobStatus {
	t.Helper()
	select {
	case msg := <-f.done:
		var status protocol.JobStatus
		require.NoError(t, json.Unmarshal(msg.Data, &status))
		return status
	case <-time.After(5 * time.Second):
		t.Fatal("no job status published")
		return protocol.JobStatus{}
	}
}

func TestDisabledServiceIsNil(t *testing.T) {
	svc, err := New(context.Background(), config.JobsConfig{Enabled: false}, nil, nil, nil, "", newLogger())
	require.NoError(t, err)
	assert.Nil(t, svc)
	assert.False(t, svc.Healthy())
	svc.Close()
}

func TestJobCompletesAndSavesCasting(t *testing.T) {
	f, svc := setup(t, 1, &fakeRunner{})
	assert.True(t, svc.Healthy())

	f.request(t, protocol.JobRequest{JobID: "job-1", Source: "/books/chapter1.txt"})
	status := f.next(t)

	assert.True(t, status.Completed)
	assert.Equal(t, "job-1", status.JobID)
	assert.Equal(t, map[string]string{"narrator": "male1"}, status.Timbres)
	assert.Equal(t, []string{filepath.Join(f.runner.results, "chapter1.wav")}, status.Outputs)

	seed, err := casting.LoadSeed(f.seed)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"narrator": "male1"}, seed)
}

func TestJobFailureIsReported(t *testing.T) {
	f, _ := setup(t, 1, &fakeRunner{})

	f.request(t, protocol.JobRequest{Source: "broken.txt", Output: "custom.wav"})
	status := f.next(t)
	assert.False(t, status.Completed)
	assert.NotEmpty(t, status.JobID)
	assert.Contains(t, status.Error, "exploded")
	assert.Equal(t, []string{"custom.wav"}, f.runner.Outputs())

	f.request(t, protocol.JobRequest{JobID: "empty"})
	status = f.next(t)
	assert.False(t, status.Completed)
	assert.Equal(t, "job request has no source", status.Error)
}

func TestRequestReply(t *testing.T) {
	f, _ := setup(t, 1, &fakeRunner{})
	data, err := json.Marshal(protocol.JobRequest{JobID: "rr", Source: "a.txt"})
	require.NoError(t, err)

	msg, err := f.client.Conn().Request(protocol.SubjectJobRequest, data, 5*time.Second)
	require.NoError(t, err)
	var status protocol.JobStatus
	require.NoError(t, json.Unmarshal(msg.Data, &status))
	assert.Equal(t, "rr", status.JobID)
	assert.True(t, status.Completed)
}

func TestConcurrencyIsBounded(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	f, _ := setup(t, 2, runner)

	for i := 0; i < 4; i++ {
		f.request(t, protocol.JobRequest{Source: "a.txt"})
	}
	require.Eventually(t, func() bool { return runner.running.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
	close(runner.release)
	for i := 0; i < 4; i++ {
		assert.True(t, f.next(t).Completed)
	}
	assert.Equal(t, int32(2), runner.peak.Load())
}

func TestCloseWhileServing(t *testing.T) {
	f, svc := setup(t, 2, &fakeRunner{})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = svc.Healthy()
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = f.client.PublishJSON(protocol.SubjectJobRequest, protocol.JobRequest{Source: "/books/loop.txt"})
				time.Sleep(time.Millisecond)
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	svc.Close()
	close(stop)
	wg.Wait()
	assert.False(t, svc.Healthy())

	ran := len(f.runner.Outputs())
	f.request(t, protocol.JobRequest{Source: "/books/late.txt"})
	require.NoError(t, f.client.Conn().Flush())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.runner.Outputs(), ran, "no job starts after Close returns")
}
