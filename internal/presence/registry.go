// Package presence tracks which radiodrama workers are serving jobs on the
// bus. Each worker announces its stages and voice bank once, then heartbeats
// with its current load; peers that stop heartbeating are marked unhealthy.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/radiodrama/internal/bus"
	"github.com/loqalabs/radiodrama/internal/config"
	"github.com/loqalabs/radiodrama/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Worker is the last known state of one node.
type Worker struct {
	ID         string
	Stages     []string
	Voices     map[string]int
	ActiveJobs int
	LastSeen   time.Time
	Healthy    bool
}

// Load reports how many jobs the local worker is running.
type Load func() int

type Registry struct {
	cfg   config.PresenceConfig
	log   *slog.Logger
	bus   *bus.Client
	local protocol.WorkerAnnounce
	load  Load

	mu      sync.RWMutex
	workers map[string]*Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
}

// New subscribes to peer announcements, announces the local worker and starts
// heartbeating. load may be nil.
func New(ctx context.Context, cfg config.PresenceConfig, busClient *bus.Client, stages []string, voices map[string]int, load Load, log *slog.Logger) (*Registry, error) {
	if busClient == nil {
		return nil, errors.New("presence requires bus client")
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatTimeout <= 0 {
		return nil, errors.New("presence heartbeat interval and timeout must be positive")
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg: cfg,
		log: log.With(slog.String("component", "presence")),
		bus: busClient,
		local: protocol.WorkerAnnounce{
			NodeID: cfg.NodeID,
			Stages: append([]string(nil), stages...),
			Voices: voices,
		},
		load:    load,
		workers: make(map[string]*Worker),
		cancel:  cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if err := r.subscribe(); err != nil {
		cancel()
		return nil, err
	}
	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce worker", slog.String("error", err.Error()))
	}

	r.wg.Add(1)
	go r.loop(ctx)
	return r, nil
}

func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectWorkerAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectWorkerHeartbeat+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) loop(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()
	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		case <-sweep.C:
			r.evaluateHealth(time.Now())
		}
	}
}

func (r *Registry) announce() error {
	msg := r.local
	msg.Timestamp = time.Now().UTC()
	if err := r.bus.PublishJSON(protocol.SubjectWorkerAnnounce, msg); err != nil {
		return err
	}
	r.updateAnnounce(msg)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := protocol.WorkerHeartbeat{NodeID: r.cfg.NodeID, Timestamp: time.Now().UTC()}
	if r.load != nil {
		msg.ActiveJobs = r.load()
	}
	return r.bus.PublishJSON(protocol.HeartbeatSubject(r.cfg.NodeID), msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var a protocol.WorkerAnnounce
	if err := json.Unmarshal(msg.Data, &a); err != nil || a.NodeID == "" {
		r.log.Warn("invalid announce message", slog.String("subject", msg.Subject))
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	r.updateAnnounce(a)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.WorkerHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil || hb.NodeID == "" {
		r.log.Warn("invalid heartbeat message", slog.String("subject", msg.Subject))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.worker(hb.NodeID)
	w.ActiveJobs = hb.ActiveJobs
	w.LastSeen = hb.Timestamp
	w.Healthy = true
}

func (r *Registry) updateAnnounce(a protocol.WorkerAnnounce) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.worker(a.NodeID)
	w.Stages = a.Stages
	w.Voices = a.Voices
	w.LastSeen = a.Timestamp
	w.Healthy = true
}

// worker must be called with mu held.
func (r *Registry) worker(id string) *Worker {
	w, ok := r.workers[id]
	if !ok {
		w = &Worker{ID: id}
		r.workers[id] = w
	}
	return w
}

func (r *Registry) evaluateHealth(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	for _, w := range r.workers {
		if w.Healthy && now.Sub(w.LastSeen) > timeout {
			w.Healthy = false
			r.log.Warn("worker stopped heartbeating", slog.String("node_id", w.ID), slog.Time("last_seen", w.LastSeen))
		}
	}
}

// Healthy reports whether the local worker still sees its own heartbeats.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[r.cfg.NodeID]
	return ok && w.Healthy
}

// Workers returns the known workers matching filter, sorted by id.
func (r *Registry) Workers(filter func(Worker) bool) []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Worker
	for _, w := range r.workers {
		c := *w
		if filter == nil || filter(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithStage matches healthy workers that run stage.
func WithStage(stage string) func(Worker) bool {
	return func(w Worker) bool {
		if !w.Healthy {
			return false
		}
		for _, s := range w.Stages {
			if s == stage {
				return true
			}
		}
		return false
	}
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/radiodrama/presence")
	known, err := meter.Int64ObservableGauge("drama.workers.known", metric.WithDescription("Workers seen on the bus"))
	if err != nil {
		return err
	}
	healthy, err := meter.Int64ObservableGauge("drama.workers.healthy", metric.WithDescription("Workers with a recent heartbeat"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		n, h := r.counts()
		obs.ObserveInt64(known, n)
		obs.ObserveInt64(healthy, h)
		return nil
	}, known, healthy)
	return err
}

func (r *Registry) counts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var healthy int64
	for _, w := range r.workers {
		if w.Healthy {
			healthy++
		}
	}
	return int64(len(r.workers)), healthy
}
