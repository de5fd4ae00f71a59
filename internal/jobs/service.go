// Package jobs runs pipeline requests received over the bus.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/radiodrama/internal/bus"
	"github.com/loqalabs/radiodrama/internal/casting"
	"github.com/loqalabs/radiodrama/internal/config"
	"github.com/loqalabs/radiodrama/internal/pipeline"
	"github.com/loqalabs/radiodrama/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Runner is the part of *pipeline.Pipeline the service drives.
type Runner interface {
	Layout(source string) pipeline.Layout
	Run(ctx context.Context, runID, source string, stages []string, cast *casting.Casting, output string) (pipeline.Result, error)
}

// Service executes jobs with bounded concurrency. All jobs share one casting
// so characters keep their voices across chapters, and the casting is saved
// to seedFile after every job.
type Service struct {
	cfg      config.JobsConfig
	log      *slog.Logger
	bus      *bus.Client
	runner   Runner
	cast     *casting.Casting
	seedFile string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sema   chan struct{}
	seedMu sync.Mutex

	sub     *nats.Subscription
	active  metric.Int64UpDownCounter
	running atomic.Int64
	healthy atomic.Bool

	closeMu sync.Mutex
	closed  bool
}

// New subscribes to job requests. When cfg.Enabled is false, nil is returned.
func New(ctx context.Context, cfg config.JobsConfig, busClient *bus.Client, runner Runner, cast *casting.Casting, seedFile string, logger *slog.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if busClient == nil {
		return nil, errors.New("jobs service requires bus client")
	}
	if runner == nil || cast == nil {
		return nil, errors.New("jobs service requires a pipeline and a casting")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	cctx, cancel := context.WithCancel(ctx)
	svc := &Service{
		cfg:      cfg,
		log:      logger.With(slog.String("component", "jobs.service")),
		bus:      busClient,
		runner:   runner,
		cast:     cast,
		seedFile: seedFile,
		ctx:      cctx,
		cancel:   cancel,
		sema:     make(chan struct{}, cfg.Concurrency),
	}
	meter := otel.Meter("github.com/loqalabs/radiodrama/jobs")
	if active, err := meter.Int64UpDownCounter("drama.jobs.active", metric.WithDescription("Jobs currently running")); err == nil {
		svc.active = active
	} else {
		svc.log.Warn("failed to create metric", slog.String("error", err.Error()))
	}

	sub, err := busClient.Conn().Subscribe(protocol.SubjectJobRequest, svc.handle)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", protocol.SubjectJobRequest, err)
	}
	svc.sub = sub
	svc.healthy.Store(true)
	svc.log.Info("jobs service subscribed", slog.String("subject", protocol.SubjectJobRequest), slog.Int("concurrency", cfg.Concurrency))
	return svc, nil
}

// Close stops taking requests and waits for running jobs.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.healthy.Store(false)
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Running is the number of jobs executing right now.
func (s *Service) Running() int {
	if s == nil {
		return 0
	}
	return int(s.running.Load())
}

// Healthy reports whether the service is subscribed.
func (s *Service) Healthy() bool {
	return s != nil && s.healthy.Load()
}

func (s *Service) handle(msg *nats.Msg) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	var req protocol.JobRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode job request", slog.String("error", err.Error()))
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.wg.Add(1)
	s.closeMu.Unlock()
	go func() {
		defer s.wg.Done()
		select {
		case s.sema <- struct{}{}:
		case <-s.ctx.Done():
			return
		}
		defer func() { <-s.sema }()
		s.publish(msg.Reply, s.execute(req))
	}()
}

func (s *Service) execute(req protocol.JobRequest) protocol.JobStatus {
	status := protocol.JobStatus{JobID: req.JobID, Source: req.Source}
	log := s.log.With(slog.String("job_id", req.JobID), slog.String("source", req.Source))
	if strings.TrimSpace(req.Source) == "" {
		status.Error = "job request has no source"
		status.Timestamp = time.Now().UTC()
		return status
	}

	s.running.Add(1)
	defer s.running.Add(-1)
	if s.active != nil {
		s.active.Add(s.ctx, 1)
		defer s.active.Add(context.Background(), -1)
	}

	output := req.Output
	if output == "" {
		layout := s.runner.Layout(req.Source)
		output = filepath.Join(layout.Results, layout.Name+".wav")
	}

	log.Info("job started", slog.Any("stages", req.Stages))
	start := time.Now()
	res, err := s.runner.Run(s.ctx, req.JobID, req.Source, req.Stages, s.cast, output)
	if res.Timbres != nil {
		s.saveSeed(log)
	}
	status.Outputs = res.Outputs
	status.Timbres = res.Timbres
	status.Timestamp = time.Now().UTC()
	if err != nil {
		status.Error = err.Error()
		log.Error("job failed", slog.String("error", err.Error()))
		return status
	}
	status.Completed = true
	log.Info("job complete", slog.Duration("elapsed", time.Since(start)), slog.Int("outputs", len(res.Outputs)))
	return status
}

func (s *Service) saveSeed(log *slog.Logger) {
	if s.seedFile == "" {
		return
	}
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	// Saves the shared casting, which may be ahead of this job's snapshot.
	if err := casting.SaveSeed(s.seedFile, s.cast.Snapshot()); err != nil {
		log.Warn("failed to save casting", slog.String("file", s.seedFile), slog.String("error", err.Error()))
	}
}

func (s *Service) publish(reply string, status protocol.JobStatus) {
	if err := s.bus.PublishJSON(protocol.SubjectJobDone, status); err != nil {
		s.log.Warn("failed to publish job status", slog.String("error", err.Error()))
	}
	if reply != "" {
		if err := s.bus.PublishJSON(reply, status); err != nil {
			s.log.Warn("failed to reply to job request", slog.String("error", err.Error()))
		}
	}
}
