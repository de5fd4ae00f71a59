package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/radiodrama/internal/bus"
	"github.com/loqalabs/radiodrama/internal/casting"
	"github.com/loqalabs/radiodrama/internal/config"
	"github.com/loqalabs/radiodrama/internal/dialog"
	"github.com/loqalabs/radiodrama/internal/eventstore"
	"github.com/loqalabs/radiodrama/internal/llm"
	"github.com/loqalabs/radiodrama/internal/media"
	"github.com/loqalabs/radiodrama/internal/natsserver"
	"github.com/loqalabs/radiodrama/internal/objectstore"
	"github.com/loqalabs/radiodrama/internal/pipeline"
	"github.com/loqalabs/radiodrama/internal/tta"
	"github.com/loqalabs/radiodrama/internal/tts"
	"github.com/loqalabs/radiodrama/internal/voicebank"
)

// app holds the wired collaborators of one process.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	events  *eventstore.Store
	nats    *natsserver.EmbeddedServer
	bus     *bus.Client
	objects *objectstore.NatsObjectStore
	bank    *voicebank.Bank
	cast    *casting.Casting
	rec     *pipeline.Recorder
	pipe    *pipeline.Pipeline

	// castingRun owns the eviction events of this process.
	castingRun string
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, serving bool) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, castingRun: "casting-" + uuid.NewString()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.events, err = eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	if cfg.Bus.Enabled {
		a.nats, err = natsserver.Start(cfg.Bus, logger)
		if err != nil {
			return nil, err
		}
		busCfg := cfg.Bus
		if a.nats != nil && len(busCfg.Servers) == 0 {
			busCfg.Servers = []string{a.nats.ClientURL()}
		}
		a.bus, err = bus.Connect(ctx, busCfg, cfg.RuntimeName, logger)
		if err != nil {
			return nil, err
		}
		if cfg.ObjectStore.Enabled {
			a.objects, err = objectstore.New(a.bus.JetStream(), cfg.ObjectStore.Bucket)
			if err != nil {
				return nil, err
			}
		}
	}

	bank, err := voicebank.Load(cfg.Casting.VoiceDir)
	if err != nil {
		return nil, err
	}
	seed, err := casting.LoadSeed(cfg.Casting.SeedFile)
	if err != nil {
		return nil, err
	}
	if err := a.events.AppendRun(ctx, a.castingRun, cfg.Casting.SeedFile, "running"); err != nil {
		logger.Warn("failed to record casting run", slog.String("error", err.Error()))
	}
	a.bank = bank
	a.cast, err = casting.New(bank, seed,
		casting.WithLogger(logger),
		casting.WithEvictionHook(a.recordEviction))
	if err != nil {
		return nil, fmt.Errorf("casting: %w", err)
	}
	logger.Info("casting loaded",
		slog.Int("voices", bank.Len()),
		slog.Any("assignments", casting.Summary(a.cast.Snapshot())))

	gen, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	extractor := dialog.NewExtractor(gen, llm.OptionsFromConfig(cfg.LLM), cfg.Casting.NarratorName, cfg.TTA.MaxSeconds, logger)
	synth, err := tts.New(cfg.TTS)
	if err != nil {
		return nil, err
	}
	sounds, err := tta.New(cfg.TTA)
	if err != nil {
		return nil, err
	}
	tool, err := media.New(cfg.Media.Command, cfg.Media.SampleRate, cfg.Media.Channels, logger)
	if err != nil {
		return nil, err
	}

	a.rec = pipeline.NewRecorder(a.events, a.bus, logger)
	deps := pipeline.Deps{
		Extractor: extractor,
		Synth:     synth,
		Sounds:    sounds,
		Media:     tool,
		Bank:      bank,
		Recorder:  a.rec,
		Logger:    logger,
	}
	if a.objects != nil {
		deps.Uploader = a.objects
	}
	a.pipe, err = pipeline.New(cfg, deps)
	if err != nil {
		return nil, err
	}

	logger.Info("radiodrama ready",
		slog.String("runtime", cfg.RuntimeName),
		slog.String("environment", cfg.Environment),
		slog.Bool("bus", a.bus != nil),
		slog.Bool("object_store", a.objects != nil),
		slog.Bool("serving", serving))
	return a, nil
}

func (a *app) recordEviction(ev casting.Eviction) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = a.events.AppendEvent(ctx, eventstore.Event{
		RunID:   a.castingRun,
		Stage:   "casting",
		Type:    "eviction",
		Payload: payload,
	})
	if err != nil {
		a.logger.Warn("failed to record eviction", slog.String("error", err.Error()))
	}
}

// voices counts the bank per partition for presence announcements.
func (a *app) voices() map[string]int {
	return map[string]int{
		string(dialog.Male):   len(a.bank.Keys(dialog.Male)),
		string(dialog.Female): len(a.bank.Keys(dialog.Female)),
	}
}

func (a *app) saveSeed() {
	if a.cfg.Casting.SeedFile == "" {
		return
	}
	if err := casting.SaveSeed(a.cfg.Casting.SeedFile, a.cast.Snapshot()); err != nil {
		a.logger.Warn("failed to save casting", slog.String("file", a.cfg.Casting.SeedFile), slog.String("error", err.Error()))
	}
}

func (a *app) close() {
	ctx := context.Background()
	if a.events != nil && a.castingRun != "" {
		_ = a.events.AppendRun(ctx, a.castingRun, a.cfg.Casting.SeedFile, "done")
	}
	if a.bus != nil {
		a.bus.Close()
	}
	a.nats.Shutdown()
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("failed to close event store", slog.String("error", err.Error()))
		}
	}
}
