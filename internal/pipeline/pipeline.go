// Package pipeline turns a story text into a mixed radio drama in four
// resumable stages: text extraction, speech, ambience and merge. Every stage
// reads its inputs from and writes its outputs to the results directory, and
// skips work whose output already exists.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/radiodrama/internal/config"
	"github.com/loqalabs/radiodrama/internal/dialog"
	"github.com/loqalabs/radiodrama/internal/tta"
	"github.com/loqalabs/radiodrama/internal/tts"
	"github.com/loqalabs/radiodrama/internal/voicebank"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	StageText     = "text"
	StageSpeech   = "speech"
	StageAmbience = "ambience"
	StageMerge    = "merge"
)

// ErrMissingInput is returned when a stage runs before the one feeding it.
var ErrMissingInput = errors.New("pipeline: missing stage input")

// Mixer is the audio editing the stages need. *media.Tool implements it.
type Mixer interface {
	Silence(ctx context.Context, seconds float64, out string) error
	Concat(ctx context.Context, inputs []string, out string, fades []float64) error
	Mix(ctx context.Context, inputs []string, out string) error
	ScaleVolume(ctx context.Context, in, out string, factor float64) error
	Monologue(ctx context.Context, in, out string) error
}

// Uploader publishes finished tracks. *objectstore.NatsObjectStore implements it.
type Uploader interface {
	UploadFile(ctx context.Context, key, path string) error
}

// Deps are the collaborators of a Pipeline. Uploader, Recorder and Meter may
// be nil.
type Deps struct {
	Extractor *dialog.Extractor
	Synth     tts.Synthesizer
	Sounds    tta.Generator
	Media     Mixer
	Bank      *voicebank.Bank
	Uploader  Uploader
	Recorder  *Recorder
	Meter     metric.Meter
	Logger    *slog.Logger
}

type Pipeline struct {
	cfg        config.PipelineConfig
	narrator   string
	unknown    dialog.Gender
	maxAmbient float64

	extractor *dialog.Extractor
	synth     tts.Synthesizer
	sounds    tta.Generator
	media     Mixer
	bank      *voicebank.Bank
	uploader  Uploader
	recorder  *Recorder
	logger    *slog.Logger

	lines metric.Int64Counter
}

func New(cfg config.Config, deps Deps) (*Pipeline, error) {
	if deps.Extractor == nil || deps.Synth == nil || deps.Sounds == nil || deps.Media == nil || deps.Bank == nil {
		return nil, errors.New("pipeline: extractor, synthesizer, sound generator, media and voice bank are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	unknown := dialog.ParseGender(cfg.Casting.UnknownGender)
	if unknown == "" {
		unknown = dialog.Male
	}
	p := &Pipeline{
		cfg:        cfg.Pipeline,
		narrator:   cfg.Casting.NarratorName,
		unknown:    unknown,
		maxAmbient: float64(cfg.TTA.MaxSeconds),
		extractor:  deps.Extractor,
		synth:      deps.Synth,
		sounds:     deps.Sounds,
		media:      deps.Media,
		bank:       deps.Bank,
		uploader:   deps.Uploader,
		recorder:   deps.Recorder,
		logger:     logger.With(slog.String("component", "pipeline")),
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter("github.com/loqalabs/radiodrama/pipeline")
	}
	counter, err := meter.Int64Counter("drama.pipeline.lines", metric.WithDescription("Dialog lines synthesized"))
	if err != nil {
		p.logger.Warn("failed to create metric", slog.String("error", err.Error()))
	} else {
		p.lines = counter
	}
	return p, nil
}

// Layout is where the stages keep the files of source.
func (p *Pipeline) Layout(source string) Layout {
	return NewLayout(p.cfg.ResultsDir, source)
}

func (p *Pipeline) upload(ctx context.Context, layout Layout, path string) {
	if p.uploader == nil {
		return
	}
	key := layout.ObjectKey(path)
	if err := p.uploader.UploadFile(ctx, key, path); err != nil {
		p.logger.Warn("failed to upload track", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	attrs := []any{slog.String("key", key)}
	if info, err := os.Stat(path); err == nil {
		attrs = append(attrs, slog.String("size", humanize.Bytes(uint64(info.Size()))))
	}
	p.logger.Info("track uploaded", attrs...)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingInput, path)
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// writeJSON keeps non-ASCII text readable and indents by four spaces.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
