package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/loqalabs/radiodrama/internal/casting"
	"github.com/loqalabs/radiodrama/internal/dialog"
	"github.com/loqalabs/radiodrama/internal/protocol"
	"github.com/loqalabs/radiodrama/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

type speechJob struct {
	idx       int
	line      dialog.Line
	character string
	timbre    string
	output    string
}

// Speech voices every extracted line of source and splices the results,
// separated by their pauses, into speech.wav. Lines whose file already exists
// are neither recast nor resynthesized. The returned map is the casting
// snapshot after the stage, for the caller to persist.
func (p *Pipeline) Speech(ctx context.Context, runID, source string, cast *casting.Casting) (map[string]string, error) {
	layout := p.Layout(source)
	log := p.logger.With(slog.String("stage", StageSpeech), slog.String("chapter", layout.Name))

	var lines []dialog.Line
	if err := readJSON(layout.DialogFile(), &lines); err != nil {
		return nil, err
	}
	var roles []dialog.Role
	if err := readJSON(layout.RoleFile(), &roles); err != nil {
		return nil, err
	}
	var intervals []dialog.Interval
	if err := readJSON(layout.IntervalFile(), &intervals); err != nil {
		return nil, err
	}
	log.Info("speech inputs loaded", slog.Int("lines", len(lines)), slog.Int("roles", len(roles)))
	p.recorder.Record(ctx, protocol.Progress{RunID: runID, Stage: StageSpeech, Event: "stage.start", Chapter: layout.Name, Total: len(lines)})

	for _, v := range p.bank.All() {
		if err := p.synth.Register(ctx, v.Key, v.File); err != nil {
			return nil, fmt.Errorf("register voice %s: %w", v.Key, err)
		}
	}
	if err := os.MkdirAll(layout.SpeechDir(), 0o755); err != nil {
		return nil, err
	}

	roster := dialog.NewCast(roles, p.narrator, p.unknown)
	var jobs []speechJob
	for idx, line := range lines {
		if _, known := roster.Lookup(line); !known {
			log.Warn("unknown role", slog.String("role", line.Role), slog.String("gender", string(p.unknown)))
		}
		out := layout.LineFile(line.Role, idx)
		if exists(out) {
			continue
		}
		// Casting runs in line order so recency follows the story.
		timbre, err := cast.Voice(roster, line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", idx, err)
		}
		jobs = append(jobs, speechJob{idx: idx, line: line, character: line.CharacterKey(), timbre: timbre, output: out})
	}
	log.Info("lines cast", slog.Int("pending", len(jobs)), slog.Int("done", len(lines)-len(jobs)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, job := range jobs {
		g.Go(func() error {
			return p.voiceLine(gctx, runID, layout, roster, job, len(lines))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := p.spliceSpeech(ctx, layout, lines, intervals); err != nil {
		return nil, err
	}
	log.Info("speech track written", slog.String("file", layout.SpeechTrack()))
	p.upload(ctx, layout, layout.SpeechTrack())
	p.recorder.Record(ctx, protocol.Progress{RunID: runID, Stage: StageSpeech, Event: "stage.done", Chapter: layout.Name, Total: len(lines)})
	return cast.Snapshot(), nil
}

func (p *Pipeline) voiceLine(ctx context.Context, runID string, layout Layout, roster *dialog.Cast, job speechJob, total int) error {
	req := tts.Request{
		Text:     job.line.Content,
		Instruct: roster.InstructText(job.line),
		Timbre:   job.timbre,
		Output:   job.output,
	}
	if job.line.Monologue() {
		req.Output = strings.TrimSuffix(job.output, ".wav") + "_origin.wav"
	}
	if err := p.synth.Synthesize(ctx, req); err != nil {
		return fmt.Errorf("synthesize line %d (%s): %w", job.idx, job.line.Role, err)
	}
	if job.line.Monologue() {
		if err := p.media.Monologue(ctx, req.Output, job.output); err != nil {
			return fmt.Errorf("monologue line %d: %w", job.idx, err)
		}
	}
	if p.lines != nil {
		p.lines.Add(ctx, 1, metric.WithAttributes(attribute.String("timbre", job.timbre)))
	}
	p.recorder.Record(ctx, protocol.Progress{
		RunID:   runID,
		Stage:   StageSpeech,
		Event:   "line.done",
		Chapter: layout.Name,
		Index:   job.idx,
		Total:   total,
		Detail:  job.character + "=" + job.timbre,
	})
	return nil
}

// spliceSpeech concatenates the line files with a silence after every line
// whose pause is positive, and writes the wav.scp index of the line files.
func (p *Pipeline) spliceSpeech(ctx context.Context, layout Layout, lines []dialog.Line, intervals []dialog.Interval) error {
	if len(intervals) != len(lines) {
		p.logger.Warn("interval count mismatch", slog.Int("lines", len(lines)), slog.Int("intervals", len(intervals)))
	}
	var (
		inputs  []string
		index   strings.Builder
		silence = make(map[float64]bool)
	)
	for idx, line := range lines {
		file := layout.LineFile(line.Role, idx)
		inputs = append(inputs, file)
		fmt.Fprintf(&index, "%s %s\n", layout.LineKey(line.Role, idx), file)

		var gap float64
		if idx < len(intervals) {
			gap = intervals[idx].Seconds
		}
		if gap <= 0 {
			continue
		}
		gapFile := layout.SilenceFile(gap)
		if !silence[gap] {
			if err := p.media.Silence(ctx, gap, gapFile); err != nil {
				return fmt.Errorf("silence %vs: %w", gap, err)
			}
			silence[gap] = true
		}
		inputs = append(inputs, gapFile)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w: no lines in %s", ErrMissingInput, layout.DialogFile())
	}
	if err := os.WriteFile(layout.SpeechIndex(), []byte(index.String()), 0o644); err != nil {
		return fmt.Errorf("write speech index: %w", err)
	}
	return p.media.Concat(ctx, inputs, layout.SpeechTrack(), nil)
}
