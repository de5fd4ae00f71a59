package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/loqalabs/radiodrama/internal/dialog"
	"github.com/loqalabs/radiodrama/internal/media"
	"github.com/loqalabs/radiodrama/internal/protocol"
	"golang.org/x/sync/errgroup"
)

// Ambience scores the speech track of source with sound effects and writes
// audio.wav: the clips placed at their cue times, gaps filled with silence and
// neighbouring parts crossfaded.
func (p *Pipeline) Ambience(ctx context.Context, runID, source string) error {
	layout := p.Layout(source)
	log := p.logger.With(slog.String("stage", StageAmbience), slog.String("chapter", layout.Name))
	p.recorder.Record(ctx, protocol.Progress{RunID: runID, Stage: StageAmbience, Event: "stage.start", Chapter: layout.Name})

	var cues []dialog.Cue
	if exists(layout.CueFile()) {
		log.Info("cues already generated", slog.String("file", layout.CueFile()))
		if err := readJSON(layout.CueFile(), &cues); err != nil {
			return err
		}
	} else {
		timeline, err := p.Timeline(layout)
		if err != nil {
			return err
		}
		if cues, err = p.extractor.Cues(ctx, timeline); err != nil {
			return err
		}
		if err := writeJSON(layout.CueFile(), cues); err != nil {
			return err
		}
		log.Info("cues generated", slog.Int("cues", len(cues)), slog.String("file", layout.CueFile()))
	}
	sort.SliceStable(cues, func(i, j int) bool { return cues[i].Start < cues[j].Start })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, cue := range cues {
		out := layout.ClipFile(i)
		d := cue.Duration(p.maxAmbient)
		if d <= 0 || exists(out) {
			continue
		}
		g.Go(func() error {
			if err := p.sounds.Generate(gctx, cue.Description, d, out); err != nil {
				return fmt.Errorf("cue %d: %w", i, err)
			}
			p.recorder.Record(gctx, protocol.Progress{
				RunID: runID, Stage: StageAmbience, Event: "clip.done",
				Chapter: layout.Name, Index: i, Total: len(cues), Detail: cue.Description,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := p.spliceAmbience(ctx, layout, cues); err != nil {
		return err
	}
	log.Info("ambience track written", slog.String("file", layout.AmbienceTrack()))
	p.upload(ctx, layout, layout.AmbienceTrack())
	p.recorder.Record(ctx, protocol.Progress{RunID: runID, Stage: StageAmbience, Event: "stage.done", Chapter: layout.Name, Total: len(cues)})
	return nil
}

// Timeline places every line on the speech track. Line lengths are whole
// seconds; each line starts after the previous one and its pause.
func (p *Pipeline) Timeline(layout Layout) ([]dialog.TimedLine, error) {
	var lines []dialog.Line
	if err := readJSON(layout.DialogFile(), &lines); err != nil {
		return nil, err
	}
	var intervals []dialog.Interval
	if err := readJSON(layout.IntervalFile(), &intervals); err != nil {
		return nil, err
	}
	timeline := make([]dialog.TimedLine, 0, len(lines))
	var start float64
	for idx, line := range lines {
		secs, err := media.Seconds(layout.LineFile(line.Role, idx))
		if err != nil {
			return nil, fmt.Errorf("%w: speech for line %d: %v", ErrMissingInput, idx, err)
		}
		end := start + float64(secs)
		timeline = append(timeline, dialog.TimedLine{Role: line.Role, Content: line.Content, Start: start, End: end})
		start = end
		if idx < len(intervals) {
			start += intervals[idx].Seconds
		}
	}
	return timeline, nil
}

// Segment is one part of the ambience track.
type Segment struct {
	File    string
	Length  float64
	Silence bool
}

// Segments lays cues out end to end: a silence fills every gap before a cue
// and each clip lasts its capped duration. Cues without a positive duration
// are dropped.
func Segments(layout Layout, cues []dialog.Cue, maxSeconds float64) []Segment {
	var (
		parts []Segment
		end   float64
	)
	for i, cue := range cues {
		d := cue.Duration(maxSeconds)
		if d <= 0 {
			continue
		}
		if gap := cue.Start - end; gap > 0 {
			parts = append(parts, Segment{File: layout.SilenceFile(gap), Length: gap, Silence: true})
		}
		parts = append(parts, Segment{File: layout.ClipFile(i), Length: d})
		end = cue.Start + d
	}
	return parts
}

// Crossfades gives the fade at every junction: at most limit seconds and never
// longer than either neighbour.
func Crossfades(parts []Segment, limit float64) []float64 {
	if len(parts) < 2 {
		return []float64{}
	}
	fades := make([]float64, len(parts)-1)
	for i := range fades {
		fades[i] = math.Min(limit, math.Min(parts[i].Length, parts[i+1].Length))
	}
	return fades
}

func (p *Pipeline) spliceAmbience(ctx context.Context, layout Layout, cues []dialog.Cue) error {
	parts := Segments(layout, cues, p.maxAmbient)
	if len(parts) == 0 {
		// No effects: a silent bed as long as the speech.
		d, err := media.Duration(layout.SpeechTrack())
		if err != nil {
			return fmt.Errorf("%w: speech track: %v", ErrMissingInput, err)
		}
		return p.media.Silence(ctx, math.Max(d.Seconds(), 1), layout.AmbienceTrack())
	}
	made := make(map[string]bool)
	inputs := make([]string, len(parts))
	for i, part := range parts {
		inputs[i] = part.File
		if !part.Silence || made[part.File] {
			continue
		}
		if err := p.media.Silence(ctx, part.Length, part.File); err != nil {
			return err
		}
		made[part.File] = true
	}
	var fades []float64
	if limit := float64(p.cfg.MaxCrossfadeSecs); limit > 0 {
		fades = Crossfades(parts, limit)
	}
	return p.media.Concat(ctx, inputs, layout.AmbienceTrack(), fades)
}
