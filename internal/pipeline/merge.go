package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/loqalabs/radiodrama/internal/media"
	"github.com/loqalabs/radiodrama/internal/protocol"
)

// Merge lays each chapter's ambience under its speech at the configured
// volume and joins the chapters, in order, into output.
func (p *Pipeline) Merge(ctx context.Context, runID string, sources []string, output string) error {
	if len(sources) == 0 {
		return fmt.Errorf("%w: no chapters to merge", ErrMissingInput)
	}
	p.recorder.Record(ctx, protocol.Progress{RunID: runID, Stage: StageMerge, Event: "stage.start", Total: len(sources)})

	chapters := make([]string, 0, len(sources))
	for i, source := range sources {
		layout := p.Layout(source)
		for _, in := range []string{layout.SpeechTrack(), layout.AmbienceTrack()} {
			if !exists(in) {
				return fmt.Errorf("%w: %s", ErrMissingInput, in)
			}
		}
		if err := p.media.ScaleVolume(ctx, layout.AmbienceTrack(), layout.ScaledAmbience(), p.cfg.AmbienceVolume); err != nil {
			return fmt.Errorf("scale ambience of %s: %w", layout.Name, err)
		}
		if err := p.media.Mix(ctx, []string{layout.SpeechTrack(), layout.ScaledAmbience()}, layout.ChapterMix()); err != nil {
			return fmt.Errorf("mix %s: %w", layout.Name, err)
		}
		attrs := []any{slog.String("chapter", layout.Name), slog.String("file", layout.ChapterMix())}
		if secs, err := media.Seconds(layout.ChapterMix()); err == nil {
			attrs = append(attrs, slog.Int("seconds", secs))
		}
		p.logger.Info("chapter merged", attrs...)
		p.upload(ctx, layout, layout.ChapterMix())
		p.recorder.Record(ctx, protocol.Progress{RunID: runID, Stage: StageMerge, Event: "chapter.done", Chapter: layout.Name, Index: i, Total: len(sources)})
		chapters = append(chapters, layout.ChapterMix())
	}

	if err := p.media.Concat(ctx, chapters, output, nil); err != nil {
		return fmt.Errorf("concat chapters: %w", err)
	}
	p.logger.Info("drama written", slog.String("file", output), slog.Int("chapters", len(chapters)))
	if p.uploader != nil {
		if err := p.uploader.UploadFile(ctx, filepath.Base(output), output); err != nil {
			p.logger.Warn("failed to upload track", slog.String("key", filepath.Base(output)), slog.String("error", err.Error()))
		}
	}
	p.recorder.Record(ctx, protocol.Progress{RunID: runID, Stage: StageMerge, Event: "stage.done", Total: len(sources)})
	return nil
}
