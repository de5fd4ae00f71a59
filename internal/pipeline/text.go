package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/loqalabs/radiodrama/internal/dialog"
	"github.com/loqalabs/radiodrama/internal/protocol"
)

// Text extracts lines, roles and pauses from source. Files left by an
// earlier run are reused.
func (p *Pipeline) Text(ctx context.Context, runID, source string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	text := string(data)
	layout := p.Layout(source)
	log := p.logger.With(slog.String("stage", StageText), slog.String("chapter", layout.Name))
	p.recorder.Record(ctx, protocol.Progress{RunID: runID, Stage: StageText, Event: "stage.start", Chapter: layout.Name})

	var lines []dialog.Line
	if exists(layout.DialogFile()) {
		log.Info("dialogs already extracted", slog.String("file", layout.DialogFile()))
		if err := readJSON(layout.DialogFile(), &lines); err != nil {
			return err
		}
	} else {
		if lines, err = p.dialogs(ctx, text); err != nil {
			return err
		}
		if err := writeJSON(layout.DialogFile(), lines); err != nil {
			return err
		}
		log.Info("dialogs extracted", slog.Int("lines", len(lines)), slog.String("file", layout.DialogFile()))
	}
	p.recorder.Record(ctx, protocol.Progress{RunID: runID, Stage: StageText, Event: "dialogs.done", Chapter: layout.Name, Total: len(lines)})

	if exists(layout.RoleFile()) {
		log.Info("roles already extracted", slog.String("file", layout.RoleFile()))
	} else {
		roles, err := p.extractor.Roles(ctx, text)
		if err != nil {
			return err
		}
		if err := writeJSON(layout.RoleFile(), roles); err != nil {
			return err
		}
		log.Info("roles extracted", slog.Int("roles", len(roles)), slog.String("file", layout.RoleFile()))
	}

	if exists(layout.IntervalFile()) {
		log.Info("intervals already generated", slog.String("file", layout.IntervalFile()))
	} else {
		intervals, err := p.extractor.Intervals(ctx, lines)
		if err != nil {
			return err
		}
		if err := writeJSON(layout.IntervalFile(), intervals); err != nil {
			return err
		}
		log.Info("intervals generated", slog.Int("intervals", len(intervals)), slog.String("file", layout.IntervalFile()))
	}

	p.recorder.Record(ctx, protocol.Progress{RunID: runID, Stage: StageText, Event: "stage.done", Chapter: layout.Name})
	return nil
}

// dialogs extracts the whole text at once, or chapter by chapter when it is
// longer than pipeline.chapter_lines.
func (p *Pipeline) dialogs(ctx context.Context, text string) ([]dialog.Line, error) {
	if p.cfg.ChapterLines <= 0 || countLines(text) <= p.cfg.ChapterLines {
		return p.extractor.Dialogs(ctx, text)
	}
	pieces, err := p.extractor.Split(ctx, text, p.cfg.ChapterLines)
	if err != nil {
		return nil, err
	}
	var lines []dialog.Line
	for i, piece := range pieces {
		got, err := p.extractor.Dialogs(ctx, strings.Join(piece, "\n"))
		if err != nil {
			return nil, fmt.Errorf("chapter %d: %w", i, err)
		}
		lines = append(lines, got...)
	}
	return lines, nil
}

func countLines(text string) int {
	n := 0
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}
