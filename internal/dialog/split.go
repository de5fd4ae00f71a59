package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type splitAnswer struct {
	First      int    `json:"first"`
	Second     int    `json:"second"`
	DivideLine string `json:"divide_line"`
}

// Split breaks a long text into scene-sized chapters of at most maxLines
// non-blank lines. The model proposes each cut; short neighbouring pieces are
// merged back together afterwards.
func (e *Extractor) Split(ctx context.Context, text string, maxLines int) ([][]string, error) {
	if maxLines <= 0 {
		return nil, fmt.Errorf("split: max lines must be positive, got %d", maxLines)
	}
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}

	var pieces [][]string
	for start := 0; start < len(lines); {
		end := min(start+maxLines, len(lines))
		window := lines[start:end]
		cut := len(window)
		if end < len(lines) {
			var err error
			cut, err = e.cutPoint(ctx, window)
			if err != nil {
				return nil, err
			}
		}
		pieces = append(pieces, window[:cut])
		start += cut
	}
	return mergePieces(pieces, maxLines), nil
}

func (e *Extractor) cutPoint(ctx context.Context, window []string) (int, error) {
	var ans splitAnswer
	prompt := fmt.Sprintf(splitPrompt, len(window), strings.Join(window, "\n"))
	if err := e.ask(ctx, "split", "", prompt, &ans); err != nil {
		return 0, err
	}
	cut := ans.First
	if ans.DivideLine != "" {
		for i, l := range window {
			if strings.Contains(l, ans.DivideLine) {
				cut = i
				break
			}
		}
	}
	if ans.First+ans.Second != len(window) {
		e.logger.Warn("split counts do not add up", slog.Int("first", ans.First), slog.Int("second", ans.Second), slog.Int("lines", len(window)))
	}
	if cut <= 0 || cut > len(window) {
		cut = len(window)
	}
	return cut, nil
}

func mergePieces(pieces [][]string, maxLines int) [][]string {
	var merged [][]string
	var current []string
	for _, p := range pieces {
		if len(current) > 0 && len(current)+len(p) > maxLines {
			merged = append(merged, current)
			current = nil
		}
		current = append(current, p...)
	}
	if len(current) > 0 {
		merged = append(merged, current)
	}
	return merged
}
