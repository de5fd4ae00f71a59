package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/radiodrama/internal/llm"
)

// Extractor turns prose into structured dialog with a language model.
type Extractor struct {
	gen        llm.Generator
	base       llm.Request
	narrator   string
	maxAmbient int
	logger     *slog.Logger
}

func NewExtractor(gen llm.Generator, base llm.Request, narrator string, maxAmbientSeconds int, logger *slog.Logger) *Extractor {
	return &Extractor{
		gen:        gen,
		base:       base,
		narrator:   narrator,
		maxAmbient: maxAmbientSeconds,
		logger:     logger.With(slog.String("component", "dialog-extractor")),
	}
}

// Dialogs splits text into lines.
func (e *Extractor) Dialogs(ctx context.Context, text string) ([]Line, error) {
	var lines []Line
	prompt := fmt.Sprintf(dialogPrompt, e.narrator, MonologueSuffix, text)
	if err := e.ask(ctx, "dialogs", dialogSystem, prompt, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// Roles catalogues the characters appearing in text.
func (e *Extractor) Roles(ctx context.Context, text string) ([]Role, error) {
	var roles []Role
	if err := e.ask(ctx, "roles", roleSystem, fmt.Sprintf(rolePrompt, text), &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// Intervals asks for the pause after every line. The result is aligned to
// lines: missing entries are filled with one second and extras are dropped.
func (e *Extractor) Intervals(ctx context.Context, lines []Line) ([]Interval, error) {
	out := make([]Interval, len(lines))
	for i, l := range lines {
		out[i] = Interval{Role: l.Role, Content: l.Content}
	}
	payload, err := marshalForPrompt(briefLines(lines))
	if err != nil {
		return nil, err
	}
	var got []Interval
	if err := e.ask(ctx, "intervals", "", fmt.Sprintf(intervalPrompt, payload), &got); err != nil {
		return nil, err
	}
	if len(got) != len(lines) {
		e.logger.Warn("interval count mismatch", slog.Int("lines", len(lines)), slog.Int("intervals", len(got)))
	}
	for i := range out {
		out[i].Seconds = 1
		if i < len(got) && got[i].Seconds >= 0 {
			out[i].Seconds = got[i].Seconds
		}
	}
	return out, nil
}

// Cues proposes ambient sounds for a timed speech track.
func (e *Extractor) Cues(ctx context.Context, timeline []TimedLine) ([]Cue, error) {
	payload, err := marshalForPrompt(timeline)
	if err != nil {
		return nil, err
	}
	var cues []Cue
	if err := e.ask(ctx, "cues", cueSystem, fmt.Sprintf(cuePrompt, e.maxAmbient, payload), &cues); err != nil {
		return nil, err
	}
	return cues, nil
}

func (e *Extractor) ask(ctx context.Context, what, system, prompt string, out any) error {
	req := e.base
	req.Task = what
	req.System = system
	req.Prompt = prompt
	raw, err := llm.Complete(ctx, e.gen, req)
	if err != nil {
		return fmt.Errorf("extract %s: %w", what, err)
	}
	if err := json.Unmarshal([]byte(StripFence(raw)), out); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	e.logger.Debug("extraction complete", slog.String("kind", what))
	return nil
}

// StripFence removes a surrounding markdown code fence from a model response.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

type brief struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func briefLines(lines []Line) []brief {
	out := make([]brief, len(lines))
	for i, l := range lines {
		out[i] = brief{Role: l.Role, Content: l.Content}
	}
	return out
}

func marshalForPrompt(v any) (string, error) {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
