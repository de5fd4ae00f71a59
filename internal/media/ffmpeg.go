// Package media splices audio with an external ffmpeg-compatible tool and
// reads and writes WAV files.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Tool runs ffmpeg. Every output is PCM s16le at the configured rate and
// channel count.
type Tool struct {
	cmd        []string
	sampleRate int
	channels   int
	logger     *slog.Logger
}

func New(command string, sampleRate, channels int, logger *slog.Logger) (*Tool, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse media command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("media command empty")
	}
	return &Tool{
		cmd:        args,
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger.With(slog.String("component", "media")),
	}, nil
}

// Silence writes seconds of silence to out.
func (t *Tool) Silence(ctx context.Context, seconds float64, out string) error {
	return t.run(ctx, out,
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=mono", t.sampleRate),
		"-t", formatSeconds(seconds),
	)
}

// Concat joins inputs end to end. When fades is non-nil it holds one
// crossfade length per junction (len(inputs)-1); a zero fade is a hard cut.
func (t *Tool) Concat(ctx context.Context, inputs []string, out string, fades []float64) error {
	graph, label, err := ConcatGraph(len(inputs), fades)
	if err != nil {
		return err
	}
	args := inputArgs(inputs)
	args = append(args, "-filter_complex", graph, "-map", label)
	return t.run(ctx, out, args...)
}

// Mix overlays inputs, keeping the length of the longest.
func (t *Tool) Mix(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return errors.New("mix: no inputs")
	}
	args := inputArgs(inputs)
	args = append(args, "-filter_complex", MixGraph(len(inputs)), "-map", "[out]")
	return t.run(ctx, out, args...)
}

// ScaleVolume multiplies the amplitude of in by factor.
func (t *Tool) ScaleVolume(ctx context.Context, in, out string, factor float64) error {
	return t.run(ctx, out, "-i", in, "-filter:a", "volume="+strconv.FormatFloat(factor, 'f', -1, 64))
}

// Monologue softens and echoes in so inner thoughts sound apart from speech.
func (t *Tool) Monologue(ctx context.Context, in, out string) error {
	return t.run(ctx, out, "-i", in, "-filter:a", "volume=0.5,aecho=0.5:0.8:50:0.8")
}

// Cut extracts [start, end) seconds of in.
func (t *Tool) Cut(ctx context.Context, in, out string, start, end float64) error {
	if end <= start {
		return fmt.Errorf("cut: end %v not after start %v", end, start)
	}
	return t.run(ctx, out, "-i", in, "-ss", formatSeconds(start), "-to", formatSeconds(end))
}

// ConcatGraph builds the filter graph for Concat and returns it with its
// output label.
func ConcatGraph(n int, fades []float64) (string, string, error) {
	if n == 0 {
		return "", "", errors.New("concat: no inputs")
	}
	if fades == nil {
		var b strings.Builder
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, "[%d:a]", i)
		}
		fmt.Fprintf(&b, "concat=n=%d:v=0:a=1[out]", n)
		return b.String(), "[out]", nil
	}
	if len(fades) != n-1 {
		return "", "", fmt.Errorf("concat: %d inputs need %d fades, got %d", n, n-1, len(fades))
	}
	if n == 1 {
		return "[0:a]anull[out]", "[out]", nil
	}
	steps := make([]string, 0, n-1)
	last := "[0:a]"
	for i, fade := range fades {
		next := fmt.Sprintf("[a%d]", i)
		if fade > 0 {
			steps = append(steps, fmt.Sprintf("%s[%d:a]acrossfade=d=%s:c1=tri:c2=tri%s", last, i+1, formatSeconds(fade), next))
		} else {
			steps = append(steps, fmt.Sprintf("%s[%d:a]concat=n=2:v=0:a=1%s", last, i+1, next))
		}
		last = next
	}
	return strings.Join(steps, "; "), last, nil
}

// MixGraph builds the filter graph for Mix.
func MixGraph(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[%d:a]", i)
	}
	fmt.Fprintf(&b, "amix=inputs=%d:duration=longest:dropout_transition=0[out]", n)
	return b.String()
}

func inputArgs(inputs []string) []string {
	args := make([]string, 0, 2*len(inputs))
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	return args
}

func (t *Tool) run(ctx context.Context, out string, args ...string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	full := append([]string{}, t.cmd[1:]...)
	full = append(full, "-hide_banner", "-loglevel", "error")
	full = append(full, args...)
	full = append(full,
		"-c:a", "pcm_s16le",
		"-ar", strconv.Itoa(t.sampleRate),
		"-ac", strconv.Itoa(t.channels),
		"-y", out,
	)

	command := exec.CommandContext(ctx, t.cmd[0], full...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", filepath.Base(t.cmd[0]), err, strings.TrimSpace(stderr.String()))
	}
	t.logger.Debug("media command complete", slog.String("output", out))
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
