// Package tta generates short ambient sound clips from text descriptions.
package tta

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loqalabs/radiodrama/internal/config"
	"github.com/loqalabs/radiodrama/internal/media"
	"github.com/mattn/go-shellwords"
)

type Generator interface {
	Generate(ctx context.Context, description string, seconds float64, output string) error
}

func New(cfg config.TTAConfig) (Generator, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", "mock":
		return NewMock(cfg.SampleRate), nil
	case "exec":
		return NewExec(cfg.Command, cfg.SampleRate)
	default:
		return nil, fmt.Errorf("unsupported tta mode %q", cfg.Mode)
	}
}

type execGenerator struct {
	cmd        []string
	sampleRate int
}

// NewExec calls command with --prompt, --seconds, --sample-rate and
// --output flags. The process writes the WAV itself.
func NewExec(command string, sampleRate int) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tta command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tta command empty")
	}
	return &execGenerator{cmd: args, sampleRate: sampleRate}, nil
}

func (e *execGenerator) Generate(ctx context.Context, description string, seconds float64, output string) error {
	if seconds <= 0 {
		return fmt.Errorf("tta: non-positive length %v", seconds)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--prompt", description,
		"--seconds", strconv.FormatFloat(seconds, 'f', -1, 64),
		"--sample-rate", strconv.Itoa(e.sampleRate),
		"--output", output,
	)
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("tta command failed: %w: %s", err, stderr.String())
	}
	if _, err := media.Duration(output); err != nil {
		return fmt.Errorf("tta output: %w", err)
	}
	return nil
}

type mockGenerator struct {
	sampleRate int
}

func NewMock(sampleRate int) Generator {
	return &mockGenerator{sampleRate: sampleRate}
}

func (m *mockGenerator) Generate(ctx context.Context, _ string, seconds float64, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if seconds <= 0 {
		return fmt.Errorf("tta: non-positive length %v", seconds)
	}
	frames := int(seconds * float64(m.sampleRate))
	return media.WritePCM16(output, make([]byte, frames*2), m.sampleRate, 1)
}
