package tts

import (
	"context"
	"errors"
)

// ErrUnknownTimbre is returned when Synthesize names a timbre that was never
// registered.
var ErrUnknownTimbre = errors.New("tts: unknown timbre")

// Request renders Text in the voice registered as Timbre into Output.
type Request struct {
	Text     string
	Instruct string
	Timbre   string
	Output   string
}

// Synthesizer turns text into WAV files. Register binds a timbre key to a
// reference recording before any Synthesize call uses it.
type Synthesizer interface {
	Register(ctx context.Context, key, referenceFile string) error
	Synthesize(ctx context.Context, req Request) error
}
