package tts

import (
	"fmt"
	"strings"

	"github.com/loqalabs/radiodrama/internal/config"
)

func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
