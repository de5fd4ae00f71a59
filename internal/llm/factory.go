package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/radiodrama/internal/config"
)

// New selects the backend named by cfg.Mode. Every call is bounded by
// cfg.TimeoutSec when it is positive.
func New(cfg config.LLMConfig) (Generator, error) {
	var (
		gen Generator
		err error
	)
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(nil), nil
	case "ollama":
		gen = NewOllamaGenerator(cfg.Endpoint, cfg.Model)
	case "openai":
		gen = NewOpenAIGenerator(cfg.Endpoint, cfg.APIKey, cfg.Model)
	case "exec":
		gen, err = NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
	if err != nil || cfg.TimeoutSec <= 0 {
		return gen, err
	}
	return timeoutGenerator{next: gen, timeout: time.Duration(cfg.TimeoutSec) * time.Second}, nil
}

type timeoutGenerator struct {
	next    Generator
	timeout time.Duration
}

func (g timeoutGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.Generate(ctx, req, consumer)
}
