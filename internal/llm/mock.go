package llm

import (
	"context"
	"time"
)

type mockGenerator struct {
	respond func(Request) string
}

// NewMockGenerator answers every prompt with respond(req). A nil respond
// answers with an empty JSON array, which every extraction step accepts.
func NewMockGenerator(respond func(Request) string) Generator {
	if respond == nil {
		respond = func(Request) string { return "[]" }
	}
	return &mockGenerator{respond: respond}
}

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	start := time.Now()
	return consumer(Chunk{
		Content: m.respond(req),
		Partial: false,
		Latency: time.Since(start),
		TraceID: req.TraceID,
	})
}
