package tts

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/radiodrama/internal/media"
)

const (
	mockPerRune = 50 * time.Millisecond
	mockMinimum = 500 * time.Millisecond
)

// MockSynth writes silence whose length follows the text length. It keeps
// every request so tests can inspect what was asked for.
type MockSynth struct {
	sampleRate int
	channels   int

	mu         sync.Mutex
	references map[string]string
	requests   []Request
}

func NewMockSynth(sampleRate, channels int) *MockSynth {
	return &MockSynth{sampleRate: sampleRate, channels: channels, references: make(map[string]string)}
}

func (m *MockSynth) Register(ctx context.Context, key, referenceFile string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.references[key] = referenceFile
	m.mu.Unlock()
	return nil
}

func (m *MockSynth) Synthesize(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	_, ok := m.references[req.Timbre]
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTimbre, req.Timbre)
	}

	length := time.Duration(utf8.RuneCountInString(req.Text)) * mockPerRune
	if length < mockMinimum {
		length = mockMinimum
	}
	frames := int(length.Seconds() * float64(m.sampleRate))
	return media.WritePCM16(req.Output, make([]byte, frames*m.channels*2), m.sampleRate, m.channels)
}

// Requests returns a copy of every Synthesize call seen so far.
func (m *MockSynth) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
