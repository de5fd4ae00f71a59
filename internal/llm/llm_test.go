package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/radiodrama/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteConcatenatesOllamaStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen", req.Model)
		assert.True(t, req.Stream)
		fmt.Fprintln(w, `{"response":"[{\"role\":","done":false}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"response":"\"narrator\"}]","done":true,"eval_count":7}`)
	}))
	defer srv.Close()

	out, err := Complete(context.Background(), NewOllamaGenerator(srv.URL, "qwen"), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, `[{"role":"narrator"}]`, out)
}

func TestOllamaStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := Complete(context.Background(), NewOllamaGenerator(srv.URL, ""), Request{Prompt: "hi"})
	require.Error(t, err)
}

func TestOpenAIGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, defaultSystemPrompt, req.Messages[0].Content)
		assert.Equal(t, "split this", req.Messages[1].Content)
		assert.Equal(t, "gpt-4o", req.Model)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"[]"}}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(srv.URL+"/v1/", "sk-test", "gpt-4o")
	var chunks []Chunk
	err := gen.Generate(context.Background(), Request{Prompt: "split this"}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "[]", chunks[0].Content)
	assert.Equal(t, 3, chunks[0].PromptTokens)
	assert.False(t, chunks[0].Partial)
}

func TestOpenAIGeneratorNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := Complete(context.Background(), NewOpenAIGenerator(srv.URL, "", "m"), Request{Prompt: "x"})
	require.Error(t, err)
}

func TestMockGenerator(t *testing.T) {
	out, err := Complete(context.Background(), NewMockGenerator(nil), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	echo := NewMockGenerator(func(r Request) string { return r.System + "|" + r.Prompt })
	out, err = Complete(context.Background(), echo, Request{System: "s", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "s|p", out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Complete(ctx, echo, Request{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewSelectsBackend(t *testing.T) {
	g, err := New(config.LLMConfig{Mode: "ollama", Endpoint: "http://x"})
	require.NoError(t, err)
	assert.IsType(t, &ollamaGenerator{}, g)

	g, err = New(config.LLMConfig{Mode: "openai", Endpoint: "http://x"})
	require.NoError(t, err)
	assert.IsType(t, &openaiGenerator{}, g)

	_, err = New(config.LLMConfig{Mode: "exec", Command: ""})
	require.Error(t, err)

	_, err = New(config.LLMConfig{Mode: "nope"})
	require.Error(t, err)
}

func TestNewBoundsCalls(t *testing.T) {
	g, err := New(config.LLMConfig{Mode: "ollama", Endpoint: "http://x", TimeoutSec: 30})
	require.NoError(t, err)
	require.IsType(t, timeoutGenerator{}, g)

	hung := generatorFunc(func(ctx context.Context, _ Request, _ func(Chunk) error) error {
		<-ctx.Done()
		return ctx.Err()
	})
	slow := timeoutGenerator{next: hung, timeout: 10 * time.Millisecond}
	err = slow.Generate(context.Background(), Request{}, func(Chunk) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type generatorFunc func(context.Context, Request, func(Chunk) error) error

func (f generatorFunc) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	return f(ctx, req, consumer)
}

func TestOptionsFromConfig(t *testing.T) {
	req := OptionsFromConfig(config.LLMConfig{Model: "m", MaxTokens: 10, Temperature: 0.5})
	assert.Equal(t, Request{Model: "m", MaxTokens: 10, Temperature: 0.5}, req)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "llm.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestExecStreamsDeltas(t *testing.T) {
	dir := t.TempDir()
	captured := filepath.Join(dir, "request.json")
	script := writeScript(t, "cat > "+captured+"\n"+
		"printf '%s\\n' '{\"delta\":\"[{\\\"role\\\":\"}'\n"+
		"echo ''\n"+
		"printf '%s\\n' '{\"delta\":\"\\\"narrator\\\"}]\"}'\n"+
		"echo '{\"done\":true,\"completion_tokens\":9}'\n")

	g, err := NewExecGenerator("/bin/sh " + script)
	require.NoError(t, err)

	var chunks []Chunk
	err = g.Generate(context.Background(), Request{Task: "roles", System: "sys", Prompt: "text", Model: "m"}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.True(t, chunks[0].Partial)
	assert.False(t, chunks[2].Partial)
	assert.Equal(t, 9, chunks[2].CompletionTokens)

	var got strings.Builder
	for _, c := range chunks {
		got.WriteString(c.Content)
	}
	assert.Equal(t, `[{"role":"narrator"}]`, got.String())

	data, err := os.ReadFile(captured)
	require.NoError(t, err)
	var req execRequest
	require.NoError(t, json.Unmarshal(data, &req))
	assert.Equal(t, execRequest{Task: "roles", System: "sys", Prompt: "text", Model: "m", Format: "json"}, req)
}

func TestExecSingleContent(t *testing.T) {
	script := writeScript(t, "cat > /dev/null\necho '{\"content\":\"[]\"}'\n")
	g, err := NewExecGenerator("/bin/sh " + script)
	require.NoError(t, err)

	out, err := Complete(context.Background(), g, Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestExecReportsFailures(t *testing.T) {
	reported := writeScript(t, "cat > /dev/null\necho '{\"error\":\"model not loaded\"}'\n")
	g, err := NewExecGenerator("/bin/sh " + reported)
	require.NoError(t, err)
	_, err = Complete(context.Background(), g, Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")

	crashed := writeScript(t, "cat > /dev/null\necho 'out of memory' >&2\nexit 3\n")
	g, err = NewExecGenerator("/bin/sh " + crashed)
	require.NoError(t, err)
	_, err = Complete(context.Background(), g, Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}
