package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// execGenerator runs a local command per request. The command reads one JSON
// object on stdin and answers with NDJSON on stdout: any number of
// {"delta": "..."} lines, or a single {"content": "..."} line, optionally
// closed by {"done": true, "prompt_tokens": n, "completion_tokens": m}.
// A line carrying "error" fails the request.
type execGenerator struct {
	cmd []string
}

type execRequest struct {
	Task        string  `json:"task,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Format      string  `json:"format"`
}

type execLine struct {
	Delta            string `json:"delta"`
	Content          string `json:"content"`
	Done             bool   `json:"done"`
	Error            string `json:"error"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

func NewExecGenerator(command string) (Generator, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	input, err := json.Marshal(execRequest{
		Task:        req.Task,
		System:      req.System,
		Prompt:      req.Prompt,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Format:      "json",
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start llm command: %w", err)
	}

	streamErr := g.stream(stdout, req, consumer)
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	if streamErr != nil {
		return streamErr
	}
	if waitErr != nil {
		return fmt.Errorf("llm command failed: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (g *execGenerator) stream(stdout io.Reader, req Request, consumer func(Chunk) error) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line execLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("decode llm command output: %w", err)
		}
		if line.Error != "" {
			return fmt.Errorf("llm command: %s", line.Error)
		}
		text := line.Delta + line.Content
		if text == "" && !line.Done {
			continue
		}
		err := consumer(Chunk{
			Content:          text,
			Partial:          !line.Done,
			PromptTokens:     line.PromptTokens,
			CompletionTokens: line.CompletionTokens,
			TraceID:          req.TraceID,
		})
		if err != nil {
			return err
		}
		if line.Done {
			return nil
		}
	}
	return scanner.Err()
}
