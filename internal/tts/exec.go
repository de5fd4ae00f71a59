package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/loqalabs/radiodrama/internal/media"
	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int

	mu         sync.RWMutex
	references map[string]string
}

type execRequest struct {
	Text       string `json:"text"`
	Instruct   string `json:"instruct,omitempty"`
	Timbre     string `json:"timbre"`
	Reference  string `json:"reference"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecSynth runs command once per line. The request goes to stdin as JSON
// and the process answers with newline-delimited base64 PCM chunks.
func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{
		cmd:        args,
		sampleRate: sampleRate,
		channels:   channels,
		references: make(map[string]string),
	}, nil
}

func (e *execSynth) Register(_ context.Context, key, referenceFile string) error {
	if _, err := os.Stat(referenceFile); err != nil {
		return fmt.Errorf("reference for %s: %w", key, err)
	}
	e.mu.Lock()
	e.references[key] = referenceFile
	e.mu.Unlock()
	return nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) error {
	e.mu.RLock()
	reference, ok := e.references[req.Timbre]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTimbre, req.Timbre)
	}

	data, err := json.Marshal(execRequest{
		Text:       req.Text,
		Instruct:   req.Instruct,
		Timbre:     req.Timbre,
		Reference:  reference,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Wait()
			return fmt.Errorf("decode tts chunk: %w", err)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			_ = cmd.Wait()
			return fmt.Errorf("decode tts pcm: %w", err)
		}
		pcm = append(pcm, chunk...)
		if resp.Final {
			break
		}
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("tts command failed: %w: %s", err, stderr.String())
	}
	if scanErr != nil {
		return scanErr
	}
	if len(pcm) == 0 {
		return fmt.Errorf("tts command produced no audio for %q", req.Text)
	}
	return media.WritePCM16(req.Output, pcm, e.sampleRate, e.channels)
}
