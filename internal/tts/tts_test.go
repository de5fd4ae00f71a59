package tts

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/radiodrama/internal/config"
	"github.com/loqalabs/radiodrama/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSynthWritesSilence(t *testing.T) {
	synth := NewMockSynth(16000, 1)
	ctx := context.Background()
	require.NoError(t, synth.Register(ctx, "male_a", "male_a.wav"))

	out := filepath.Join(t.TempDir(), "0.wav")
	require.NoError(t, synth.Synthesize(ctx, Request{Text: "short", Timbre: "male_a", Output: out}))

	d, err := media.Duration(out)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, d.Seconds(), 0.01)

	reqs := synth.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "male_a", reqs[0].Timbre)
}

func TestMockSynthLengthFollowsText(t *testing.T) {
	synth := NewMockSynth(16000, 1)
	ctx := context.Background()
	require.NoError(t, synth.Register(ctx, "v", "v.wav"))

	out := filepath.Join(t.TempDir(), "long.wav")
	text := "forty runes of dialogue spoken aloud ...."
	require.NoError(t, synth.Synthesize(ctx, Request{Text: text, Timbre: "v", Output: out}))

	d, err := media.Duration(out)
	require.NoError(t, err)
	assert.InDelta(t, float64(len(text))*0.05, d.Seconds(), 0.01)
}

func TestMockSynthUnknownTimbre(t *testing.T) {
	synth := NewMockSynth(16000, 1)
	err := synth.Synthesize(context.Background(), Request{Text: "hi", Timbre: "nobody", Output: filepath.Join(t.TempDir(), "x.wav")})
	require.ErrorIs(t, err, ErrUnknownTimbre)
}

func TestExecSynthDecodesChunks(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.wav")
	require.NoError(t, os.WriteFile(ref, []byte("ref"), 0o644))

	chunk := base64.StdEncoding.EncodeToString(make([]byte, 16000*2))
	script := filepath.Join(dir, "synth.sh")
	body := "#!/bin/sh\ncat > /dev/null\n" +
		"echo '{\"pcm_base64\":\"" + chunk + "\"}'\n" +
		"echo '{\"pcm_base64\":\"" + chunk + "\",\"final\":true}'\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	synth, err := NewExecSynth("/bin/sh "+script, 16000, 1)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, synth.Register(ctx, "female_a", ref))

	out := filepath.Join(dir, "line.wav")
	require.NoError(t, synth.Synthesize(ctx, Request{Text: "hello", Timbre: "female_a", Output: out}))

	d, err := media.Duration(out)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d.Seconds(), 0.01)
}

func TestExecSynthRegisterNeedsReference(t *testing.T) {
	synth, err := NewExecSynth("true", 16000, 1)
	require.NoError(t, err)
	err = synth.Register(context.Background(), "k", filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
}

func TestExecSynthFailsWithoutAudio(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.wav")
	require.NoError(t, os.WriteFile(ref, []byte("ref"), 0o644))

	synth, err := NewExecSynth("/bin/sh -c 'cat > /dev/null'", 16000, 1)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, synth.Register(ctx, "k", ref))
	err = synth.Synthesize(ctx, Request{Text: "hi", Timbre: "k", Output: filepath.Join(dir, "out.wav")})
	require.Error(t, err)
}

func TestFactory(t *testing.T) {
	synth, err := New(config.TTSConfig{Mode: "mock", SampleRate: 16000, Channels: 1})
	require.NoError(t, err)
	assert.IsType(t, &MockSynth{}, synth)

	_, err = New(config.TTSConfig{Mode: "cloud"})
	require.Error(t, err)
}
