package media

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConcatGraphPlain(t *testing.T) {
	graph, label, err := ConcatGraph(3, nil)
	require.NoError(t, err)
	assert.Equal(t, "[0:a][1:a][2:a]concat=n=3:v=0:a=1[out]", graph)
	assert.Equal(t, "[out]", label)
}

func TestConcatGraphCrossfade(t *testing.T) {
	graph, label, err := ConcatGraph(3, []float64{2, 0.5})
	require.NoError(t, err)
	assert.Equal(t,
		"[0:a][1:a]acrossfade=d=2:c1=tri:c2=tri[a0]; [a0][2:a]acrossfade=d=0.5:c1=tri:c2=tri[a1]",
		graph)
	assert.Equal(t, "[a1]", label)
}

func TestConcatGraphZeroFadeIsHardCut(t *testing.T) {
	graph, label, err := ConcatGraph(2, []float64{0})
	require.NoError(t, err)
	assert.Equal(t, "[0:a][1:a]concat=n=2:v=0:a=1[a0]", graph)
	assert.Equal(t, "[a0]", label)
}

func TestConcatGraphErrors(t *testing.T) {
	_, _, err := ConcatGraph(0, nil)
	require.Error(t, err)

	_, _, err = ConcatGraph(3, []float64{1})
	require.Error(t, err)
}

func TestMixGraph(t *testing.T) {
	assert.Equal(t, "[0:a][1:a]amix=inputs=2:duration=longest:dropout_transition=0[out]", MixGraph(2))
}

func TestWritePCM16Duration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tone.wav")
	// 1.5s of 16 kHz mono silence.
	pcm := make([]byte, 16000*2*3/2)
	require.NoError(t, WritePCM16(path, pcm, 16000, 1))

	d, err := Duration(path)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, d.Seconds(), 0.01)

	secs, err := Seconds(path)
	require.NoError(t, err)
	assert.Equal(t, 1, secs)
}

func TestWritePCM16RejectsOddPayload(t *testing.T) {
	err := WritePCM16(filepath.Join(t.TempDir(), "bad.wav"), []byte{1, 2, 3}, 16000, 1)
	require.Error(t, err)
}

func TestDurationRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(path, []byte("not audio"), 0o644))
	_, err := Duration(path)
	require.Error(t, err)
}

func TestNewRejectsEmptyCommand(t *testing.T) {
	_, err := New("   ", 24000, 1, testLogger())
	require.Error(t, err)
}

func TestToolPassesArguments(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	script := filepath.Join(dir, "fake-ffmpeg.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$@\" > "+argsFile+"\n"), 0o755))

	tool, err := New("/bin/sh "+script, 24000, 2, testLogger())
	require.NoError(t, err)

	out := filepath.Join(dir, "out", "silence.wav")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tool.Silence(ctx, 1.5, out))

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := strings.TrimSpace(string(data))
	assert.Contains(t, args, "anullsrc=r=24000:cl=mono")
	assert.Contains(t, args, "-t 1.5")
	assert.Contains(t, args, "-ar 24000 -ac 2 -y "+out)
}

func TestToolReportsFailure(t *testing.T) {
	tool, err := New("/bin/sh -c 'echo boom >&2; exit 3'", 24000, 1, testLogger())
	require.NoError(t, err)
	err = tool.Monologue(context.Background(), "in.wav", filepath.Join(t.TempDir(), "out.wav"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCutRejectsEmptyRange(t *testing.T) {
	tool, err := New("ffmpeg", 24000, 1, testLogger())
	require.NoError(t, err)
	require.Error(t, tool.Cut(context.Background(), "in.wav", "out.wav", 2, 2))
}
