package pipeline

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Layout names the files a source produces under the results directory.
//
//	<results>/dialog/<name>.json           extracted lines
//	<results>/dialog/role_<name>.json      roles
//	<results>/dialog/interval_<name>.json  pauses
//	<results>/speech_<name>/               per-line speech, cues, clips, mixes
type Layout struct {
	Results string
	Name    string
}

// NewLayout derives the chapter name from the source file name up to its
// first dot.
func NewLayout(results, source string) Layout {
	name := filepath.Base(source)
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return Layout{Results: results, Name: name}
}

// DialogDir holds the text stage output of every chapter.
func (l Layout) DialogDir() string {
	return filepath.Join(l.Results, "dialog")
}

func (l Layout) DialogFile() string {
	return filepath.Join(l.DialogDir(), l.Name+".json")
}

func (l Layout) RoleFile() string {
	return filepath.Join(l.DialogDir(), "role_"+l.Name+".json")
}

func (l Layout) IntervalFile() string {
	return filepath.Join(l.DialogDir(), "interval_"+l.Name+".json")
}

// SpeechDir holds the per-line audio and the tracks of one chapter.
func (l Layout) SpeechDir() string {
	return filepath.Join(l.Results, "speech_"+l.Name)
}

func (l Layout) SpeechTrack() string {
	return filepath.Join(l.SpeechDir(), "speech.wav")
}

// SpeechIndex lists the line files in splice order.
func (l Layout) SpeechIndex() string {
	return filepath.Join(l.SpeechDir(), "wav.scp")
}

func (l Layout) CueFile() string {
	return filepath.Join(l.SpeechDir(), "audio_desc.json")
}

func (l Layout) AmbienceTrack() string {
	return filepath.Join(l.SpeechDir(), "audio.wav")
}

func (l Layout) ScaledAmbience() string {
	return filepath.Join(l.SpeechDir(), "audio_scaled.wav")
}

func (l Layout) ChapterMix() string {
	return filepath.Join(l.SpeechDir(), "output.wav")
}

// LineKey names the speech file of line idx. Path separators in role are
// replaced so every line file stays inside SpeechDir.
func (l Layout) LineKey(role string, idx int) string {
	return fileSafe(role) + "_" + strconv.Itoa(idx)
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
}

func (l Layout) LineFile(role string, idx int) string {
	return filepath.Join(l.SpeechDir(), l.LineKey(role, idx)+".wav")
}

func (l Layout) ClipFile(idx int) string {
	return filepath.Join(l.SpeechDir(), "audio_"+strconv.Itoa(idx)+".wav")
}

// SilenceFile is shared by every gap of the same length.
func (l Layout) SilenceFile(seconds float64) string {
	return filepath.Join(l.SpeechDir(), "silence_"+strconv.FormatFloat(seconds, 'f', -1, 64)+".wav")
}

// ObjectKey is the object store key of a track produced for this chapter.
func (l Layout) ObjectKey(path string) string {
	return l.Name + "/" + filepath.Base(path)
}
