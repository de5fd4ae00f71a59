// Package voicebank discovers the reference recordings available as timbres.
package voicebank

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loqalabs/radiodrama/internal/dialog"
	"gopkg.in/yaml.v3"
)

// ManifestName is read in preference to scanning file names.
const ManifestName = "voices.yaml"

type Voice struct {
	Key    string        `yaml:"key"`
	Gender dialog.Gender `yaml:"gender"`
	File   string        `yaml:"file"`
}

type manifest struct {
	Voices []Voice `yaml:"voices"`
}

// Bank is an immutable set of voices keyed by timbre id.
type Bank struct {
	voices map[string]Voice
}

// Load reads dir/voices.yaml when present. Otherwise every male*.wav and
// female*.wav file in dir becomes a voice keyed by its file stem.
func Load(dir string) (*Bank, error) {
	manifestPath := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(manifestPath)
	switch {
	case err == nil:
		var mf manifest
		if err := yaml.Unmarshal(data, &mf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", manifestPath, err)
		}
		for i := range mf.Voices {
			mf.Voices[i].Gender = dialog.ParseGender(string(mf.Voices[i].Gender))
			if f := mf.Voices[i].File; f != "" && !filepath.IsAbs(f) {
				mf.Voices[i].File = filepath.Join(dir, f)
			}
		}
		return New(mf.Voices)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", manifestPath, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read voice dir: %w", err)
	}
	var voices []Voice
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".wav") {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		var gender dialog.Gender
		switch {
		case strings.HasPrefix(stem, "female"):
			gender = dialog.Female
		case strings.HasPrefix(stem, "male"):
			gender = dialog.Male
		default:
			continue
		}
		voices = append(voices, Voice{Key: stem, Gender: gender, File: filepath.Join(dir, name)})
	}
	return New(voices)
}

// New validates voices: keys are unique and non-empty, gender is known.
func New(voices []Voice) (*Bank, error) {
	b := &Bank{voices: make(map[string]Voice, len(voices))}
	for _, v := range voices {
		if v.Key == "" {
			return nil, errors.New("voice with empty key")
		}
		if v.Gender != dialog.Male && v.Gender != dialog.Female {
			return nil, fmt.Errorf("voice %q has unknown gender", v.Key)
		}
		if _, dup := b.voices[v.Key]; dup {
			return nil, fmt.Errorf("duplicate voice %q", v.Key)
		}
		b.voices[v.Key] = v
	}
	return b, nil
}

// Keys lists the timbre ids of one gender, sorted.
func (b *Bank) Keys(g dialog.Gender) []string {
	var keys []string
	for k, v := range b.voices {
		if v.Gender == g {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (b *Bank) Lookup(key string) (Voice, bool) {
	v, ok := b.voices[key]
	return v, ok
}

// All lists every voice sorted by key.
func (b *Bank) All() []Voice {
	out := make([]Voice, 0, len(b.voices))
	for _, v := range b.voices {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (b *Bank) Len() int { return len(b.voices) }
