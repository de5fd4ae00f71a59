// Package dialog holds the structured form of a story chapter: who speaks,
// what they say, how they say it, and which ambient sounds accompany them.
package dialog

import (
	"encoding/json"
	"strings"
)

// MonologueSuffix marks a line spoken as a character's inner voice.
const MonologueSuffix = "(os)"

type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// ParseGender accepts English and Chinese spellings. Unknown input yields "".
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m", "man", "男":
		return Male
	case "female", "f", "woman", "女":
		return Female
	default:
		return ""
	}
}

func (g *Gender) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*g = ParseGender(raw)
	return nil
}

// Line is one turn of dialog, or a stretch of narration.
type Line struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Emotion  string `json:"emo,omitempty"`
	Speed    int    `json:"speed,omitempty"`
	Instruct string `json:"instruct,omitempty"`
}

// Monologue reports whether the line is inner voice.
func (l Line) Monologue() bool {
	return strings.HasSuffix(l.Role, MonologueSuffix)
}

// CharacterKey is the role name with any monologue marker removed, so that a
// character's spoken and inner lines share one timbre.
func (l Line) CharacterKey() string {
	return strings.TrimSpace(strings.TrimSuffix(l.Role, MonologueSuffix))
}

type Role struct {
	Name        string   `json:"name"`
	Gender      Gender   `json:"gender"`
	Personality string   `json:"personality"`
	Aliases     []string `json:"alias,omitempty"`
}

// Interval is the pause after a line, in seconds.
type Interval struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Seconds float64 `json:"interval"`
}

// TimedLine places a line on the speech track.
type TimedLine struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Cue describes an ambient sound to lay under the speech track.
type Cue struct {
	Description string  `json:"audio_desc"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	// The misspelled key keeps compatibility with cue files from earlier runs.
	Explanation string `json:"explaination,omitempty"`
}

// Duration is the cue length capped at maxSeconds.
func (c Cue) Duration(maxSeconds float64) float64 {
	d := c.End - c.Start
	if d > maxSeconds {
		d = maxSeconds
	}
	if d < 0 {
		return 0
	}
	return d
}
