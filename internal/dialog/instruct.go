package dialog

import "strings"

var speedWords = [...]string{"very slow", "slow", "normal speed", "fast", "very fast"}

const normalSpeed = 3

// SpeedWord maps a 1..5 speed rating to a speaking-rate instruction. Values out
// of range are clamped; zero means the rating was omitted and reads as normal.
func SpeedWord(speed int) string {
	switch {
	case speed == 0:
		speed = normalSpeed
	case speed < 1:
		speed = 1
	case speed > len(speedWords):
		speed = len(speedWords)
	}
	return speedWords[speed-1]
}

// InstructText is the style instruction for synthesizing line. Narration keeps
// a neutral delivery: emotion and free-form instruct are dropped and the speed
// is fixed to normal.
func (c *Cast) InstructText(line Line) string {
	emotion, speed, instruct := line.Emotion, line.Speed, line.Instruct
	if c.IsNarration(line) {
		emotion, instruct, speed = "", "", normalSpeed
	}
	parts := make([]string, 0, 4)
	for _, p := range []string{c.Personality(line), emotion, SpeedWord(speed), instruct} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ",")
}
