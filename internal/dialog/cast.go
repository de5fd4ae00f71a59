package dialog

import "strings"

// Cast is the role table of one chapter, indexed by name and alias.
type Cast struct {
	narrator string
	unknown  Gender
	roles    map[string]Role
}

// NewCast indexes roles. The narrator is always present as a calm male voice
// and cannot be overridden by an extracted role of the same name.
func NewCast(roles []Role, narrator string, unknown Gender) *Cast {
	c := &Cast{
		narrator: narrator,
		unknown:  unknown,
		roles:    make(map[string]Role, len(roles)+1),
	}
	for _, r := range roles {
		c.roles[r.Name] = r
		for _, alias := range r.Aliases {
			if alias = strings.TrimSpace(alias); alias != "" {
				c.roles[alias] = r
			}
		}
	}
	c.roles[narrator] = Role{Name: narrator, Gender: Male, Personality: "calm, objective, flat"}
	return c
}

func (c *Cast) Narrator() string { return c.narrator }

// Lookup finds the role speaking line.
func (c *Cast) Lookup(line Line) (Role, bool) {
	r, ok := c.roles[line.CharacterKey()]
	return r, ok
}

// Gender is the role's gender, or the cast default when the role is unknown
// or the extractor left gender blank.
func (c *Cast) Gender(line Line) Gender {
	if r, ok := c.Lookup(line); ok && r.Gender != "" {
		return r.Gender
	}
	return c.unknown
}

// Personality is empty for unknown roles.
func (c *Cast) Personality(line Line) string {
	r, _ := c.Lookup(line)
	return r.Personality
}

// IsNarration reports whether line is spoken by the narrator.
func (c *Cast) IsNarration(line Line) bool {
	return line.Role == c.narrator
}
