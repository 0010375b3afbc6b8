package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Prefs holds the notification preferences of a push target.
// A nil field means the flag was never written and counts as disabled.
type Prefs struct {
	Push    *bool `json:"pushEnabled,omitempty"`
	Live    *bool `json:"liveEnabled,omitempty"`
	Vote    *bool `json:"voteEnabled,omitempty"`
	YouTube *bool `json:"youtubeEnabled,omitempty"`
}

// Allows reports whether both the global flag and the category flag are set and true.
func (p Prefs) Allows(c Category) bool {
	if !isTrue(p.Push) {
		return false
	}
	switch c {
	case CategoryLive:
		return isTrue(p.Live)
	case CategoryVote:
		return isTrue(p.Vote)
	case CategoryYouTube:
		return isTrue(p.YouTube)
	}
	return false
}

// ParsePrefs decodes a preference object. Unknown keys and non-boolean values are rejected,
// including booleans spelled as strings.
func ParsePrefs(raw []byte) (Prefs, error) {
	var p Prefs
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Prefs{}, fmt.Errorf("decode prefs: %w", err)
	}
	return p, nil
}

// Bool returns a pointer to b, for building Prefs literals.
func Bool(b bool) *bool {
	return &b
}

func isTrue(b *bool) bool {
	return b != nil && *b
}
