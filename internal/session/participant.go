package session

import (
	"strings"
	"time"
)

// Gender is both the self-declared identity and the desired partner identity.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderAny    Gender = "any"
)

// ParseGender maps client input to a Gender. Anything unrecognised is "any".
func ParseGender(s string) Gender {
	switch Gender(strings.ToLower(strings.TrimSpace(s))) {
	case GenderMale:
		return GenderMale
	case GenderFemale:
		return GenderFemale
	default:
		return GenderAny
	}
}

// Accepts reports whether a participant wanting g would accept other.
func (g Gender) Accepts(other Gender) bool {
	return g == GenderAny || g == other
}

// Profile is the matching filter a participant submits with each pairing request.
type Profile struct {
	Gender     Gender
	Preference Gender
	Interests  []string
}

// DefaultProfile is what a freshly connected participant is registered with.
func DefaultProfile() Profile {
	return Profile{Gender: GenderAny, Preference: GenderAny}
}

// NormalizeInterests lower-cases and trims each tag, drops empty tags and
// collapses duplicates. First-seen order is preserved.
func NormalizeInterests(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Participant is one live connection and its current matching profile.
type Participant struct {
	ID          string
	Gender      Gender
	Preference  Gender
	Interests   []string
	RoomID      string // empty when idle or waiting
	ConnectedAt time.Time
}

// HasInterests reports whether the participant filtered on any tag.
func (p Participant) HasInterests() bool {
	return len(p.Interests) > 0
}

// Clone returns a copy that shares no memory with p.
func (p Participant) Clone() Participant {
	if p.Interests != nil {
		tags := make([]string, len(p.Interests))
		copy(tags, p.Interests)
		p.Interests = tags
	}
	return p
}
