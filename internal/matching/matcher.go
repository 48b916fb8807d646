package matching

import "github.com/whisper/stranger-chat/internal/session"

// Compatible reports whether seeker may be paired with candidate.
//
// Gender is checked both ways. Interests are asymmetric: a seeker without
// interests accepts anyone, while a seeker with interests only accepts a
// candidate that has at least one tag in common.
func Compatible(seeker, candidate session.Participant) bool {
	if !seeker.Preference.Accepts(candidate.Gender) || !candidate.Preference.Accepts(seeker.Gender) {
		return false
	}
	if !seeker.HasInterests() {
		return true
	}
	if !candidate.HasInterests() {
		return false
	}
	return len(SharedInterests(seeker, candidate)) > 0
}

// SharedInterests returns the tags a and b have in common, in a's order.
func SharedInterests(a, b session.Participant) []string {
	if len(a.Interests) == 0 || len(b.Interests) == 0 {
		return nil
	}
	theirs := make(map[string]bool, len(b.Interests))
	for _, t := range b.Interests {
		theirs[t] = true
	}
	var shared []string
	for _, t := range a.Interests {
		if theirs[t] {
			shared = append(shared, t)
		}
	}
	return shared
}

// Lookup resolves a queued id to its current participant record.
type Lookup func(id string) (session.Participant, bool)

// FindMatch scans the queue in arrival order and returns the first candidate
// compatible with seeker. It never ranks by overlap size. Queue entries the
// lookup cannot resolve, and the seeker's own entry, are skipped.
func FindMatch(q *Queue, lookup Lookup, seeker session.Participant) (session.Participant, bool) {
	for _, id := range q.ids {
		if id == seeker.ID {
			continue
		}
		candidate, ok := lookup(id)
		if !ok {
			continue
		}
		if Compatible(seeker, candidate) {
			return candidate, true
		}
	}
	return session.Participant{}, false
}
