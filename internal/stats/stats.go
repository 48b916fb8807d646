// Package stats derives the live participant count and the interest tag
// histogram from a registry snapshot.
package stats

import (
	"sort"

	"github.com/whisper/stranger-chat/internal/session"
)

// TopTagsLimit is how many tags TopTags keeps.
const TopTagsLimit = 10

// TagCount is one histogram entry.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats is the aggregate pushed to admin observers.
type Stats struct {
	OnlineCount   int            `json:"onlineUsers"`
	TagHistogram  map[string]int `json:"tagHistogram"`
	TopTags       []TagCount     `json:"activeTags"`
	TotalMessages int64          `json:"totalMessages"`
	TotalViews    int64          `json:"totalViews"`
}

// Compute counts every registered participant, whether idle, waiting or in a
// room, and tallies their interest tags. TopTags is sorted by count
// descending; ties keep the order in which tags were first encountered while
// walking the snapshot in registration order.
func Compute(snapshot []session.Participant) Stats {
	hist := make(map[string]int)
	var order []string
	for _, p := range snapshot {
		for _, tag := range p.Interests {
			if _, ok := hist[tag]; !ok {
				order = append(order, tag)
			}
			hist[tag]++
		}
	}

	top := make([]TagCount, 0, len(order))
	for _, tag := range order {
		top = append(top, TagCount{Tag: tag, Count: hist[tag]})
	}
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Count > top[j].Count
	})
	if len(top) > TopTagsLimit {
		top = top[:TopTagsLimit]
	}

	return Stats{
		OnlineCount:  len(snapshot),
		TagHistogram: hist,
		TopTags:      top,
	}
}
