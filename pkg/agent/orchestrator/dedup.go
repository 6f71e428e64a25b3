package orchestrator

import (
	"sort"

	"github.com/sniper-hq/sniper/pkg/models"
)

// DedupAndRank merges multi-keyword search results: duplicates are dropped
// by note id (full URL when the id is missing), survivors are sorted by
// descending liked count, and the list is cut to topN. topN <= 0 keeps all.
// Top-N selection always happens after dedup.
func DedupAndRank(cards []models.NoteCard, topN int) []models.NoteCard {
	seen := make(map[string]bool, len(cards))
	merged := make([]models.NoteCard, 0, len(cards))
	for _, card := range cards {
		key := card.NoteID
		if key == "" {
			key = card.FullURL
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, card)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].LikedCount > merged[j].LikedCount
	})

	if topN > 0 && len(merged) > topN {
		merged = merged[:topN]
	}
	return merged
}
