package papertutor

import (
	"sort"

	"github.com/salmanmuddhoo/papertutor/store"
)

const rrfK = 60 // RRF constant (standard value from literature)

// fuseRRF combines full-text and vector search results with Reciprocal
// Rank Fusion. Each result set is ranked independently, then scores are
// combined using: score = sum(weight_i / (k + rank_i)). Questions found
// by both methods rise to the top.
func fuseRRF(ftsResults, vecResults []store.SearchResult, weightFTS, weightVec float64, limit int) []store.SearchResult {
	type fusedEntry struct {
		result store.SearchResult
		score  float64
	}

	fused := make(map[int64]*fusedEntry)

	for rank, r := range ftsResults {
		entry, ok := fused[r.ID]
		if !ok {
			entry = &fusedEntry{result: r}
			fused[r.ID] = entry
		}
		entry.score += weightFTS / float64(rrfK+rank+1)
	}

	for rank, r := range vecResults {
		entry, ok := fused[r.ID]
		if !ok {
			entry = &fusedEntry{result: r}
			fused[r.ID] = entry
		}
		entry.score += weightVec / float64(rrfK+rank+1)
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	results := make([]store.SearchResult, len(entries))
	for i, e := range entries {
		results[i] = e.result
		results[i].Score = e.score
	}

	return results
}
