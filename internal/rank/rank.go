// Package rank fuses vector-similarity and keyword result sets into a
// single relevance ranking.
package rank

import "sort"

// Default fusion weights. Empirically chosen, override via configuration.
const (
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

// Result pairs an entry id with a relevance score.
type Result struct {
	ID    string
	Score float64
}

// Fuse combines a vector result set (scores already in [0,1]) and a keyword
// result set (raw scores >= 0) into one ranking. Keyword scores are
// normalized against the maximum in the set, so the top keyword hit always
// contributes 1.0 before weighting. An id present in only one set
// contributes 0 for the missing term. Duplicate ids within one set keep the
// higher score. The fused list is sorted by descending score, ties broken
// by id for determinism, and truncated to limit.
//
// Negative weights fall back to the defaults; an explicit zero is honored
// and disables that signal.
func Fuse(vector, keyword []Result, vectorWeight, keywordWeight float64, limit int) []Result {
	if vectorWeight < 0 {
		vectorWeight = DefaultVectorWeight
	}
	if keywordWeight < 0 {
		keywordWeight = DefaultKeywordWeight
	}

	vecBest := bestByID(vector)
	kwBest := bestByID(keyword)

	var maxKw float64
	for _, s := range kwBest {
		if s > maxKw {
			maxKw = s
		}
	}

	fused := make(map[string]float64, len(vecBest)+len(kwBest))
	for id, s := range vecBest {
		fused[id] = vectorWeight * clamp01(s)
	}
	for id, s := range kwBest {
		norm := 0.0
		if maxKw > 0 {
			norm = s / maxKw
		}
		fused[id] += keywordWeight * norm
	}

	out := make([]Result, 0, len(fused))
	for id, s := range fused {
		out = append(out, Result{ID: id, Score: clamp01(s)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func bestByID(results []Result) map[string]float64 {
	best := make(map[string]float64, len(results))
	for _, r := range results {
		if s, ok := best[r.ID]; !ok || r.Score > s {
			best[r.ID] = r.Score
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
