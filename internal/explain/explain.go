// Package explain derives the human-readable context returned with a score.
package explain

import (
	"math"
	"sort"

	"github.com/mbd888/pulseguard/internal/features"
)

// Defaults for explanation sizes.
const (
	DefaultTopFeatures = 3
	DefaultPathLimit   = 3
)

// Explanation is the explainability block of a score response.
type Explanation struct {
	TopFeatures  []string           `json:"top_features"`
	DagPaths     [][]string         `json:"dag_paths"`
	GraphMetrics map[string]float64 `json:"graph_metrics"`
}

// TopFeatures ranks feature keys by summed absolute magnitude across the
// batch and returns the first k names. Ties break by key name.
func TopFeatures(vectors []features.Vector, k int) []string {
	if len(vectors) == 0 || k <= 0 {
		return []string{}
	}

	totals := make(map[string]float64)
	for _, v := range vectors {
		for key, x := range v {
			totals[key] += math.Abs(x)
		}
	}

	keys := make([]string, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if totals[keys[i]] != totals[keys[j]] {
			return totals[keys[i]] > totals[keys[j]]
		}
		return keys[i] < keys[j]
	})

	if len(keys) > k {
		keys = keys[:k]
	}
	return keys
}

// SubgraphContext returns the first limit paths unchanged.
func SubgraphContext(paths [][]string, limit int) [][]string {
	if limit < 0 {
		limit = 0
	}
	if len(paths) < limit {
		limit = len(paths)
	}
	out := make([][]string, limit)
	copy(out, paths[:limit])
	return out
}

// Build assembles an Explanation with the default sizes.
func Build(vectors []features.Vector, paths [][]string, metrics map[string]float64) Explanation {
	if metrics == nil {
		metrics = map[string]float64{}
	}
	return Explanation{
		TopFeatures:  TopFeatures(vectors, DefaultTopFeatures),
		DagPaths:     SubgraphContext(paths, DefaultPathLimit),
		GraphMetrics: metrics,
	}
}
