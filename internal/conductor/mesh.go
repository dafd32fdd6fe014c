package conductor

import (
	"strings"

	"github.com/rendis/conductor/pkg/schema"
)

// BuildMeshConfigs merges overlapping cycle sets and produces one
// MeshConfig per disjoint merged set.
//
// Merging is a fixed-point scan: find any two sets sharing a node,
// merge them, drop the duplicate, restart, until no pair intersects.
// Non-positive maxIterations or threshold fall back to the defaults.
func BuildMeshConfigs(cycles [][]string, maxIterations int, threshold float64) []schema.MeshConfig {
	if maxIterations <= 0 {
		maxIterations = schema.DefaultMeshMaxIterations
	}
	if threshold <= 0 {
		threshold = schema.DefaultMeshConvergenceThreshold
	}

	sets := make([][]string, 0, len(cycles))
	for _, c := range cycles {
		if len(c) == 0 {
			continue
		}
		set := make([]string, len(c))
		copy(set, c)
		sets = append(sets, set)
	}

	for {
		merged := false
	scan:
		for i := 0; i < len(sets); i++ {
			for j := i + 1; j < len(sets); j++ {
				if intersects(sets[i], sets[j]) {
					sets[i] = unionOrdered(sets[i], sets[j])
					sets = append(sets[:j], sets[j+1:]...)
					merged = true
					break scan
				}
			}
		}
		if !merged {
			break
		}
	}

	configs := make([]schema.MeshConfig, 0, len(sets))
	for _, set := range sets {
		configs = append(configs, schema.MeshConfig{
			NodeIDs:              set,
			MaxIterations:        maxIterations,
			ConvergenceThreshold: threshold,
		})
	}
	return configs
}

func intersects(a, b []string) bool {
	seen := make(map[string]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if seen[id] {
			return true
		}
	}
	return false
}

// unionOrdered appends the members of b not already in a, preserving
// first-appearance order.
func unionOrdered(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			a = append(a, id)
		}
	}
	return a
}

// TextSimilarity computes case-insensitive Jaccard similarity over
// whitespace-separated word tokens. Identical strings score 1, a single
// empty side scores 0, two empty strings score 1.
func TextSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	tokensA := strings.Fields(strings.ToLower(a))
	tokensB := strings.Fields(strings.ToLower(b))
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(tokensA))
	for _, t := range tokensA {
		setA[t] = true
	}
	setB := make(map[string]bool, len(tokensB))
	for _, t := range tokensB {
		setB[t] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

// CheckConvergence reports whether two consecutive mesh rounds are
// similar enough to stop iterating. The first round never converges
// (empty prev). The score is the average TextSimilarity over node ids
// present in both maps; ids present in only one map are ignored. With
// no shared ids there is no evidence of convergence.
func CheckConvergence(prev, curr map[string]string, threshold float64) bool {
	if len(prev) == 0 {
		return false
	}

	var total float64
	shared := 0
	for id, prevOut := range prev {
		currOut, ok := curr[id]
		if !ok {
			continue
		}
		total += TextSimilarity(prevOut, currOut)
		shared++
	}
	if shared == 0 {
		return false
	}
	return total/float64(shared) >= threshold
}
