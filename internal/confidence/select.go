// ABOUTME: Pure active-tool selection from a confidence ranking
// ABOUTME: Threshold filter with top-k fallback, built-ins always included

package confidence

import (
	"sort"
)

// SelectActive returns the names the model may call this turn.
//
// A nil ranking offers every registered tool. A ranking with no candidates
// offers only the built-ins. Otherwise candidates at or above the threshold
// are kept, falling back to the top k when none qualify; built-ins are
// appended and the result is intersected with registered.
func SelectActive(ranking *Ranking, registered []string, builtins []string) []string {
	known := make(map[string]bool, len(registered))
	for _, name := range registered {
		known[name] = true
	}

	if ranking == nil {
		return append([]string(nil), registered...)
	}

	var chosen []string
	if len(ranking.Tools) > 0 {
		ranked := append([]Candidate(nil), ranking.Tools...)
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Confidence > ranked[j].Confidence
		})

		threshold := 0.0
		if ranking.Threshold != nil {
			threshold = *ranking.Threshold
		}
		for _, c := range ranked {
			if c.Confidence >= threshold {
				chosen = append(chosen, c.ToolName())
			}
		}
		if len(chosen) == 0 {
			k := ranking.TopK
			if k <= 0 {
				k = DefaultTopK
			}
			for _, c := range ranked[:min(k, len(ranked))] {
				chosen = append(chosen, c.ToolName())
			}
		}
	}
	chosen = append(chosen, builtins...)

	seen := make(map[string]bool, len(chosen))
	out := make([]string, 0, len(chosen))
	for _, name := range chosen {
		if !known[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
