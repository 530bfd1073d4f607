package query

import (
	"regexp"
	"strings"

	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

// MatchCutoff is the lowest similarity at which a token is accepted as a kind.
const MatchCutoff = 0.5

var typeSep = regexp.MustCompile(`[\s,;]+`)

// SplitTypes splits a raw type parameter into tokens.
func SplitTypes(raw string) []string {
	var out []string
	for _, t := range typeSep.Split(raw, -1) {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// MatchKinds maps each token to the closest kind name. Tokens with no kind
// at or above MatchCutoff are returned in unmatched. When nothing matches
// every kind is selected.
func MatchKinds(tokens []string) (kinds []types.Kind, unmatched []string) {
	seen := make(map[types.Kind]bool)
	for _, tok := range tokens {
		k, ok := closestKind(strings.ToLower(tok))
		if !ok {
			unmatched = append(unmatched, tok)
			continue
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	if len(kinds) == 0 {
		kinds = append(kinds, types.Kinds...)
	}
	return kinds, unmatched
}

func closestKind(tok string) (types.Kind, bool) {
	var (
		best  types.Kind
		score = -1.0
	)
	for _, k := range types.Kinds {
		if s := similarity(tok, k.String()); s > score {
			best, score = k, s
		}
	}
	return best, score >= MatchCutoff
}

// similarity is 2·LCS(a, b) / (len(a) + len(b)), where LCS is the length of
// the longest common subsequence.
func similarity(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 1
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return 2 * float64(prev[len(b)]) / float64(len(a)+len(b))
}
