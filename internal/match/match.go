// Package match locates the unique range of a file that an edit replaces.
//
// Tiers from the normalize package are tried strictest first. The first tier
// that finds anything decides the outcome: exactly the expected number of
// occurrences is a match, more is an ambiguity, fewer is a miss. Looser tiers
// are never consulted once a stricter tier has seen an occurrence.
package match

import (
	"fmt"
	"strings"

	"scribe/internal/errors"
	"scribe/internal/normalize"
)

// Query is what the caller asks to replace.
type Query struct {
	Old string `json:"old_string"`
	New string `json:"new_string"`
	// Expected is the number of occurrences the caller expects; 0 means 1.
	Expected int `json:"expected_replacements,omitempty"`
}

// TierCount records how many occurrences a tier found.
type TierCount struct {
	Tier  normalize.Tier `json:"tier"`
	Count int            `json:"count"`
}

// Result is a located occurrence. Start and End are byte offsets into the
// original, un-normalized text.
type Result struct {
	Start  int            `json:"start"`
	End    int            `json:"end"`
	Tier   normalize.Tier `json:"tier"`
	Counts []TierCount    `json:"counts"`
}

// FindUnique returns the single occurrence of old inside text.
func FindUnique(text, old string) (Result, error) {
	results, err := Find(text, Query{Old: old, Expected: 1})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// Find returns exactly q.Expected non-overlapping occurrences of q.Old.
func Find(text string, q Query) ([]Result, error) {
	expected := q.Expected
	if expected == 0 {
		expected = 1
	}
	if expected < 0 {
		return nil, errors.InvalidRequest("expected replacement count must be positive")
	}

	if q.Old == "" {
		if text != "" {
			return nil, errors.InvalidRequest("old_string is empty but the file is not; an empty search string is only valid when creating content in an empty file")
		}
		if expected != 1 {
			return nil, errors.InvalidRequest("an empty search string matches exactly once")
		}
		counts := []TierCount{{Tier: normalize.Exact, Count: 1}}
		return []Result{{Tier: normalize.Exact, Counts: counts}}, nil
	}

	var counts []TierCount
	for _, tier := range normalize.Tiers() {
		hay := normalize.Normalize(text, tier)
		needle := normalize.Normalize(q.Old, tier).Value
		if needle == "" {
			// A whitespace-only needle vanishes under this tier.
			counts = append(counts, TierCount{Tier: tier})
			continue
		}

		positions := occurrences(hay.Value, needle, tier == normalize.LineTrim)
		counts = append(counts, TierCount{Tier: tier, Count: len(positions)})

		switch n := len(positions); {
		case n == 0:
			continue
		case n > expected:
			return nil, errors.Ambiguous(tier.String(), n, counts)
		case n < expected:
			return nil, errors.NotFound(
				fmt.Sprintf("expected %d occurrences of the string to replace, found %d (tier %s)", expected, n, tier),
				counts,
			)
		}

		results := make([]Result, 0, len(positions))
		for i, pos := range positions {
			if i > 0 && pos < positions[i-1]+len(needle) {
				return nil, errors.Ambiguous(tier.String(), len(positions), counts)
			}
			start, end := hay.Span(pos, pos+len(needle))
			results = append(results, Result{Start: start, End: end, Tier: tier})
		}
		for i := range results {
			results[i].Counts = counts
		}
		return results, nil
	}

	return nil, errors.NotFound("string to replace not found in file", counts)
}

// occurrences returns every start position of needle in hay, overlapping
// ones included. With wholeLines set, only occurrences covering whole lines
// are kept.
func occurrences(hay, needle string, wholeLines bool) []int {
	var positions []int
	for from := 0; from <= len(hay)-len(needle); {
		idx := strings.Index(hay[from:], needle)
		if idx < 0 {
			break
		}
		pos := from + idx
		if !wholeLines || coversLines(hay, needle, pos) {
			positions = append(positions, pos)
		}
		from = pos + 1
	}
	return positions
}

func coversLines(hay, needle string, pos int) bool {
	startsLine := pos == 0 || hay[pos-1] == '\n' || needle[0] == '\n'
	end := pos + len(needle)
	endsLine := end == len(hay) || hay[end] == '\n' || needle[len(needle)-1] == '\n'
	return startsLine && endsLine
}
