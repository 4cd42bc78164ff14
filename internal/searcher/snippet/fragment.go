// Package snippet extracts result previews and highlights query terms.
//
// All matching is case- and diacritic-insensitive. Text is compared through
// tokenizer.FoldRune, which maps runes one-to-one, so match offsets index
// straight into the original text.
package snippet

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer/tokenizer"
)

// DefaultFragmentSize is the preview length in runes.
const DefaultFragmentSize = 200

const ellipsis = "..."

const (
	scoreSubstring = 1
	scoreWordStart = 2
	scoreExact     = 3
	distinctBonus  = 2
)

type match struct {
	start, end int
	term       int
	score      int
}

// ExtractFragment returns up to size runes of text around the window with
// the best term matches. Truncated edges are marked with "...". When no
// term occurs in text the leading runes are returned.
func ExtractFragment(text string, terms []string, size int) string {
	if size <= 0 {
		size = DefaultFragmentSize
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return ""
	}
	folded := tokenizer.FoldRunes(runes)
	matches := findMatches(folded, foldTerms(terms))
	if len(matches) == 0 {
		return leading(runes, folded, size)
	}

	spanStart, spanEnd := bestWindow(matches, size)
	start, end := centerWindow(len(runes), spanStart, spanEnd, size)
	start, end = trimToWords(folded, start, end, spanStart, spanEnd)

	var b strings.Builder
	if start > 0 {
		b.WriteString(ellipsis)
	}
	b.WriteString(strings.TrimSpace(string(runes[start:end])))
	if end < len(runes) {
		b.WriteString(ellipsis)
	}
	return b.String()
}

func foldTerms(terms []string) [][]rune {
	out := make([][]rune, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		out = append(out, tokenizer.FoldRunes([]rune(term)))
	}
	return out
}

// findMatches returns every occurrence of every term, ordered by start.
func findMatches(text []rune, terms [][]rune) []match {
	var out []match
	for ti, term := range terms {
		for i := 0; i+len(term) <= len(text); i++ {
			if !hasRunesAt(text, term, i) {
				continue
			}
			end := i + len(term)
			out = append(out, match{start: i, end: end, term: ti, score: matchScore(text, i, end)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].start < out[j].start
	})
	return out
}

func hasRunesAt(text, term []rune, at int) bool {
	for j, r := range term {
		if text[at+j] != r {
			return false
		}
	}
	return true
}

func matchScore(text []rune, start, end int) int {
	before := start == 0 || !tokenizer.IsWordRune(text[start-1])
	after := end == len(text) || !tokenizer.IsWordRune(text[end])
	switch {
	case before && after:
		return scoreExact
	case before:
		return scoreWordStart
	default:
		return scoreSubstring
	}
}

// bestWindow anchors a window of size runes at every match and returns the
// matched span of the highest scoring one. The earliest window wins ties.
func bestWindow(matches []match, size int) (int, int) {
	bestScore := -1
	var bestStart, bestEnd int
	for i, anchor := range matches {
		limit := anchor.start + size
		perTerm := map[int]int{anchor.term: anchor.score}
		spanEnd := anchor.end
		for _, m := range matches[i+1:] {
			if m.start >= limit {
				break
			}
			if m.end > limit {
				continue
			}
			if m.score > perTerm[m.term] {
				perTerm[m.term] = m.score
			}
			if m.end > spanEnd {
				spanEnd = m.end
			}
		}
		score := 0
		for _, s := range perTerm {
			score += s
		}
		score += distinctBonus * (len(perTerm) - 1)
		if score > bestScore {
			bestScore = score
			bestStart, bestEnd = anchor.start, spanEnd
		}
	}
	return bestStart, bestEnd
}

// centerWindow places a size-rune window centered on [spanStart, spanEnd)
// and clamps it to the text.
func centerWindow(textLen, spanStart, spanEnd, size int) (int, int) {
	if textLen <= size {
		return 0, textLen
	}
	center := (spanStart + spanEnd) / 2
	start := center - size/2
	if start > spanStart {
		start = spanStart
	}
	if start < 0 {
		start = 0
	}
	end := start + size
	if end < spanEnd {
		end = spanEnd
	}
	if end > textLen {
		end = textLen
		start = end - size
		if start > spanStart {
			start = spanStart
		}
		if start < 0 {
			start = 0
		}
	}
	return start, end
}

// trimToWords moves cut points off partial words without crossing the
// matched span.
func trimToWords(text []rune, start, end, spanStart, spanEnd int) (int, int) {
	if start > 0 && tokenizer.IsWordRune(text[start-1]) {
		for start < spanStart && tokenizer.IsWordRune(text[start]) {
			start++
		}
	}
	if end < len(text) && tokenizer.IsWordRune(text[end]) {
		for end > spanEnd && tokenizer.IsWordRune(text[end-1]) {
			end--
		}
	}
	return start, end
}

func leading(runes, folded []rune, size int) string {
	if len(runes) <= size {
		return strings.TrimSpace(string(runes))
	}
	end := size
	for end > 0 && tokenizer.IsWordRune(folded[end]) && tokenizer.IsWordRune(folded[end-1]) {
		end--
	}
	if end == 0 {
		end = size
	}
	return strings.TrimSpace(string(runes[:end])) + ellipsis
}
