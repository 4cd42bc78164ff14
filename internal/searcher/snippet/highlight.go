package snippet

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/query"
)

const (
	markOpen  = "<mark>"
	markClose = "</mark>"
)

// HighlightTerms wraps the terms of rawQuery found in text in <mark> spans.
func HighlightTerms(text, rawQuery string) string {
	return Highlight(text, query.Terms(rawQuery))
}

// Highlight wraps every occurrence of terms in text in <mark> spans.
// Longer terms are placed first and later terms never overlap them.
// Anything already inside a mark span is left alone, so highlighting an
// already highlighted text with the same terms returns it unchanged.
func Highlight(text string, terms []string) string {
	if text == "" || len(terms) == 0 {
		return text
	}
	runes := []rune(text)
	folded := tokenizer.FoldRunes(runes)
	taken := protectedRegions(runes)

	ordered := foldTerms(terms)
	sort.SliceStable(ordered, func(i, j int) bool {
		if len(ordered[i]) != len(ordered[j]) {
			return len(ordered[i]) > len(ordered[j])
		}
		return string(ordered[i]) < string(ordered[j])
	})

	type span struct{ start, end int }
	var spans []span
	for _, term := range ordered {
		if tokenizer.RuneLen(string(term)) < tokenizer.MinTermLength {
			continue
		}
		for i := 0; i+len(term) <= len(folded); {
			if hasRunesAt(folded, term, i) && free(taken, i, i+len(term)) {
				for k := i; k < i+len(term); k++ {
					taken[k] = true
				}
				spans = append(spans, span{i, i + len(term)})
				i += len(term)
				continue
			}
			i++
		}
	}
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	b.Grow(len(text) + len(spans)*(len(markOpen)+len(markClose)))
	prev := 0
	for _, s := range spans {
		b.WriteString(string(runes[prev:s.start]))
		b.WriteString(markOpen)
		b.WriteString(string(runes[s.start:s.end]))
		b.WriteString(markClose)
		prev = s.end
	}
	b.WriteString(string(runes[prev:]))
	return b.String()
}

// protectedRegions flags every rune belonging to an existing mark span,
// tags included. An unclosed span runs to the end of text.
func protectedRegions(runes []rune) []bool {
	taken := make([]bool, len(runes))
	open, closing := []rune(markOpen), []rune(markClose)
	for i := 0; i+len(open) <= len(runes); i++ {
		if !hasRunesAt(runes, open, i) {
			continue
		}
		end := len(runes)
		for j := i + len(open); j+len(closing) <= len(runes); j++ {
			if hasRunesAt(runes, closing, j) {
				end = j + len(closing)
				break
			}
		}
		for k := i; k < end; k++ {
			taken[k] = true
		}
		i = end - 1
	}
	return taken
}

func free(taken []bool, start, end int) bool {
	for k := start; k < end; k++ {
		if taken[k] {
			return false
		}
	}
	return true
}
