// Package query turns raw user input into an index query plus post-filter
// predicates the index syntax cannot express.
//
// Exactly one syntax class is applied per call, in this order:
//
//	"exact phrase"  words become +required terms, phrase becomes a post-filter
//	a AND b / a OR b  sides normalized recursively and rejoined
//	+word / -word   +word expands to "word* word~1", -word is kept as a negation
//	word*           passed through
//	word~N          passed through
//	plain words     each expands to "word* word~1"
//
// Text outside the quotes of a phrase query goes through the same rules, so
// phrases are layered on top of whatever other class fires. Operators of
// different classes are not otherwise composed.
package query

import (
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer/tokenizer"
)

// FilterKind selects how a PostFilter is evaluated.
type FilterKind int

const (
	// FilterPhrase requires Phrase to occur literally (case-insensitive) in
	// the concatenated searchable fields of a hit.
	FilterPhrase FilterKind = iota
	// FilterQuery requires a hit to also match the index query in Query.
	FilterQuery
)

// PostFilter is a predicate applied to raw index hits before truncation.
type PostFilter struct {
	Kind   FilterKind `json:"kind"`
	Phrase string     `json:"phrase,omitempty"`
	Query  string     `json:"query,omitempty"`
}

// Query is the normalized form of a raw query string.
type Query struct {
	Raw         string
	IndexQuery  string
	PostFilters []PostFilter
}

var phrasePattern = regexp.MustCompile(`"([^"]*)"`)

// Normalize parses raw into an index query and its post-filters.
func Normalize(raw string) Query {
	indexQuery, filters := normalize(strings.TrimSpace(raw))
	return Query{
		Raw:         raw,
		IndexQuery:  indexQuery,
		PostFilters: filters,
	}
}

func normalize(s string) (string, []PostFilter) {
	switch {
	case s == "":
		return "", nil
	case strings.Contains(s, `"`):
		return normalizePhrases(s)
	case strings.Contains(s, " AND "):
		return normalizeBoolean(s, " AND ", true)
	case strings.Contains(s, " OR "):
		return normalizeBoolean(s, " OR ", false)
	case hasMarker(s, '+'), hasMarker(s, '-'):
		return normalizeMarked(s), nil
	case strings.Contains(s, "*"), strings.Contains(s, "~"):
		return s, nil
	default:
		return expandPlain(s), nil
	}
}

func normalizePhrases(s string) (string, []PostFilter) {
	var parts []string
	var filters []PostFilter
	for _, m := range phrasePattern.FindAllStringSubmatch(s, -1) {
		phrase := strings.Join(strings.Fields(m[1]), " ")
		if phrase == "" {
			continue
		}
		for _, word := range tokenizer.Split(phrase) {
			if tokenizer.RuneLen(word) < tokenizer.MinTermLength {
				continue
			}
			parts = append(parts, "+"+word)
		}
		filters = append(filters, PostFilter{Kind: FilterPhrase, Phrase: phrase})
	}
	rest := phrasePattern.ReplaceAllString(s, " ")
	rest = strings.TrimSpace(strings.ReplaceAll(rest, `"`, " "))
	if rest != "" {
		restQuery, restFilters := normalize(rest)
		if restQuery != "" {
			parts = append(parts, restQuery)
		}
		filters = append(filters, restFilters...)
	}
	return strings.Join(parts, " "), filters
}

func normalizeBoolean(s, op string, strict bool) (string, []PostFilter) {
	var parts []string
	var filters []PostFilter
	for _, side := range strings.Split(s, op) {
		sideQuery, sideFilters := normalize(strings.TrimSpace(side))
		if sideQuery == "" {
			continue
		}
		parts = append(parts, sideQuery)
		filters = append(filters, sideFilters...)
		if strict {
			filters = append(filters, PostFilter{Kind: FilterQuery, Query: sideQuery})
		}
	}
	return strings.Join(parts, " "), filters
}

func normalizeMarked(s string) string {
	var included, excluded []string
	for _, tok := range strings.Fields(s) {
		switch {
		case len(tok) > 1 && tok[0] == '+':
			included = append(included, expandWords(tok[1:])...)
		case len(tok) > 1 && tok[0] == '-':
			for _, word := range keptWords(tok[1:]) {
				excluded = append(excluded, "-"+word)
			}
		default:
			included = append(included, expandWords(tok)...)
		}
	}
	return strings.Join(append(included, excluded...), " ")
}

func expandPlain(s string) string {
	var parts []string
	for _, tok := range strings.Fields(s) {
		parts = append(parts, expandWords(tok)...)
	}
	return strings.Join(parts, " ")
}

// expandWords turns each word of tok into a prefix clause and a one-edit
// fuzzy clause.
func expandWords(tok string) []string {
	words := keptWords(tok)
	out := make([]string, 0, len(words))
	for _, word := range words {
		out = append(out, word+"* "+word+"~1")
	}
	return out
}

func keptWords(tok string) []string {
	var out []string
	for _, word := range tokenizer.Split(tok) {
		if tokenizer.RuneLen(word) >= tokenizer.MinTermLength {
			out = append(out, word)
		}
	}
	return out
}

// hasMarker reports whether any whitespace-delimited token starts with
// marker and has something after it.
func hasMarker(s string, marker byte) bool {
	for _, tok := range strings.Fields(s) {
		if len(tok) > 1 && tok[0] == marker {
			return true
		}
	}
	return false
}

// Terms returns the positive terms the user typed, without index
// expansions: quoted phrases first, then individual words. Excluded words
// and boolean operators are dropped. Used for snippets and highlighting.
func Terms(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(term string) {
		if tokenizer.RuneLen(term) < tokenizer.MinTermLength {
			return
		}
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	for _, m := range phrasePattern.FindAllStringSubmatch(raw, -1) {
		add(strings.ToLower(strings.Join(strings.Fields(m[1]), " ")))
	}
	for _, tok := range strings.Fields(strings.ReplaceAll(raw, `"`, " ")) {
		if tok == "AND" || tok == "OR" || (len(tok) > 1 && tok[0] == '-') {
			continue
		}
		tok = strings.TrimPrefix(tok, "+")
		if i := strings.IndexByte(tok, '~'); i >= 0 {
			tok = tok[:i]
		}
		tok = strings.TrimRight(tok, "*")
		for _, word := range tokenizer.Split(tok) {
			add(word)
		}
	}
	return out
}
