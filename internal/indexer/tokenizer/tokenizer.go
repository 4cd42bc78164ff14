// Package tokenizer provides text tokenisation for the search engine.
// It lower-cases input, joins words across apostrophes, splits on every
// other non-alphanumeric boundary and folds diacritics so that "Aqdás"
// and "aqdas" produce the same term.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MinTermLength is the shortest term, in runes, kept by Tokenize.
const MinTermLength = 2

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into folded, lowercased Tokens. Terms shorter than
// MinTermLength are dropped.
func Tokenize(text string) []Token {
	words := Split(text)
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		term := Fold(word)
		if RuneLen(term) < MinTermLength {
			continue
		}
		tokens = append(tokens, Token{
			Term:     term,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// Terms returns only the term strings of Tokenize(text).
func Terms(text string) []string {
	tokens := Tokenize(text)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

// Split lower-cases text and splits it into words. Accented letters are
// preserved; apostrophes are removed so that "Bahá'u'lláh" stays one word.
func Split(text string) []string {
	text = strings.ToLower(text)
	text = strings.Map(func(r rune) rune {
		if isApostrophe(r) {
			return -1
		}
		return r
	}, text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !IsWordRune(r)
	})
}

// IsWordRune reports whether r can be part of a term.
func IsWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// Fold lower-cases s and strips combining diacritical marks.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return folded
}

// FoldRune is the single-rune form of Fold. It keeps a one-to-one mapping
// between input and output runes so callers can map match offsets back to
// the original text.
func FoldRune(r rune) rune {
	r = unicode.ToLower(r)
	if r < unicode.MaxASCII {
		return r
	}
	for _, c := range norm.NFD.String(string(r)) {
		return c
	}
	return r
}

// FoldRunes applies FoldRune to every rune of s.
func FoldRunes(s []rune) []rune {
	out := make([]rune, len(s))
	for i, r := range s {
		out[i] = FoldRune(r)
	}
	return out
}

// RuneLen returns the number of runes in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

func isApostrophe(r rune) bool {
	switch r {
	case '\'', '’', '‘', '`', 'ʼ':
		return true
	}
	return false
}
