package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRules(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		index string
	}{
		{"plain", "Luz Divina", "luz* luz~1 divina* divina~1"},
		{"plain drops short tokens", "a fe y", "fe* fe~1"},
		{"plain keeps accents", "Traducción", "traducción* traducción~1"},
		{"plain strips punctuation", "¿oración?", "oración* oración~1"},
		{"required", "+justicia", "justicia* justicia~1"},
		{"excluded appended last", "-borrador luz", "luz* luz~1 -borrador"},
		{"required and excluded", "+traducción -borrador", "traducción* traducción~1 -borrador"},
		{"wildcard passthrough", "Bahá*", "Bahá*"},
		{"fuzzy passthrough", "certesa~2", "certesa~2"},
		{"hyphenated word is plain", "Kitáb-i-Aqdás", "kitáb* kitáb~1 aqdás* aqdás~1"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Normalize(tt.raw)
			assert.Equal(t, tt.index, q.IndexQuery)
			assert.Empty(t, q.PostFilters)
		})
	}
}

func TestNormalizePhrase(t *testing.T) {
	q := Normalize(`"Casa Universal de Justicia" +traducción -borrador`)
	assert.Equal(t, "+casa +universal +de +justicia traducción* traducción~1 -borrador", q.IndexQuery)
	require.Len(t, q.PostFilters, 1)
	assert.Equal(t, FilterPhrase, q.PostFilters[0].Kind)
	assert.Equal(t, "Casa Universal de Justicia", q.PostFilters[0].Phrase)
}

func TestNormalizeMultiplePhrases(t *testing.T) {
	q := Normalize(`"luz divina" "fe   viva"`)
	require.Len(t, q.PostFilters, 2)
	assert.Equal(t, "fe viva", q.PostFilters[1].Phrase)
	assert.Equal(t, "+luz +divina +fe +viva", q.IndexQuery)
}

func TestNormalizePhraseSkipsSingleLetterWords(t *testing.T) {
	q := Normalize(`"fe y certeza"`)
	assert.Equal(t, "+fe +certeza", q.IndexQuery)
	assert.Equal(t, "fe y certeza", q.PostFilters[0].Phrase)
}

func TestNormalizeBoolean(t *testing.T) {
	and := Normalize("luz AND verdad")
	assert.Equal(t, "luz* luz~1 verdad* verdad~1", and.IndexQuery)
	require.Len(t, and.PostFilters, 2)
	assert.Equal(t, FilterQuery, and.PostFilters[0].Kind)
	assert.Equal(t, "luz* luz~1", and.PostFilters[0].Query)
	assert.Equal(t, "verdad* verdad~1", and.PostFilters[1].Query)

	or := Normalize("luz OR verdad")
	assert.Equal(t, "luz* luz~1 verdad* verdad~1", or.IndexQuery)
	assert.Empty(t, or.PostFilters)
}

func TestNormalizeBooleanBindsAndFirst(t *testing.T) {
	q := Normalize("luz OR fuego AND verdad")
	require.Len(t, q.PostFilters, 2)
	assert.Equal(t, "luz* luz~1 fuego* fuego~1", q.PostFilters[0].Query)
}

func TestTerms(t *testing.T) {
	assert.Equal(t,
		[]string{"casa universal de justicia", "casa", "universal", "de", "justicia", "traducción"},
		Terms(`"Casa Universal de Justicia" +traducción -borrador`),
	)
	assert.Equal(t, []string{"bahá", "certesa"}, Terms("Bahá* certesa~2"))
	assert.Equal(t, []string{"luz", "verdad"}, Terms("luz AND verdad"))
}

func TestParseIndexQuery(t *testing.T) {
	clauses := ParseIndexQuery("+casa aqdás* certesa~2 luz~ -borrador kitáb-i-aqdás")
	require.Len(t, clauses, 7)

	assert.Equal(t, Clause{Term: "casa", Presence: Required}, clauses[0])
	assert.Equal(t, Clause{Term: "aqdas", Prefix: true}, clauses[1])
	assert.Equal(t, Clause{Term: "certesa", Fuzzy: 2}, clauses[2])
	assert.Equal(t, Clause{Term: "luz", Fuzzy: 1}, clauses[3])
	assert.Equal(t, Clause{Term: "borrador", Presence: Prohibited}, clauses[4])
	assert.Equal(t, "kitab", clauses[5].Term)
	assert.Equal(t, "aqdas", clauses[6].Term)
}

func TestClauseKey(t *testing.T) {
	assert.Equal(t, "luz*", Clause{Term: "luz", Prefix: true}.Key())
	assert.Equal(t, "luz~1", Clause{Term: "luz", Fuzzy: 1, Presence: Required}.Key())
}
