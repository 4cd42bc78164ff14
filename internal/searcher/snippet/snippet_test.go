package snippet

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

const longText = "En el principio de todas las cosas se halla el conocimiento de Dios, " +
	"y el fin de todas las cosas es la observancia estricta de lo que ha sido enviado " +
	"desde el cielo de la Voluntad Divina. Quienquiera que alcance este conocimiento " +
	"ha alcanzado todo bien, y quienquiera que se vea privado de él ha errado el camino. " +
	"La Casa Universal de Justicia ha aprobado la traducción de este pasaje, y cada palabra " +
	"ha sido revisada con cuidado para conservar el sentido del original en su totalidad."

func TestExtractFragmentCentersOnMatch(t *testing.T) {
	frag := ExtractFragment(longText, []string{"traducción"}, 80)
	assert.Contains(t, frag, "traducción")
	assert.True(t, strings.HasPrefix(frag, "..."))
	assert.True(t, strings.HasSuffix(frag, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(frag), 80+2*len("..."))
}

func TestExtractFragmentIsDiacriticInsensitive(t *testing.T) {
	frag := ExtractFragment(longText, []string{"traduccion"}, 60)
	assert.Contains(t, frag, "traducción")
}

func TestExtractFragmentPrefersDistinctTerms(t *testing.T) {
	text := "justicia aparece sola aquí. " + strings.Repeat("relleno ", 30) +
		"la casa de justicia aparece junta aquí."
	frag := ExtractFragment(text, []string{"casa", "justicia"}, 40)
	assert.Contains(t, frag, "casa de justicia")
}

func TestExtractFragmentPrefersWholeWords(t *testing.T) {
	text := "hay paz y felicidad " + strings.Repeat("relleno ", 30) + "la fe es firme"
	frag := ExtractFragment(text, []string{"fe"}, 20)
	assert.Contains(t, frag, "la fe es")
}

func TestExtractFragmentNoMatchReturnsLeadingText(t *testing.T) {
	frag := ExtractFragment(longText, []string{"inexistente"}, 50)
	assert.True(t, strings.HasPrefix(frag, "En el principio"))
	assert.True(t, strings.HasSuffix(frag, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(frag), 53)
}

func TestExtractFragmentShortText(t *testing.T) {
	assert.Equal(t, "Kitáb-i-Aqdás", ExtractFragment("Kitáb-i-Aqdás", []string{"aqdas"}, 200))
	assert.Equal(t, "", ExtractFragment("", []string{"x"}, 200))
}

func TestExtractFragmentContainsQueryTokenProperty(t *testing.T) {
	queries := []string{"cielo", "Voluntad Divina", "camino", "totalidad", "En el principio"}
	for _, q := range queries {
		frag := ExtractFragment(longText, strings.Fields(q), DefaultFragmentSize)
		found := false
		for _, tok := range strings.Fields(q) {
			if strings.Contains(strings.ToLower(frag), strings.ToLower(tok)) {
				found = true
			}
		}
		assert.True(t, found, "fragment for %q: %q", q, frag)
	}
}

func TestHighlightLongestFirst(t *testing.T) {
	out := Highlight("La Casa Universal de Justicia", []string{"casa", "casa universal"})
	assert.Equal(t, "La <mark>Casa Universal</mark> de Justicia", out)
}

func TestHighlightDiacriticInsensitive(t *testing.T) {
	out := Highlight("el Kitáb-i-Aqdás", []string{"aqdas"})
	assert.Equal(t, "el Kitáb-i-<mark>Aqdás</mark>", out)
}

func TestHighlightTermsIdempotent(t *testing.T) {
	cases := []struct{ text, query string }{
		{longText, `"Casa Universal de Justicia" +traducción -borrador`},
		{"aaa bbb aaa", "aa"},
		{"mark the marker", "mark"},
		{"abcd", "abc cd"},
	}
	for _, c := range cases {
		once := HighlightTerms(c.text, c.query)
		twice := HighlightTerms(once, c.query)
		assert.Equal(t, once, twice, "query %q", c.query)
	}
}

func TestHighlightSkipsExistingMarks(t *testing.T) {
	in := "<mark>luz</mark> y luz"
	assert.Equal(t, "<mark>luz</mark> y <mark>luz</mark>", Highlight(in, []string{"luz"}))
}

func TestHighlightNoTerms(t *testing.T) {
	assert.Equal(t, "texto", HighlightTerms("texto", "-solo"))
}
