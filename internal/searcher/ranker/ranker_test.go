package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

var canonical = []string{"Bahá'u'lláh", "El Báb", "'Abdu'l-Bahá", "Shoghi Effendi"}

func result(id string, kind proto.Kind, author string, score float64) proto.SearchResult {
	return proto.SearchResult{
		Document: proto.Document{ID: id, Kind: kind, Author: author},
		Score:    score,
	}
}

func ids(results []proto.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestSortKindBeatsScore(t *testing.T) {
	results := []proto.SearchResult{
		result("p", proto.KindParagraph, "Bahá'u'lláh", 99),
		result("s", proto.KindSection, "Bahá'u'lláh", 5),
		result("t", proto.KindTitle, "Bahá'u'lláh", 0.1),
	}
	Sort(results, NewAuthorOrder(canonical))
	assert.Equal(t, []string{"t", "s", "p"}, ids(results))
}

func TestSortAuthorThenScore(t *testing.T) {
	results := []proto.SearchResult{
		result("unknown-high", proto.KindParagraph, "Autor Desconocido", 50),
		result("shoghi", proto.KindParagraph, "Shoghi Effendi", 1),
		result("bab-low", proto.KindParagraph, "El Báb", 1),
		result("bab-high", proto.KindParagraph, "El Bab", 3),
		result("other-unknown", proto.KindParagraph, "Otro", 60),
	}
	Sort(results, NewAuthorOrder(canonical))
	assert.Equal(t, []string{"bab-high", "bab-low", "shoghi", "other-unknown", "unknown-high"}, ids(results))
}

func TestSortTieBreaksByID(t *testing.T) {
	results := []proto.SearchResult{
		result("b", proto.KindTitle, "X", 1),
		result("a", proto.KindTitle, "Y", 1),
	}
	Sort(results, NewAuthorOrder(nil))
	assert.Equal(t, []string{"a", "b"}, ids(results))
}

func TestAuthorOrderFoldsNames(t *testing.T) {
	o := NewAuthorOrder(canonical)
	assert.Equal(t, 0, o.Rank("Bahaullah"))
	assert.Equal(t, 2, o.Rank("‘Abdu’l-Bahá"))
	assert.Equal(t, len(canonical), o.Rank("nadie"))
}

func TestAccumulateMonotonicInBoostedFrequency(t *testing.T) {
	docs := []proto.Document{
		{ID: "once", Text: "luz y sombra de la noche", Kind: proto.KindParagraph},
		{ID: "twice", Text: "luz y luz de la noche", Kind: proto.KindParagraph},
		{ID: "title", Title: "luz", Text: "sombra y noche de la tarde", Kind: proto.KindParagraph},
		{ID: "none", Text: "sombra", Kind: proto.KindParagraph},
	}
	ix := index.Build(docs, index.DefaultBoosts)
	scores := make(map[int]float64)
	Accumulate(ix, ix.Postings("luz"), 1, scores)

	require.Len(t, scores, 3)
	assert.Greater(t, scores[1], scores[0])
	assert.Greater(t, scores[2], scores[1])
}
