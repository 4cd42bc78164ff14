// Package ranker scores index hits and orders search results.
//
// Scoring is BM25 over boosted term frequency. Ordering is an editorial
// policy layered on top of relevance: titles before sections before
// paragraphs, then the canonical author order, then score.
package ranker

import (
	"math"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

const (
	k1 = 1.2
	b  = 0.75
)

// Accumulate adds weight times the BM25 contribution of one term's postings
// to scores, keyed by document ordinal.
func Accumulate(ix *index.Index, postings index.PostingList, weight float64, scores map[int]float64) {
	if len(postings) == 0 {
		return
	}
	idf := computeIDF(int64(ix.Len()), int64(len(postings)))
	boosts := ix.Boosts()
	for _, posting := range postings {
		tfNorm := computeTFNorm(
			posting.Weighted(boosts),
			ix.DocLength(posting.Doc),
			ix.AvgDocLength(),
		)
		scores[posting.Doc] += weight * idf * tfNorm
	}
}

// Round trims a score to four decimals so equal relevance compares equal.
func Round(score float64) float64 {
	return math.Round(score*10000) / 10000
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}

// AuthorOrder ranks authors by a fixed curation table. Unknown authors all
// share the last rank.
type AuthorOrder struct {
	ranks   map[string]int
	unknown int
}

// NewAuthorOrder builds an AuthorOrder from names in rank order. Names are
// compared after folding, so "Bahá'u'lláh" and "Bahaullah" share a rank.
func NewAuthorOrder(names []string) AuthorOrder {
	o := AuthorOrder{
		ranks:   make(map[string]int, len(names)),
		unknown: len(names),
	}
	for i, name := range names {
		key := authorKey(name)
		if _, exists := o.ranks[key]; !exists {
			o.ranks[key] = i
		}
	}
	return o
}

// Rank returns the position of author in the table.
func (o AuthorOrder) Rank(author string) int {
	if r, ok := o.ranks[authorKey(author)]; ok {
		return r
	}
	return o.unknown
}

func authorKey(name string) string {
	return strings.Join(tokenizer.Terms(name), " ")
}

// Sort orders results by kind, author rank and descending score. Ties fall
// back to document id so the order is reproducible.
func Sort(results []proto.SearchResult, order AuthorOrder) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if ka, kb := a.Kind.Rank(), b.Kind.Rank(); ka != kb {
			return ka < kb
		}
		if ra, rb := order.Rank(a.Author), order.Rank(b.Author); ra != rb {
			return ra < rb
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ID < b.ID
	})
}
