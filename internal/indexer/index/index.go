package index

import (
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2/search"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// MaxFuzzyDistance caps the edit distance accepted by FuzzyTerms.
const MaxFuzzyDistance = 2

// Index is an immutable inverted index over a fixed document set. It is
// produced by Build and never mutated afterwards, so it can be shared by
// concurrent readers without locking.
type Index struct {
	docs      []proto.Document
	boosts    Boosts
	terms     []string
	postings  map[string]PostingList
	docLen    []float64
	avgDocLen float64
}

// Empty returns an index with no documents.
func Empty() *Index {
	return Build(nil, DefaultBoosts)
}

// Build tokenizes the four searchable fields of docs into a new Index.
// Documents repeating an already seen ID are ignored.
func Build(docs []proto.Document, boosts Boosts) *Index {
	ix := &Index{
		docs:     make([]proto.Document, 0, len(docs)),
		boosts:   boosts,
		postings: make(map[string]PostingList),
	}
	seen := make(map[string]struct{}, len(docs))
	var totalLen float64
	for _, doc := range docs {
		if _, dup := seen[doc.ID]; dup {
			continue
		}
		seen[doc.ID] = struct{}{}
		ord := len(ix.docs)
		ix.docs = append(ix.docs, doc)

		termData := make(map[string]*Posting)
		var weightedLen float64
		for f, text := range fieldTexts(doc) {
			for _, token := range tokenizer.Tokenize(text) {
				p, exists := termData[token.Term]
				if !exists {
					p = &Posting{Doc: ord}
					termData[token.Term] = p
				}
				p.Freq[f]++
				weightedLen += boosts[f]
			}
		}
		for term, posting := range termData {
			ix.postings[term] = append(ix.postings[term], *posting)
		}
		ix.docLen = append(ix.docLen, weightedLen)
		totalLen += weightedLen
	}
	ix.terms = make([]string, 0, len(ix.postings))
	for term := range ix.postings {
		ix.terms = append(ix.terms, term)
	}
	sort.Strings(ix.terms)
	if len(ix.docs) > 0 {
		ix.avgDocLen = totalLen / float64(len(ix.docs))
	}
	return ix
}

func fieldTexts(doc proto.Document) [NumFields]string {
	return [NumFields]string{
		FieldTitle:   doc.Title,
		FieldAuthor:  doc.Author,
		FieldSection: doc.Section,
		FieldText:    doc.Text,
	}
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	return len(ix.docs)
}

// Doc returns the document with the given ordinal.
func (ix *Index) Doc(ord int) proto.Document {
	return ix.docs[ord]
}

// Documents returns the indexed documents in build order. Callers must not
// modify the returned slice.
func (ix *Index) Documents() []proto.Document {
	return ix.docs
}

// Boosts returns the field weights the index was built with.
func (ix *Index) Boosts() Boosts {
	return ix.boosts
}

// TermCount returns the size of the term dictionary.
func (ix *Index) TermCount() int {
	return len(ix.terms)
}

// Postings returns the posting list of an exact, already folded term.
func (ix *Index) Postings(term string) PostingList {
	return ix.postings[term]
}

// DocLength returns the boosted token count of a document.
func (ix *Index) DocLength(ord int) float64 {
	return ix.docLen[ord]
}

// AvgDocLength returns the mean boosted token count.
func (ix *Index) AvgDocLength() float64 {
	return ix.avgDocLen
}

// PrefixTerms returns every dictionary term starting with prefix, in
// lexical order.
func (ix *Index) PrefixTerms(prefix string) []string {
	start := sort.SearchStrings(ix.terms, prefix)
	var out []string
	for i := start; i < len(ix.terms) && strings.HasPrefix(ix.terms[i], prefix); i++ {
		out = append(out, ix.terms[i])
	}
	return out
}

// FuzzyTerms returns every dictionary term within maxDist edits of term,
// in lexical order. maxDist is clamped to MaxFuzzyDistance.
func (ix *Index) FuzzyTerms(term string, maxDist int) []string {
	if maxDist > MaxFuzzyDistance {
		maxDist = MaxFuzzyDistance
	}
	if maxDist <= 0 {
		if _, ok := ix.postings[term]; ok {
			return []string{term}
		}
		return nil
	}
	var out []string
	for _, cand := range ix.terms {
		if abs(len(cand)-len(term)) > maxDist {
			continue
		}
		dist, exceeded := search.LevenshteinDistanceMax(term, cand, maxDist)
		if !exceeded && dist <= maxDist {
			out = append(out, cand)
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
