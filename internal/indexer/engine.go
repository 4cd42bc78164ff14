// Package indexer owns the searchable index. The index itself is an
// immutable value; every mutation builds a new one and swaps it in, so a
// search running during a rebuild keeps using the previous index.
package indexer

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/snippet"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// Weights applied to terms reached through a clause expansion rather than
// an exact match.
const (
	exactWeight  = 1.0
	prefixWeight = 0.6
	fuzzyWeight  = 0.4
)

// Options configures an Engine.
type Options struct {
	Boosts         index.Boosts
	AuthorOrder    []string
	MinQueryLength int
	FragmentSize   int
}

// DefaultOptions mirrors config.Default.
func DefaultOptions() Options {
	cfg := config.Default()
	return OptionsFromConfig(cfg.Index, cfg.Search)
}

// OptionsFromConfig maps the index and search config sections to Options.
func OptionsFromConfig(idx config.IndexConfig, search config.SearchConfig) Options {
	return Options{
		Boosts: index.Boosts{
			index.FieldTitle:   idx.TitleBoost,
			index.FieldAuthor:  idx.AuthorBoost,
			index.FieldSection: idx.SectionBoost,
			index.FieldText:    idx.TextBoost,
		},
		AuthorOrder:    idx.AuthorOrder,
		MinQueryLength: search.MinQueryLength,
		FragmentSize:   search.FragmentSize,
	}
}

type termMatch struct {
	term   string
	weight float64
}

// served pairs an index with its generation. Expansions are memoized per
// generation, so both are swapped together.
type served struct {
	ix  *index.Index
	gen uint64
}

// Engine builds, swaps and searches the in-memory index. It is safe for
// concurrent use.
type Engine struct {
	current    atomic.Pointer[served]
	buildMu    sync.Mutex
	expansions *ristretto.Cache
	opts       Options
	order      ranker.AuthorOrder
	logger     *slog.Logger
}

// NewEngine returns an Engine serving an empty index.
func NewEngine(opts Options) (*Engine, error) {
	if opts.MinQueryLength <= 0 {
		opts.MinQueryLength = 3
	}
	if opts.FragmentSize <= 0 {
		opts.FragmentSize = snippet.DefaultFragmentSize
	}
	expansions, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	e := &Engine{
		expansions: expansions,
		opts:       opts,
		order:      ranker.NewAuthorOrder(opts.AuthorOrder),
		logger:     slog.Default().With("component", "indexer"),
	}
	e.current.Store(&served{ix: index.Build(nil, opts.Boosts)})
	return e, nil
}

// BuildIndex replaces the index with one built from docs and returns the
// number of indexed documents.
func (e *Engine) BuildIndex(docs []proto.Document) int {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()
	return e.swap(docs)
}

// LoadChunk adds docs to the current index, replacing documents that share
// an id, and returns the resulting document count.
func (e *Engine) LoadChunk(docs []proto.Document) int {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()
	return e.swap(MergeDocuments(e.current.Load().ix.Documents(), docs))
}

// ClearIndex swaps in an empty index.
func (e *Engine) ClearIndex() {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()
	e.swap(nil)
}

func (e *Engine) swap(docs []proto.Document) int {
	start := time.Now()
	ix := index.Build(docs, e.opts.Boosts)
	gen := e.current.Load().gen + 1
	e.current.Store(&served{ix: ix, gen: gen})
	e.logger.Info("index swapped",
		"documents", ix.Len(),
		"terms", ix.TermCount(),
		"generation", gen,
		"took", time.Since(start),
	)
	return ix.Len()
}

// DocCount returns the number of documents in the serving index.
func (e *Engine) DocCount() int {
	return e.current.Load().ix.Len()
}

// Documents returns the documents of the serving index.
func (e *Engine) Documents() []proto.Document {
	return e.current.Load().ix.Documents()
}

// Close releases the expansion cache.
func (e *Engine) Close() {
	e.expansions.Close()
}

// Search runs raw through the query processor and the serving index.
// Queries shorter than the minimum length return an empty response.
func (e *Engine) Search(raw string, limit int) *proto.SearchResponse {
	if tokenizer.RuneLen(strings.TrimSpace(raw)) < e.opts.MinQueryLength {
		return proto.EmptyResponse(raw)
	}
	cur := e.current.Load()
	ix, gen := cur.ix, cur.gen
	q := query.Normalize(raw)

	hits := e.execute(ix, gen, q.IndexQuery)
	for _, f := range q.PostFilters {
		hits = e.applyFilter(ix, gen, f, hits)
	}

	results := make([]proto.SearchResult, 0, len(hits))
	for ord, score := range hits {
		results = append(results, proto.SearchResult{
			Document: ix.Doc(ord),
			Score:    ranker.Round(score),
		})
	}
	ranker.Sort(results, e.order)
	total := len(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	terms := query.Terms(raw)
	for i := range results {
		results[i].Fragment = snippet.ExtractFragment(results[i].Text, terms, e.opts.FragmentSize)
	}
	e.logger.Debug("query executed",
		"query", raw,
		"index_query", q.IndexQuery,
		"filters", len(q.PostFilters),
		"total", total,
		"returned", len(results),
	)
	return &proto.SearchResponse{
		Query:   raw,
		Results: results,
		Total:   total,
	}
}

// execute evaluates an index query and returns the score of every matching
// document ordinal.
func (e *Engine) execute(ix *index.Index, gen uint64, indexQuery string) map[int]float64 {
	clauses := query.ParseIndexQuery(indexQuery)
	if len(clauses) == 0 || ix.Len() == 0 {
		return map[int]float64{}
	}
	scores := make(map[int]float64)
	requiredHits := make(map[int]int)
	optionalHit := make(map[int]struct{})
	prohibited := make(map[int]struct{})
	numRequired := 0

	for _, c := range clauses {
		clauseScores := make(map[int]float64)
		for _, tm := range e.expand(ix, gen, c) {
			ranker.Accumulate(ix, ix.Postings(tm.term), tm.weight, clauseScores)
		}
		switch c.Presence {
		case query.Prohibited:
			for ord := range clauseScores {
				prohibited[ord] = struct{}{}
			}
			continue
		case query.Required:
			numRequired++
			for ord := range clauseScores {
				requiredHits[ord]++
			}
		default:
			for ord := range clauseScores {
				optionalHit[ord] = struct{}{}
			}
		}
		for ord, s := range clauseScores {
			scores[ord] += s
		}
	}

	for ord := range scores {
		_, banned := prohibited[ord]
		_, optional := optionalHit[ord]
		switch {
		case banned:
			delete(scores, ord)
		case numRequired > 0 && requiredHits[ord] < numRequired:
			delete(scores, ord)
		case numRequired == 0 && !optional:
			delete(scores, ord)
		}
	}
	return scores
}

// expand resolves a clause to the dictionary terms it matches, memoized per
// index generation.
func (e *Engine) expand(ix *index.Index, gen uint64, c query.Clause) []termMatch {
	key := strconv.FormatUint(gen, 10) + "|" + c.Key()
	if cached, ok := e.expansions.Get(key); ok {
		if matches, ok := cached.([]termMatch); ok {
			return matches
		}
	}
	weights := make(map[string]float64)
	keep := func(term string, w float64) {
		if w > weights[term] {
			weights[term] = w
		}
	}
	if len(ix.Postings(c.Term)) > 0 {
		keep(c.Term, exactWeight)
	}
	if c.Prefix {
		for _, term := range ix.PrefixTerms(c.Term) {
			keep(term, prefixWeight)
		}
	}
	if c.Fuzzy > 0 {
		for _, term := range ix.FuzzyTerms(c.Term, c.Fuzzy) {
			keep(term, fuzzyWeight)
		}
	}
	if _, ok := weights[c.Term]; ok {
		weights[c.Term] = exactWeight
	}
	matches := make([]termMatch, 0, len(weights))
	for term, w := range weights {
		matches = append(matches, termMatch{term: term, weight: w})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].term < matches[j].term })
	e.expansions.Set(key, matches, 1)
	return matches
}

func (e *Engine) applyFilter(ix *index.Index, gen uint64, f query.PostFilter, hits map[int]float64) map[int]float64 {
	switch f.Kind {
	case query.FilterPhrase:
		phrase := strings.ToLower(strings.Join(strings.Fields(f.Phrase), " "))
		for ord := range hits {
			if !strings.Contains(searchableText(ix.Doc(ord)), phrase) {
				delete(hits, ord)
			}
		}
	case query.FilterQuery:
		side := e.execute(ix, gen, f.Query)
		for ord := range hits {
			if _, ok := side[ord]; !ok {
				delete(hits, ord)
			}
		}
	}
	return hits
}

// searchableText is the lower-cased concatenation of the indexed fields
// with whitespace collapsed.
func searchableText(doc proto.Document) string {
	joined := doc.Title + " " + doc.Author + " " + doc.Section + " " + doc.Text
	return strings.ToLower(strings.Join(strings.Fields(joined), " "))
}

// MergeDocuments returns base with extra appended; an extra document
// replaces the base document with the same id in place.
func MergeDocuments(base, extra []proto.Document) []proto.Document {
	replace := make(map[string]proto.Document, len(extra))
	for _, d := range extra {
		replace[d.ID] = d
	}
	out := make([]proto.Document, 0, len(base)+len(extra))
	for _, d := range base {
		if r, ok := replace[d.ID]; ok {
			out = append(out, r)
			delete(replace, d.ID)
			continue
		}
		out = append(out, d)
	}
	for _, d := range extra {
		if r, pending := replace[d.ID]; pending {
			out = append(out, r)
			delete(replace, d.ID)
		}
	}
	return out
}
