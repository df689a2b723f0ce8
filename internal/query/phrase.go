package query

import (
	"context"
	"fmt"
	"slices"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"
)

// maxPhraseVariants bounds how many positional arrangements a sloppy phrase
// expands to. Arrangements past the bound are not searched.
const maxPhraseVariants = 128

// slopPhraseQuery matches a phrase whose terms may sit up to Slop positions
// away from the exact arrangement. Moving a term one position costs one;
// swapping two neighbouring terms costs two. The exact phrase scores highest.
type slopPhraseQuery struct {
	Phrase   string `json:"phrase"`
	FieldVal string `json:"field,omitempty"`
	Slop     int    `json:"slop"`
}

func newSlopPhraseQuery(phrase, field string, slop int) *slopPhraseQuery {
	return &slopPhraseQuery{Phrase: phrase, FieldVal: field, Slop: slop}
}

func (q *slopPhraseQuery) Field() string {
	return q.FieldVal
}

func (q *slopPhraseQuery) SetField(f string) {
	q.FieldVal = f
}

// Searcher analyzes the phrase with the field's analyzer and searches the
// disjunction of its arrangements.
func (q *slopPhraseQuery) Searcher(ctx context.Context, r index.IndexReader, m mapping.IndexMapping, options search.SearcherOptions) (search.Searcher, error) {
	field := q.FieldVal
	if field == "" {
		field = m.DefaultSearchField()
	}
	analyzerName := m.AnalyzerNameForPath(field)
	analyzer := m.AnalyzerNamed(analyzerName)
	if analyzer == nil {
		return nil, fmt.Errorf("no analyzer named %q registered", analyzerName)
	}

	terms := phraseTerms(analyzer.Analyze([]byte(q.Phrase)))
	if len(terms) == 0 {
		return blevequery.NewMatchNoneQuery().Searcher(ctx, r, m, options)
	}

	variants := phraseVariants(terms, q.Slop)
	queries := make([]blevequery.Query, len(variants))
	for i, v := range variants {
		pq := blevequery.NewMultiPhraseQuery(v, field)
		if i == 0 {
			pq.SetBoost(phraseBoost)
		}
		queries[i] = pq
	}
	d := blevequery.NewDisjunctionQuery(queries)
	d.SetMin(1)
	return d.Searcher(ctx, r, m, options)
}

// phraseTerms groups tokens by position. Positions without a token, such as
// those of removed stop words, stay as empty slots.
func phraseTerms(tokens analysis.TokenStream) [][]string {
	if len(tokens) == 0 {
		return nil
	}
	first, last := tokens[0].Position, tokens[0].Position
	for _, tok := range tokens {
		first = min(first, tok.Position)
		last = max(last, tok.Position)
	}
	terms := make([][]string, last-first+1)
	for _, tok := range tokens {
		pos := tok.Position - first
		terms[pos] = append(terms[pos], string(tok.Term))
	}
	return terms
}

// phraseVariants lists the arrangements of terms reachable within slop. The
// first variant is always the exact phrase.
func phraseVariants(terms [][]string, slop int) [][][]string {
	type order struct {
		terms [][]string
		cost  int
	}
	orders := []order{{terms, 0}}
	if slop >= 2 {
		for i := 0; i+1 < len(terms); i++ {
			swapped := slices.Clone(terms)
			swapped[i], swapped[i+1] = swapped[i+1], swapped[i]
			orders = append(orders, order{swapped, 2})
		}
	}

	var out [][][]string
	for _, o := range orders {
		out = appendGapped(out, o.terms, slop-o.cost)
	}
	return out
}

// appendGapped appends every arrangement of terms with at most budget empty
// slots inserted between neighbouring terms.
func appendGapped(out [][][]string, terms [][]string, budget int) [][][]string {
	var walk func(i, left int, cur [][]string)
	walk = func(i, left int, cur [][]string) {
		if len(out) >= maxPhraseVariants {
			return
		}
		cur = append(cur, terms[i])
		if i == len(terms)-1 {
			out = append(out, slices.Clone(cur))
			return
		}
		for gap := 0; gap <= left; gap++ {
			next := cur
			for range gap {
				next = append(next, nil)
			}
			walk(i+1, left-gap, next)
		}
	}
	walk(0, budget, nil)
	return out
}
