package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/schema"
)

// phraseBoost weights an exact phrase over its sloppy arrangements.
const phraseBoost = 2.0

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"}

// RenderOptions tunes rendering.
type RenderOptions struct {
	PhraseSlop int // Slop for phrases without an explicit ~N
}

// Render translates an AST into a bleve query. Field-qualified leaves are
// rendered by the class of their field in inv; unqualified leaves match
// every analyzed field. A nil node matches everything.
func Render(n Node, inv Inventory, opts RenderOptions) (blevequery.Query, error) {
	if n == nil {
		return bleve.NewMatchAllQuery(), nil
	}
	r := renderer{inv: inv, opts: opts}
	return r.render(n)
}

type renderer struct {
	inv  Inventory
	opts RenderOptions
}

func (r renderer) render(n Node) (blevequery.Query, error) {
	switch n := n.(type) {
	case *Leaf:
		return r.leaf(n)

	case *Not:
		child, err := r.render(n.Child)
		if err != nil {
			return nil, err
		}
		b := bleve.NewBooleanQuery()
		b.AddMust(bleve.NewMatchAllQuery())
		b.AddMustNot(child)
		return b, nil

	case *And:
		var must, mustNot []blevequery.Query
		for _, c := range n.Children {
			if not, ok := c.(*Not); ok {
				q, err := r.render(not.Child)
				if err != nil {
					return nil, err
				}
				mustNot = append(mustNot, q)
				continue
			}
			q, err := r.render(c)
			if err != nil {
				return nil, err
			}
			must = append(must, q)
		}
		if len(mustNot) == 0 {
			return bleve.NewConjunctionQuery(must...), nil
		}
		b := bleve.NewBooleanQuery()
		if len(must) == 0 {
			must = append(must, bleve.NewMatchAllQuery())
		}
		b.AddMust(must...)
		b.AddMustNot(mustNot...)
		return b, nil

	case *Or:
		should := make([]blevequery.Query, 0, len(n.Children))
		for _, c := range n.Children {
			q, err := r.render(c)
			if err != nil {
				return nil, err
			}
			should = append(should, q)
		}
		d := bleve.NewDisjunctionQuery(should...)
		d.SetMin(1)
		return d, nil

	default:
		return nil, fmt.Errorf("unsupported query node %T", n)
	}
}

func (r renderer) leaf(l *Leaf) (blevequery.Query, error) {
	if l.Field == "" {
		return r.unqualified(l)
	}

	class, ok := r.inv[l.Field]
	if !ok {
		// Unmapped fields are searched with whatever analyzer bleve resolves for them.
		class = schema.ClassAnalyzed
	}

	switch class {
	case schema.ClassExact:
		return r.exact(l), nil
	case schema.ClassNumeric:
		return r.numeric(l)
	case schema.ClassDate:
		return r.date(l)
	default:
		return r.analyzed(l, l.Field), nil
	}
}

// unqualified matches l against every analyzed field of the inventory, or
// the default field when there are none.
func (r renderer) unqualified(l *Leaf) (blevequery.Query, error) {
	if l.Kind == KindRange {
		return nil, domainerrors.QuerySyntax(l.Pos, l.String(), "a range needs a field")
	}
	if l.Kind == KindWildcard && l.Value == "*" {
		return bleve.NewMatchAllQuery(), nil
	}

	fields := r.inv.AnalyzedFields()
	switch len(fields) {
	case 0:
		return r.analyzed(l, ""), nil
	case 1:
		return r.analyzed(l, fields[0]), nil
	}

	per := make([]blevequery.Query, len(fields))
	for i, f := range fields {
		per[i] = r.analyzed(l, f)
	}
	d := bleve.NewDisjunctionQuery(per...)
	d.SetMin(1)
	return d, nil
}

func (r renderer) exact(l *Leaf) blevequery.Query {
	switch l.Kind {
	case KindWildcard:
		return wildcard(l.Field, l.Value)
	case KindFuzzy:
		q := bleve.NewFuzzyQuery(l.Value)
		q.SetFuzziness(l.Fuzziness)
		q.SetField(l.Field)
		return q
	case KindRange:
		return termRange(l.Field, l.Range, false)
	default:
		q := bleve.NewTermQuery(l.Value)
		q.SetField(l.Field)
		return q
	}
}

func (r renderer) analyzed(l *Leaf, field string) blevequery.Query {
	switch l.Kind {
	case KindPhrase:
		return r.phrase(field, l.Value, l.Slop)
	case KindWildcard:
		return wildcard(field, strings.ToLower(l.Value))
	case KindFuzzy:
		q := bleve.NewMatchQuery(l.Value)
		q.SetFuzziness(l.Fuzziness)
		q.SetField(field)
		return q
	case KindRange:
		return termRange(field, l.Range, true)
	default:
		q := bleve.NewMatchQuery(l.Value)
		q.SetField(field)
		return q
	}
}

// phrase renders a phrase match, tolerating slop positions of movement.
func (r renderer) phrase(field, value string, slop int) blevequery.Query {
	if slop < 0 {
		slop = r.opts.PhraseSlop
	}
	if slop == 0 {
		exact := bleve.NewMatchPhraseQuery(value)
		exact.SetField(field)
		return exact
	}
	return newSlopPhraseQuery(value, field, slop)
}

func (r renderer) numeric(l *Leaf) (blevequery.Query, error) {
	switch l.Kind {
	case KindTerm, KindPhrase:
		v, err := parseNumber(l, l.Value)
		if err != nil {
			return nil, err
		}
		q := bleve.NewNumericRangeInclusiveQuery(&v, &v, ptr(true), ptr(true))
		q.SetField(l.Field)
		return q, nil

	case KindRange:
		var lower, upper *float64
		if l.Range.Lower != "" {
			v, err := parseNumber(l, l.Range.Lower)
			if err != nil {
				return nil, err
			}
			lower = &v
		}
		if l.Range.Upper != "" {
			v, err := parseNumber(l, l.Range.Upper)
			if err != nil {
				return nil, err
			}
			upper = &v
		}
		q := bleve.NewNumericRangeInclusiveQuery(lower, upper, ptr(l.Range.IncludeLower), ptr(l.Range.IncludeUpper))
		q.SetField(l.Field)
		return q, nil

	default:
		return nil, domainerrors.QuerySyntax(l.Pos, l.String(), fmt.Sprintf("%s is not supported on numeric field %s", l.Kind, l.Field))
	}
}

func (r renderer) date(l *Leaf) (blevequery.Query, error) {
	switch l.Kind {
	case KindTerm, KindPhrase:
		start, dayOnly, err := parseDate(l, l.Value)
		if err != nil {
			return nil, err
		}
		end, includeEnd := start, true
		if dayOnly {
			end, includeEnd = start.AddDate(0, 0, 1), false
		}
		q := bleve.NewDateRangeInclusiveQuery(start, end, ptr(true), ptr(includeEnd))
		q.SetField(l.Field)
		return q, nil

	case KindRange:
		var start, end time.Time
		if l.Range.Lower != "" {
			t, _, err := parseDate(l, l.Range.Lower)
			if err != nil {
				return nil, err
			}
			start = t
		}
		if l.Range.Upper != "" {
			t, _, err := parseDate(l, l.Range.Upper)
			if err != nil {
				return nil, err
			}
			end = t
		}
		q := bleve.NewDateRangeInclusiveQuery(start, end, ptr(l.Range.IncludeLower), ptr(l.Range.IncludeUpper))
		q.SetField(l.Field)
		return q, nil

	default:
		return nil, domainerrors.QuerySyntax(l.Pos, l.String(), fmt.Sprintf("%s is not supported on date field %s", l.Kind, l.Field))
	}
}

func wildcard(field, value string) blevequery.Query {
	if prefix, ok := strings.CutSuffix(value, "*"); ok && !strings.ContainsAny(prefix, "*?") {
		q := bleve.NewPrefixQuery(prefix)
		q.SetField(field)
		return q
	}
	q := bleve.NewWildcardQuery(value)
	q.SetField(field)
	return q
}

func termRange(field string, r *Range, lower bool) blevequery.Query {
	lo, hi := r.Lower, r.Upper
	if lower {
		lo, hi = strings.ToLower(lo), strings.ToLower(hi)
	}
	q := bleve.NewTermRangeInclusiveQuery(lo, hi, ptr(r.IncludeLower), ptr(r.IncludeUpper))
	q.SetField(field)
	return q
}

func parseNumber(l *Leaf, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, domainerrors.QuerySyntax(l.Pos, s, fmt.Sprintf("field %s expects a number", l.Field))
	}
	return v, nil
}

// parseDate parses s as a timestamp or a calendar day.
func parseDate(l *Leaf, s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, domainerrors.QuerySyntax(l.Pos, s, fmt.Sprintf("field %s expects a date", l.Field))
}

func ptr[T any](v T) *T {
	return &v
}
