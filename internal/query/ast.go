// Package query parses the boolean query language into an AST, renders it
// into bleve queries using the live field inventory, and executes searches.
package query

import (
	"strconv"
	"strings"
)

// LeafKind is the kind of value a leaf matches.
type LeafKind int

// Leaf kinds.
const (
	KindTerm LeafKind = iota
	KindPhrase
	KindWildcard
	KindFuzzy
	KindRange
)

func (k LeafKind) String() string {
	switch k {
	case KindTerm:
		return "term"
	case KindPhrase:
		return "phrase"
	case KindWildcard:
		return "wildcard"
	case KindFuzzy:
		return "fuzzy"
	case KindRange:
		return "range"
	default:
		return "unknown"
	}
}

// Node is a node of a parsed query.
type Node interface {
	String() string
	node()
}

// Range bounds a range leaf. An empty bound is open.
type Range struct {
	Lower, Upper                 string
	IncludeLower, IncludeUpper bool
}

// Leaf matches a single value, optionally restricted to Field.
type Leaf struct {
	Pos       int // Byte offset of the value in the query text
	Field     string
	Value     string
	Kind      LeafKind
	Fuzziness int    // Edit distance for KindFuzzy
	Slop      int    // Phrase slop; -1 uses the configured default
	Range     *Range // Bounds for KindRange
}

// Not negates its child.
type Not struct {
	Child Node
}

// And matches when every child matches. It always has at least two children.
type And struct {
	Children []Node
}

// Or matches when any child matches. It always has at least two children.
type Or struct {
	Children []Node
}

func (*Leaf) node() {}
func (*Not) node()  {}
func (*And) node()  {}
func (*Or) node()   {}

func (l *Leaf) String() string {
	var b strings.Builder
	if l.Field != "" {
		b.WriteString(l.Field)
		b.WriteByte(':')
	}
	switch l.Kind {
	case KindPhrase:
		b.WriteString(strconv.Quote(l.Value))
		if l.Slop >= 0 {
			b.WriteByte('~')
			b.WriteString(strconv.Itoa(l.Slop))
		}
	case KindFuzzy:
		b.WriteString(l.Value)
		b.WriteByte('~')
		b.WriteString(strconv.Itoa(l.Fuzziness))
	case KindRange:
		writeRange(&b, l.Range)
	default:
		b.WriteString(l.Value)
	}
	return b.String()
}

func writeRange(b *strings.Builder, r *Range) {
	if r == nil {
		return
	}
	open, closing := byte('{'), byte('}')
	if r.IncludeLower {
		open = '['
	}
	if r.IncludeUpper {
		closing = ']'
	}
	b.WriteByte(open)
	b.WriteString(boundString(r.Lower))
	b.WriteString(" TO ")
	b.WriteString(boundString(r.Upper))
	b.WriteByte(closing)
}

func boundString(v string) string {
	if v == "" {
		return "*"
	}
	return v
}

func (n *Not) String() string {
	return "NOT " + n.Child.String()
}

func (a *And) String() string {
	return joinNodes(a.Children, " AND ")
}

func (o *Or) String() string {
	return joinNodes(o.Children, " OR ")
}

func joinNodes(children []Node, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// newAnd returns the conjunction of children, splicing nested conjunctions.
// A single child is returned unchanged.
func newAnd(children []Node) Node {
	if len(children) == 1 {
		return children[0]
	}
	flat := make([]Node, 0, len(children))
	for _, c := range children {
		if inner, ok := c.(*And); ok {
			flat = append(flat, inner.Children...)
			continue
		}
		flat = append(flat, c)
	}
	return &And{Children: flat}
}

// newOr returns the disjunction of children, splicing nested disjunctions.
// A single child is returned unchanged.
func newOr(children []Node) Node {
	if len(children) == 1 {
		return children[0]
	}
	flat := make([]Node, 0, len(children))
	for _, c := range children {
		if inner, ok := c.(*Or); ok {
			flat = append(flat, inner.Children...)
			continue
		}
		flat = append(flat, c)
	}
	return &Or{Children: flat}
}
