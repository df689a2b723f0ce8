package query

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
)

// Operator connects adjacent operands that have no explicit connector.
type Operator string

// Connectors.
const (
	OpAnd Operator = "AND"
	OpOr  Operator = "OR"
)

// ParseOperator parses a connector name, case-insensitively.
func ParseOperator(s string) (Operator, error) {
	switch Operator(strings.ToUpper(strings.TrimSpace(s))) {
	case OpAnd, "":
		return OpAnd, nil
	case OpOr:
		return OpOr, nil
	default:
		return "", domainerrors.Validationf("unknown default operator %q", s)
	}
}

// Parse parses input into an AST. NOT binds tighter than AND, which binds
// tighter than OR; operators of equal precedence associate left to right.
// Adjacent operands are joined by defaultOp. An empty query parses to nil.
// Input is NFC-normalized first, matching how documents are written.
func Parse(input string, defaultOp Operator) (Node, error) {
	tokens, err := lex(norm.NFC.String(input))
	if err != nil {
		return nil, err
	}
	if defaultOp == "" {
		defaultOp = OpAnd
	}

	p := &parser{tokens: tokens, defaultOp: defaultOp}
	if p.peek().kind == tokEOF {
		return nil, nil
	}

	node, err := p.parseOr("")
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, unexpected(t)
	}
	return node, nil
}

type parser struct {
	tokens    []token
	pos       int
	defaultOp Operator
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// connects consumes an explicit connector of kind, or reports an implicit one
// when op is the default operator and the next token starts an operand.
func (p *parser) connects(kind tokenKind, op Operator) bool {
	t := p.peek()
	if t.kind == kind {
		p.next()
		return true
	}
	return p.defaultOp == op && t.startsOperand()
}

func (p *parser) parseOr(field string) (Node, error) {
	first, err := p.parseAnd(field)
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for p.connects(tokOr, OpOr) {
		next, err := p.parseAnd(field)
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	return newOr(children), nil
}

func (p *parser) parseAnd(field string) (Node, error) {
	first, err := p.parseNot(field)
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for p.connects(tokAnd, OpAnd) {
		next, err := p.parseNot(field)
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	return newAnd(children), nil
}

func (p *parser) parseNot(field string) (Node, error) {
	if p.peek().kind != tokNot {
		return p.parsePrimary(field)
	}
	p.next()
	child, err := p.parseNot(field)
	if err != nil {
		return nil, err
	}
	return &Not{Child: child}, nil
}

func (p *parser) parsePrimary(field string) (Node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		return p.parseGroup(t, field)

	case tokField:
		value := p.peek()
		switch value.kind {
		case tokLParen:
			p.next()
			return p.parseGroup(value, t.value)
		case tokWord, tokPhrase, tokRange:
			p.next()
			return leafFrom(value, t.value), nil
		default:
			return nil, domainerrors.QuerySyntax(value.pos, value.text, fmt.Sprintf("missing value for field %s", t.value))
		}

	case tokWord, tokPhrase, tokRange:
		return leafFrom(t, field), nil

	default:
		return nil, unexpected(t)
	}
}

// parseGroup parses the body of a parenthesized group opened by open. Leaves
// inside a field:(...) group default to that field.
func (p *parser) parseGroup(open token, field string) (Node, error) {
	if p.peek().kind == tokRParen {
		return nil, domainerrors.QuerySyntax(open.pos, "()", "empty group")
	}
	node, err := p.parseOr(field)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokRParen {
		return nil, domainerrors.QuerySyntax(open.pos, "(", "missing closing parenthesis")
	}
	p.next()
	return node, nil
}

func leafFrom(t token, field string) *Leaf {
	leaf := &Leaf{
		Pos:   t.pos,
		Field: field,
		Value: t.value,
		Kind:  KindTerm,
		Slop:  -1,
	}
	switch {
	case t.kind == tokPhrase:
		leaf.Kind = KindPhrase
		leaf.Slop = t.slop
	case t.kind == tokRange:
		leaf.Kind = KindRange
		leaf.Range = t.rng
	case t.fuzzy >= 0:
		leaf.Kind = KindFuzzy
		leaf.Fuzziness = t.fuzzy
	case t.wildcard:
		leaf.Kind = KindWildcard
	}
	return leaf
}

func unexpected(t token) error {
	switch t.kind {
	case tokEOF:
		return domainerrors.QuerySyntax(t.pos, "", "unexpected end of query")
	case tokRParen:
		return domainerrors.QuerySyntax(t.pos, t.text, "unbalanced closing parenthesis")
	default:
		return domainerrors.QuerySyntax(t.pos, t.text, fmt.Sprintf("unexpected %q", t.text))
	}
}
