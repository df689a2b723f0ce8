package query

import (
	"strconv"
	"strings"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokPhrase
	tokRange
	tokField
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
)

// maxFuzziness is the largest edit distance bleve accepts.
const maxFuzziness = 2

type token struct {
	kind     tokenKind
	pos      int
	text     string // Source text, for error messages
	value    string // Unescaped value
	wildcard bool
	fuzzy    int // Edit distance, -1 when not fuzzy
	slop     int // Phrase slop, -1 when unspecified
	rng      *Range
}

// startsOperand reports whether t can begin an operand, which makes it an
// implicit connector when it follows another operand.
func (t token) startsOperand() bool {
	switch t.kind {
	case tokWord, tokPhrase, tokRange, tokField, tokLParen, tokNot:
		return true
	default:
		return false
	}
}

type lexer struct {
	input  string
	pos    int
	tokens []token
}

func lex(input string) ([]token, error) {
	l := &lexer{input: input}
	for {
		l.skipSpace()
		if l.pos >= len(l.input) {
			l.tokens = append(l.tokens, token{kind: tokEOF, pos: len(l.input)})
			return l.tokens, nil
		}

		var err error
		switch c := l.input[l.pos]; c {
		case '(':
			l.emit(token{kind: tokLParen, pos: l.pos, text: "("})
			l.pos++
		case ')':
			l.emit(token{kind: tokRParen, pos: l.pos, text: ")"})
			l.pos++
		case '"':
			err = l.phrase()
		case '[', '{':
			err = l.rangeToken()
		default:
			err = l.word()
		}
		if err != nil {
			return nil, err
		}
	}
}

func (l *lexer) emit(t token) {
	l.tokens = append(l.tokens, t)
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
		l.pos++
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDelimiter(c byte) bool {
	return isSpace(c) || c == '(' || c == ')' || c == '"'
}

// phrase lexes "..." with an optional ~N slop suffix.
func (l *lexer) phrase() error {
	start := l.pos
	l.pos++

	var b strings.Builder
	closed := false
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\\' && l.pos+1 < len(l.input) {
			b.WriteByte(l.input[l.pos+1])
			l.pos += 2
			continue
		}
		l.pos++
		if c == '"' {
			closed = true
			break
		}
		b.WriteByte(c)
	}
	if !closed {
		return domainerrors.QuerySyntax(start, `"`, "unterminated phrase")
	}

	value := strings.TrimSpace(b.String())
	if value == "" {
		return domainerrors.QuerySyntax(start, `""`, "empty phrase")
	}

	slop := -1
	if l.pos < len(l.input) && l.input[l.pos] == '~' {
		l.pos++
		n, ok, err := l.number()
		if err != nil {
			return err
		}
		if ok {
			slop = n
		}
	}

	l.emit(token{kind: tokPhrase, pos: start, text: l.input[start:l.pos], value: value, slop: slop, fuzzy: -1})
	return nil
}

// number reads an optional run of digits.
func (l *lexer) number() (int, bool, error) {
	start := l.pos
	for l.pos < len(l.input) && l.input[l.pos] >= '0' && l.input[l.pos] <= '9' {
		l.pos++
	}
	if start == l.pos {
		return 0, false, nil
	}
	n, err := strconv.Atoi(l.input[start:l.pos])
	if err != nil {
		return 0, false, domainerrors.QuerySyntax(start, l.input[start:l.pos], "invalid number")
	}
	return n, true, nil
}

// rangeToken lexes [a TO b] or {a TO b}; the closing bracket picks the upper
// bound's inclusivity independently.
func (l *lexer) rangeToken() error {
	start := l.pos
	includeLower := l.input[l.pos] == '['
	l.pos++

	end := -1
	for i := l.pos; i < len(l.input); i++ {
		if l.input[i] == ']' || l.input[i] == '}' {
			end = i
			break
		}
	}
	if end < 0 {
		return domainerrors.QuerySyntax(start, l.input[start:start+1], "unterminated range")
	}

	parts := splitRange(l.input[l.pos:end])
	text := l.input[start : end+1]
	if len(parts) != 3 || parts[1] != "TO" {
		return domainerrors.QuerySyntax(start, text, "range must have the form [lower TO upper]")
	}

	r := &Range{
		Lower:        openBound(parts[0]),
		Upper:        openBound(parts[2]),
		IncludeLower: includeLower,
		IncludeUpper: l.input[end] == ']',
	}
	if r.Lower == "" && r.Upper == "" {
		return domainerrors.QuerySyntax(start, text, "range needs at least one bound")
	}

	l.pos = end + 1
	l.emit(token{kind: tokRange, pos: start, text: text, rng: r, fuzzy: -1, slop: -1})
	return nil
}

// splitRange splits range contents on whitespace, keeping quoted bounds whole.
func splitRange(s string) []string {
	var (
		parts   []string
		b       strings.Builder
		quoted  bool
		pending bool
	)
	flush := func() {
		if pending {
			parts = append(parts, b.String())
			b.Reset()
			pending = false
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			quoted = !quoted
			pending = true
		case isSpace(c) && !quoted:
			flush()
		default:
			b.WriteByte(c)
			pending = true
		}
	}
	flush()
	return parts
}

func openBound(v string) string {
	if v == "*" {
		return ""
	}
	return v
}

// word lexes a bare term, an operator, or a field prefix ending in ':'.
// A '-' is always literal, so path values like -1,1050 need no escaping.
func (l *lexer) word() error {
	start := l.pos

	var (
		b        strings.Builder
		escaped  bool
		wildcard bool
		fuzzy    = -1
	)
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if isDelimiter(c) {
			break
		}

		switch c {
		case '\\':
			if l.pos+1 >= len(l.input) {
				return domainerrors.QuerySyntax(l.pos, `\`, "dangling escape")
			}
			b.WriteByte(l.input[l.pos+1])
			escaped = true
			l.pos += 2
			continue

		case ':':
			name := b.String()
			if name == "" {
				return domainerrors.QuerySyntax(l.pos, ":", "missing field name")
			}
			l.pos++
			if l.pos >= len(l.input) || isSpace(l.input[l.pos]) || l.input[l.pos] == ')' {
				return domainerrors.QuerySyntax(start, name+":", "missing value for field")
			}
			l.emit(token{kind: tokField, pos: start, text: l.input[start:l.pos], value: name, fuzzy: -1, slop: -1})
			return nil

		case '~':
			l.pos++
			n, ok, err := l.number()
			if err != nil {
				return err
			}
			fuzzy = 1
			if ok {
				fuzzy = min(n, maxFuzziness)
			}
			if l.pos < len(l.input) && !isDelimiter(l.input[l.pos]) {
				return domainerrors.QuerySyntax(l.pos, l.input[l.pos:l.pos+1], "unexpected character after fuzziness")
			}
			continue

		case '*', '?':
			wildcard = true
		}

		b.WriteByte(c)
		l.pos++
	}

	text := l.input[start:l.pos]
	value := b.String()
	if value == "" {
		return domainerrors.QuerySyntax(start, text, "empty term")
	}

	if !escaped {
		switch text {
		case "AND", "&&":
			l.emit(token{kind: tokAnd, pos: start, text: text})
			return nil
		case "OR", "||":
			l.emit(token{kind: tokOr, pos: start, text: text})
			return nil
		case "NOT":
			l.emit(token{kind: tokNot, pos: start, text: text})
			return nil
		}
	}

	if wildcard && fuzzy >= 0 {
		return domainerrors.QuerySyntax(start, text, "a term cannot be both wildcard and fuzzy")
	}

	l.emit(token{kind: tokWord, pos: start, text: text, value: value, wildcard: wildcard, fuzzy: fuzzy, slop: -1})
	return nil
}
