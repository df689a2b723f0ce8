package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
)

func TestParse_Structure(t *testing.T) {
	tests := []struct {
		name  string
		input string
		op    Operator
		want  string
	}{
		{"single term", "foo", OpAnd, "foo"},
		{"implicit and", "foo bar", OpAnd, "(foo AND bar)"},
		{"implicit or", "foo bar", OpOr, "(foo OR bar)"},
		{"explicit or overrides default", "foo OR bar", OpAnd, "(foo OR bar)"},
		{"explicit and overrides default", "foo AND bar", OpOr, "(foo AND bar)"},
		{"and binds tighter than or", "a OR b AND c", OpAnd, "(a OR (b AND c))"},
		{"left and then or", "a AND b OR c", OpAnd, "((a AND b) OR c)"},
		{"not binds tightest", "NOT a AND b", OpAnd, "(NOT a AND b)"},
		{"and not", "a AND NOT b", OpAnd, "(a AND NOT b)"},
		{"implicit not", "a NOT b", OpAnd, "(a AND NOT b)"},
		{"double not", "NOT NOT a", OpAnd, "NOT NOT a"},
		{"parens override", "(a OR b) AND c", OpAnd, "((a OR b) AND c)"},
		{"flattened and", "(a AND b) AND c", OpAnd, "(a AND b AND c)"},
		{"left assoc chain", "a OR b OR c", OpAnd, "(a OR b OR c)"},
		{"implicit or mixes with and", "a b AND c", OpOr, "(a OR (b AND c))"},
		{"field pair", "status:published AND title:hello", OpAnd, "(status:published AND title:hello)"},
		{"phrase", `title:"hello world"`, OpAnd, `title:"hello world"`},
		{"phrase slop", `title:"hello world"~3`, OpAnd, `title:"hello world"~3`},
		{"field group", "title:(foo bar)", OpAnd, "(title:foo AND title:bar)"},
		{"field group override", "title:(foo body:bar)", OpAnd, "(title:foo AND body:bar)"},
		{"inclusive range", "year:[2000 TO 2010]", OpAnd, "year:[2000 TO 2010]"},
		{"mixed open range", "year:{2000 TO *]", OpAnd, "year:{2000 TO *]"},
		{"fuzzy default", "roam~", OpAnd, "roam~1"},
		{"fuzzy clamped", "roam~5", OpAnd, "roam~2"},
		{"wildcard", "hel*", OpAnd, "hel*"},
		{"path keeps dash", "__Path:-1,1050,-20", OpAnd, "__Path:-1,1050,-20"},
		{"escaped colon", `a\:b`, OpAnd, "a:b"},
		{"escaped operator is a term", `\AND`, OpAnd, "AND"},
		{"lowercase and is a term", "cats and dogs", OpAnd, "(cats AND and AND dogs)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := Parse(tt.input, tt.op)
			require.NoError(t, err)
			require.NotNil(t, node)
			assert.Equal(t, tt.want, node.String())
		})
	}
}

func TestParse_Empty(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		node, err := Parse(input, OpAnd)
		require.NoError(t, err)
		assert.Nil(t, node)
	}
}

func TestParse_LeafKinds(t *testing.T) {
	tests := []struct {
		input string
		kind  LeafKind
		field string
		value string
	}{
		{"hello", KindTerm, "", "hello"},
		{`"hello world"`, KindPhrase, "", "hello world"},
		{"hel*", KindWildcard, "", "hel*"},
		{"h?llo", KindWildcard, "", "h?llo"},
		{`hel\*`, KindTerm, "", "hel*"},
		{"roam~2", KindFuzzy, "", "roam"},
		{"year:[1 TO 2]", KindRange, "year", ""},
		{`title:"say \"hi\""`, KindPhrase, "title", `say "hi"`},
		{"status:cafe\u0301", KindTerm, "status", "caf\u00e9"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			node, err := Parse(tt.input, OpAnd)
			require.NoError(t, err)

			leaf, ok := node.(*Leaf)
			require.True(t, ok, "expected a leaf, got %T", node)
			assert.Equal(t, tt.kind, leaf.Kind)
			assert.Equal(t, tt.field, leaf.Field)
			assert.Equal(t, tt.value, leaf.Value)
		})
	}
}

func TestParse_LeafPositions(t *testing.T) {
	node, err := Parse(`status:published AND title:"a b"`, OpAnd)
	require.NoError(t, err)

	and, ok := node.(*And)
	require.True(t, ok)
	require.Len(t, and.Children, 2)
	assert.Equal(t, 7, and.Children[0].(*Leaf).Pos)
	assert.Equal(t, 27, and.Children[1].(*Leaf).Pos)
}

func TestParse_RangeBounds(t *testing.T) {
	node, err := Parse(`date:{2020-01-01 TO "2021-01-01"]`, OpAnd)
	require.NoError(t, err)

	leaf := node.(*Leaf)
	require.NotNil(t, leaf.Range)
	assert.Equal(t, "2020-01-01", leaf.Range.Lower)
	assert.Equal(t, "2021-01-01", leaf.Range.Upper)
	assert.False(t, leaf.Range.IncludeLower)
	assert.True(t, leaf.Range.IncludeUpper)
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		offset int
	}{
		{"unterminated phrase", `title:"hello`, 6},
		{"empty phrase", `""`, 0},
		{"unclosed group", "(a OR b", 0},
		{"unbalanced close", "a OR b)", 6},
		{"dangling operator", "a AND", 5},
		{"leading operator", "AND a", 0},
		{"double operator", "a AND OR b", 6},
		{"empty group", "a AND ()", 6},
		{"missing field value", "title: hello", 0},
		{"missing field name", ":hello", 0},
		{"unterminated range", "year:[1 TO", 5},
		{"malformed range", "year:[1 2]", 5},
		{"open range both ends", "year:[* TO *]", 5},
		{"trailing escape", `abc\`, 3},
		{"bad fuzziness", "roam~x", 5},
		{"not without operand", "a AND NOT", 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input, OpAnd)
			require.Error(t, err)
			assert.ErrorIs(t, err, domainerrors.ErrQuerySyntax)

			var domainErr *domainerrors.Error
			require.True(t, domainerrors.As(err, &domainErr))
			pos, ok := domainErr.Details.(domainerrors.SyntaxPosition)
			require.True(t, ok)
			assert.Equal(t, tt.offset, pos.Offset)
		})
	}
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("or")
	require.NoError(t, err)
	assert.Equal(t, OpOr, op)

	op, err = ParseOperator("")
	require.NoError(t, err)
	assert.Equal(t, OpAnd, op)

	_, err = ParseOperator("xor")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}
