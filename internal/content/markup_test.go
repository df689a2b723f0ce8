package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Hello world", "Hello world"},
		{"tags removed", "<p>Hello <b>world</b></p>", "Hello world"},
		{"blocks separate words", "<p>one</p><p>two</p><ul><li>three</li><li>four</li></ul>", "one two three four"},
		{"entities decoded", "Fish &amp; chips", "Fish & chips"},
		{"script dropped", "<p>shown</p><script>var hidden = 1;</script>", "shown"},
		{"whitespace collapsed", "<div>\n  a \t b\n</div>", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHTML(tt.in))
		})
	}
}

func TestStripFields_CopiesMap(t *testing.T) {
	fields := map[string][]any{
		"body":  {"<p>rich</p>", 3},
		"title": {"<b>kept</b>"},
	}

	out := stripFields(fields, []string{"body", "missing"})

	assert.Equal(t, []any{"rich", 3}, out["body"])
	assert.Equal(t, []any{"<b>kept</b>"}, out["title"])
	assert.Equal(t, []any{"<p>rich</p>", 3}, fields["body"])
}
