package content

import (
	"maps"
	"strings"

	"golang.org/x/net/html"
)

// StripHTML returns the text content of a rich-text value with tags removed,
// entities decoded and whitespace collapsed. Script and style bodies are dropped.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return html.UnescapeString(s)
	}

	var buf strings.Builder
	extractText(doc, &buf)
	return strings.Join(strings.Fields(buf.String()), " ")
}

func extractText(n *html.Node, buf *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		buf.WriteString(n.Data)
	case html.ElementNode:
		switch n.Data {
		case "script", "style":
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, buf)
	}

	// Block boundaries separate words.
	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "br", "li", "td", "h1", "h2", "h3", "h4", "h5", "h6":
			buf.WriteString(" ")
		}
	}
}

// stripFields returns a copy of fields with the string values of the named
// fields stripped of markup.
func stripFields(fields map[string][]any, names []string) map[string][]any {
	if len(names) == 0 || len(fields) == 0 {
		return fields
	}

	out := maps.Clone(fields)
	for _, name := range names {
		values, ok := fields[name]
		if !ok {
			continue
		}
		stripped := make([]any, len(values))
		for i, v := range values {
			if s, ok := v.(string); ok {
				v = StripHTML(s)
			}
			stripped[i] = v
		}
		out[name] = stripped
	}
	return out
}
