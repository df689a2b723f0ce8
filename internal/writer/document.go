// Package writer submits document upserts and deletes to a physical index in
// bulk, normalizing reserved fields and aggregating per-item failures.
package writer

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/listenupapp/indexbridge/internal/schema"
)

// Document is one item supplied for indexing. Updates are full replacements
// keyed by ID.
type Document struct {
	ID       string           `json:"id"`
	Category string           `json:"category"`
	ItemType string           `json:"item_type,omitempty"`
	Fields   map[string][]any `json:"fields"`
}

// dateLayouts are tried in order when a date field holds a string.
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// normalizer turns documents into backend bodies for one schema.
type normalizer struct {
	raw   []schema.FieldDefinition
	kinds map[string]schema.Kind
}

func newNormalizer(fields schema.Schema, m *schema.Mapping) normalizer {
	n := normalizer{
		raw:   fields.RawFields(),
		kinds: make(map[string]schema.Kind),
	}
	if m != nil {
		for _, p := range m.Properties {
			n.kinds[p.Name] = p.Kind
		}
	}
	return n
}

// body copies derived fields into a document and converts it to the map
// submitted to the backend. Single values are stored as scalars.
func (n normalizer) body(doc Document) (map[string]any, error) {
	fields := maps.Clone(doc.Fields)
	if fields == nil {
		fields = make(map[string][]any)
	}

	copyIfAbsent(fields, schema.PathSourceField, schema.PathFieldName)
	copyIfAbsent(fields, schema.IconSourceField, schema.IconFieldName)
	for _, raw := range n.raw {
		copyIfAbsent(fields, raw.Origin, raw.Name)
	}

	fields[schema.IDFieldName] = []any{doc.ID}
	if doc.Category != "" {
		fields[schema.CategoryFieldName] = []any{doc.Category}
	}
	if doc.ItemType != "" {
		fields[schema.ItemTypeFieldName] = []any{doc.ItemType}
	}

	body := make(map[string]any, len(fields))
	for name, values := range fields {
		if len(values) == 0 {
			continue
		}
		coerced := make([]any, 0, len(values))
		for _, v := range values {
			if v == nil {
				continue
			}
			c, err := coerce(n.kinds[name], v)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			coerced = append(coerced, c)
		}
		switch len(coerced) {
		case 0:
		case 1:
			body[name] = coerced[0]
		default:
			body[name] = coerced
		}
	}
	return body, nil
}

func copyIfAbsent(fields map[string][]any, from, to string) {
	values, ok := fields[from]
	if !ok || len(values) == 0 {
		return
	}
	if existing, ok := fields[to]; ok && len(existing) > 0 {
		return
	}
	fields[to] = values
}

// coerce converts v to the representation the backend expects for kind.
func coerce(kind schema.Kind, v any) (any, error) {
	switch kind {
	case schema.KindNumber:
		return toFloat(v)
	case schema.KindDate:
		return toTime(v)
	case schema.KindText, schema.KindKeyword:
		if s, ok := v.(string); ok {
			return norm.NFC.String(s), nil
		}
		return fmt.Sprint(v), nil
	default:
		return v, nil
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%T is not a number", v)
	}
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return *t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not a date", t)
	default:
		return time.Time{}, fmt.Errorf("%T is not a date", v)
	}
}
