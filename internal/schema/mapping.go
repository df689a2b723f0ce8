package schema

import (
	"encoding/json"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
)

// DefaultAnalyzer is used for analyzed text when no analyzer is configured.
// The standard and en analyzers drop English stop words, so a query term that
// is a stop word matches nothing under them.
const DefaultAnalyzer = TextAnalyzerName

// knownAnalyzers are the analyzers registered with bleve by this package's imports.
var knownAnalyzers = map[string]bool{
	TextAnalyzerName: true,
	standard.Name:    true,
	simple.Name:      true,
	en.AnalyzerName:  true,
	keyword.Name:     true,
}

// Property is one resolved entry of a mapping. Kind is never KindRaw.
type Property struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Mapping is the backend-neutral result of translating a schema. Properties
// keep emission order: identity fields, optional reserved fields, then user
// fields in schema order, then keyword overrides the schema did not declare.
type Mapping struct {
	Analyzer   string     `json:"analyzer"`
	Properties []Property `json:"properties"`
}

// Option configures BuildMapping.
type Option func(*Mapping)

// WithAnalyzer sets the analyzer used for analyzed text fields.
func WithAnalyzer(name string) Option {
	return func(m *Mapping) {
		if name != "" {
			m.Analyzer = name
		}
	}
}

// BuildMapping translates a schema and its keyword overrides into a Mapping.
// It is deterministic: equal inputs produce equal mappings.
func BuildMapping(s Schema, keywordOverrides []string, opts ...Option) (*Mapping, error) {
	m := &Mapping{Analyzer: DefaultAnalyzer}
	for _, opt := range opts {
		opt(m)
	}
	if !knownAnalyzers[m.Analyzer] {
		return nil, domainerrors.Validationf("unknown analyzer %q", m.Analyzer)
	}

	overrides := make(map[string]bool, len(keywordOverrides))
	for _, name := range keywordOverrides {
		overrides[name] = true
	}

	declared := make(map[string]bool, len(s))
	for _, f := range s {
		if f.Name == "" {
			return nil, domainerrors.Validation("field name is required")
		}
		if declared[f.Name] {
			return nil, domainerrors.Validationf("field %q declared more than once", f.Name)
		}
		declared[f.Name] = true
	}

	emitted := make(map[string]bool)
	emit := func(name string, kind Kind) {
		m.Properties = append(m.Properties, Property{Name: name, Kind: kind})
		emitted[name] = true
	}

	for _, name := range identityFields {
		emit(name, KindKeyword)
	}
	for _, name := range optionalReservedFields {
		if !declared[name] {
			emit(name, KindKeyword)
		}
	}

	for _, f := range s {
		if emitted[f.Name] {
			continue
		}
		kind, err := resolveKind(s, f)
		if err != nil {
			return nil, err
		}
		if overrides[f.Name] || IsReserved(f.Name) {
			kind = KindKeyword
		}
		emit(f.Name, kind)
	}

	for _, name := range keywordOverrides {
		if !emitted[name] {
			emit(name, KindKeyword)
		}
	}

	return m, nil
}

// resolveKind maps a declared kind to the kind stored in the mapping. Raw
// fields take their origin's kind, unanalyzed.
func resolveKind(s Schema, f FieldDefinition) (Kind, error) {
	switch f.Kind {
	case KindText, KindKeyword, KindNumber, KindDate:
		return f.Kind, nil
	case KindRaw:
		origin, ok := s.Field(f.Origin)
		if !ok || f.Origin == "" {
			return "", domainerrors.Validationf("raw field %q references unknown origin %q", f.Name, f.Origin)
		}
		switch origin.Kind {
		case KindText, KindKeyword:
			return KindKeyword, nil
		case KindNumber, KindDate:
			return origin.Kind, nil
		default:
			return "", domainerrors.Validationf("raw field %q cannot duplicate %s field %q", f.Name, origin.Kind, f.Origin)
		}
	default:
		return "", domainerrors.Validationf("field %q has unknown kind %q", f.Name, f.Kind)
	}
}

// Property returns the property named name.
func (m *Mapping) Property(name string) (Property, bool) {
	for _, p := range m.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// FieldNames returns property names in emission order.
func (m *Mapping) FieldNames() []string {
	names := make([]string, len(m.Properties))
	for i, p := range m.Properties {
		names[i] = p.Name
	}
	return names
}

// IndexMapping renders the bleve index mapping. Unknown document fields are
// still indexed dynamically with the default analyzer.
func (m *Mapping) IndexMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = m.Analyzer

	docMapping := bleve.NewDocumentMapping()
	for _, p := range m.Properties {
		docMapping.AddFieldMappingsAt(p.Name, m.fieldMapping(p))
	}
	indexMapping.DefaultMapping = docMapping

	return indexMapping
}

func (m *Mapping) fieldMapping(p Property) *mapping.FieldMapping {
	var fm *mapping.FieldMapping

	switch p.Kind {
	case KindNumber:
		fm = bleve.NewNumericFieldMapping()
	case KindDate:
		fm = bleve.NewDateTimeFieldMapping()
	case KindKeyword:
		fm = bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
	default:
		fm = bleve.NewTextFieldMapping()
		fm.Analyzer = m.Analyzer
		fm.IncludeTermVectors = true // For highlighting
	}
	fm.Store = true

	return fm
}

// JSON renders the bleve mapping. Equal mappings render byte-identical output.
func (m *Mapping) JSON() ([]byte, error) {
	data, err := json.Marshal(m.IndexMapping())
	if err != nil {
		return nil, fmt.Errorf("marshal index mapping: %w", err)
	}
	return data, nil
}
