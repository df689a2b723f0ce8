package schema

import (
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
)

// FieldClass is how a field behaves at query time.
type FieldClass string

// Field classes.
const (
	ClassAnalyzed FieldClass = "analyzed"
	ClassExact    FieldClass = "exact"
	ClassNumeric  FieldClass = "numeric"
	ClassDate     FieldClass = "date"
)

// Class returns the query-time class of the property.
func (p Property) Class() FieldClass {
	switch p.Kind {
	case KindText:
		return ClassAnalyzed
	case KindNumber:
		return ClassNumeric
	case KindDate:
		return ClassDate
	default:
		return ClassExact
	}
}

// Classify inspects a live index mapping and returns the class of every
// explicitly mapped field. Dynamically indexed fields are not listed.
func Classify(m mapping.IndexMapping) map[string]FieldClass {
	classes := make(map[string]FieldClass)

	impl, ok := m.(*mapping.IndexMappingImpl)
	if !ok || impl == nil {
		return classes
	}

	if impl.DefaultMapping != nil {
		classifyDocument(impl.DefaultMapping, "", impl.DefaultAnalyzer, classes)
	}
	for _, dm := range impl.TypeMapping {
		classifyDocument(dm, "", impl.DefaultAnalyzer, classes)
	}

	return classes
}

func classifyDocument(dm *mapping.DocumentMapping, path, analyzer string, classes map[string]FieldClass) {
	if dm == nil || !dm.Enabled {
		return
	}
	if dm.DefaultAnalyzer != "" {
		analyzer = dm.DefaultAnalyzer
	}

	for _, fm := range dm.Fields {
		name := fm.Name
		if name == "" {
			name = path
		}
		if name == "" {
			continue
		}
		if class, ok := classifyField(fm, analyzer); ok {
			classes[name] = class
		}
	}

	for prop, sub := range dm.Properties {
		child := prop
		if path != "" {
			child = path + "." + prop
		}
		classifyDocument(sub, child, analyzer, classes)
	}
}

func classifyField(fm *mapping.FieldMapping, inherited string) (FieldClass, bool) {
	switch fm.Type {
	case "text":
		analyzer := fm.Analyzer
		if analyzer == "" {
			analyzer = inherited
		}
		if analyzer == keyword.Name {
			return ClassExact, true
		}
		return ClassAnalyzed, true
	case "number":
		return ClassNumeric, true
	case "datetime":
		return ClassDate, true
	case "boolean":
		return ClassExact, true
	default:
		return "", false
	}
}
