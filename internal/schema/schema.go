// Package schema translates generic field schemas into bleve index mappings
// and classifies live mappings back into field inventories.
package schema

// Kind is the declared type of a schema field.
type Kind string

// Field kinds.
const (
	KindText    Kind = "text"    // analyzed full text
	KindKeyword Kind = "keyword" // exact, unanalyzed
	KindNumber  Kind = "number"
	KindDate    Kind = "date"
	KindRaw     Kind = "raw" // unanalyzed duplicate of another field
)

// Reserved fields present in every index.
const (
	SpecialFieldPrefix = "__"
	RawFieldPrefix     = SpecialFieldPrefix + "Raw_"

	IDFieldName        = SpecialFieldPrefix + "NodeId"
	ItemTypeFieldName  = SpecialFieldPrefix + "NodeTypeAlias"
	CategoryFieldName  = SpecialFieldPrefix + "IndexType"
	PathFieldName      = SpecialFieldPrefix + "Path"
	IconFieldName      = SpecialFieldPrefix + "Icon"
	KeyFieldName       = SpecialFieldPrefix + "Key"
	PublishedFieldName = SpecialFieldPrefix + "Published"

	// Source fields copied into their reserved counterparts when indexing.
	PathSourceField = "path"
	IconSourceField = "icon"
)

// identityFields are always emitted first, in this order.
var identityFields = []string{IDFieldName, ItemTypeFieldName, CategoryFieldName}

// optionalReservedFields are emitted after the identity fields unless the
// schema declares them itself.
var optionalReservedFields = []string{PathFieldName, IconFieldName, KeyFieldName, PublishedFieldName}

// FieldDefinition declares one field of a logical index.
type FieldDefinition struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Origin string `json:"origin,omitempty"` // source field for KindRaw
}

// Schema is an ordered list of field definitions.
type Schema []FieldDefinition

// Field returns the definition named name.
func (s Schema) Field(name string) (FieldDefinition, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// RawFields returns the raw duplicates declared in the schema.
func (s Schema) RawFields() []FieldDefinition {
	var raw []FieldDefinition
	for _, f := range s {
		if f.Kind == KindRaw {
			raw = append(raw, f)
		}
	}
	return raw
}

// IsReserved reports whether name is one of the fixed reserved fields.
func IsReserved(name string) bool {
	for _, r := range identityFields {
		if r == name {
			return true
		}
	}
	for _, r := range optionalReservedFields {
		if r == name {
			return true
		}
	}
	return false
}
