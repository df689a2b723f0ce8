package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/listenupapp/indexbridge/internal/schema"
	"github.com/listenupapp/indexbridge/internal/validation"
)

// Definitions declares the logical indices served by the process and the
// content sources that populate them.
type Definitions struct {
	Indexes []IndexDefinition  `json:"indexes" yaml:"indexes" toml:"indexes" validate:"dive"`
	Sources []SourceDefinition `json:"sources" yaml:"sources" toml:"sources" validate:"dive"`
}

// IndexDefinition describes one logical index.
type IndexDefinition struct {
	Name          string            `json:"name" yaml:"name" toml:"name" validate:"required,indexname"`
	KeywordFields []string          `json:"keyword_fields" yaml:"keyword_fields" toml:"keyword_fields"`
	Fields        []FieldDefinition `json:"fields" yaml:"fields" toml:"fields" validate:"unique=Name,dive"`
}

// FieldDefinition describes one schema field. Origin is only used by raw fields.
type FieldDefinition struct {
	Name   string `json:"name" yaml:"name" toml:"name" validate:"required"`
	Type   string `json:"type" yaml:"type" toml:"type" validate:"required,oneof=text keyword number date raw"`
	Origin string `json:"origin,omitempty" yaml:"origin,omitempty" toml:"origin,omitempty" validate:"required_if=Type raw"`
}

// SourceDefinition binds a content category to the indices it feeds.
// Index patterns are globs matched against logical index names.
type SourceDefinition struct {
	Name     string   `json:"name" yaml:"name" toml:"name" validate:"required"`
	Category string   `json:"category" yaml:"category" toml:"category" validate:"required"`
	Indexes  []string `json:"indexes" yaml:"indexes" toml:"indexes" validate:"min=1,dive,required"`

	// HTMLFields name rich-text fields whose markup is stripped before indexing.
	HTMLFields []string `json:"html_fields,omitempty" yaml:"html_fields,omitempty" toml:"html_fields,omitempty"`
}

// DefaultDefinitions is used when no definitions file is configured: an
// external and an internal index fed by the "content" category.
func DefaultDefinitions() *Definitions {
	fields := []FieldDefinition{
		{Name: "nodeName", Type: "text"},
		{Name: "bodyText", Type: "text"},
		{Name: "updateDate", Type: "date"},
		{Name: "sortOrder", Type: "number"},
	}
	return &Definitions{
		Indexes: []IndexDefinition{
			{Name: "external", Fields: fields},
			{Name: "internal", Fields: fields},
		},
		Sources: []SourceDefinition{
			{Name: "content", Category: "content", Indexes: []string{"external", "internal"}, HTMLFields: []string{"bodyText"}},
		},
	}
}

// LoadDefinitions reads index definitions from path. The decoder is chosen by
// extension: .yaml/.yml, .toml or .json. An empty path yields DefaultDefinitions.
func LoadDefinitions(path string) (*Definitions, error) {
	if path == "" {
		return DefaultDefinitions(), nil
	}

	data, err := os.ReadFile(path) //#nosec G304 -- Definitions path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	defs, err := ParseDefinitions(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return defs, nil
}

// ParseDefinitions decodes and validates definitions in the format named by ext.
func ParseDefinitions(data []byte, ext string) (*Definitions, error) {
	var defs Definitions

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &defs); err != nil {
			return nil, err
		}
	case ".toml":
		if err := toml.Unmarshal(data, &defs); err != nil {
			return nil, err
		}
	case ".json":
		if err := json.Unmarshal(data, &defs); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported definitions format %q", ext)
	}

	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return &defs, nil
}

// Validate checks field-level rules and that index names are unique.
func (d *Definitions) Validate() error {
	if err := validation.New().Validate(d); err != nil {
		return err
	}

	seen := make(map[string]bool, len(d.Indexes))
	for _, idx := range d.Indexes {
		name := strings.ToLower(idx.Name)
		if seen[name] {
			return fmt.Errorf("duplicate index definition %q", idx.Name)
		}
		seen[name] = true
	}
	return nil
}

// Index returns the definition with the given name, ignoring case.
func (d *Definitions) Index(name string) (IndexDefinition, bool) {
	for _, idx := range d.Indexes {
		if strings.EqualFold(idx.Name, name) {
			return idx, true
		}
	}
	return IndexDefinition{}, false
}

// Schema converts the declared fields into a schema.
func (d IndexDefinition) Schema() schema.Schema {
	s := make(schema.Schema, len(d.Fields))
	for i, f := range d.Fields {
		s[i] = schema.FieldDefinition{
			Name:   f.Name,
			Kind:   schema.Kind(strings.ToLower(f.Type)),
			Origin: f.Origin,
		}
	}
	return s
}
