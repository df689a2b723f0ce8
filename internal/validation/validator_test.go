package validation_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/validation"
)

type testField struct {
	Name string `yaml:"name" validate:"required"`
	Type string `yaml:"type" validate:"required,oneof=text keyword"`
}

type testDefinition struct {
	Name   string      `json:"name" validate:"required,indexname"`
	Fields []testField `json:"fields" validate:"min=1,dive"`
}

func TestIsIndexName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"external", true},
		{"External", true},
		{"members-2", true},
		{"my_index", true},
		{"0index", true},
		{"", false},
		{"_internal", false},
		{"-dash", false},
		{"all", false},
		{"_all", false},
		{"with space", false},
		{"dotted.name", false},
		{"a123456789012345678901234567890123456789012345678901234567890123", true},
		{"a1234567890123456789012345678901234567890123456789012345678901234", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, validation.IsIndexName(tt.name))
		})
	}
}

func TestValidator_ValidateSuccess(t *testing.T) {
	v := validation.New()

	err := v.Validate(testDefinition{
		Name:   "external",
		Fields: []testField{{Name: "title", Type: "text"}},
	})
	assert.NoError(t, err)
}

func TestValidator_ValidateErrors(t *testing.T) {
	v := validation.New()

	tests := []struct {
		name      string
		def       testDefinition
		wantField string
		wantMsg   string
	}{
		{
			name:      "reserved index name",
			def:       testDefinition{Name: "_all", Fields: []testField{{Name: "a", Type: "text"}}},
			wantField: "name",
			wantMsg:   "reserved",
		},
		{
			name:      "no fields",
			def:       testDefinition{Name: "external"},
			wantField: "fields",
			wantMsg:   "at least 1",
		},
		{
			name:      "bad field type",
			def:       testDefinition{Name: "external", Fields: []testField{{Name: "a", Type: "blob"}}},
			wantField: "fields[0].type",
			wantMsg:   "one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.def)
			require.Error(t, err)

			var domainErr *domainerrors.Error
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, http.StatusBadRequest, domainErr.HTTPStatus())

			details, ok := domainErr.Details.(map[string]string)
			require.True(t, ok)
			assert.Contains(t, details[tt.wantField], tt.wantMsg)
		})
	}
}
