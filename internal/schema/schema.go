// Package schema defines template schemas and the column matcher that
// reconciles arbitrary input headers with canonical field names.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// FieldType is the declared type of a schema field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeDate   FieldType = "date"
)

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeDate:
		return true
	}
	return false
}

// UnmarshalText rejects unknown type names so schemas fail at load time
// rather than during row processing.
func (t *FieldType) UnmarshalText(text []byte) error {
	v := FieldType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("unknown field type %q", string(text))
	}
	*t = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

// FieldSpec describes one field of a schema.
type FieldSpec struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
	Aliases  []string  `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// UnmarshalYAML defaults Required to true when the key is absent.
func (f *FieldSpec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type raw FieldSpec
	v := raw{Required: true}
	if err := unmarshal(&v); err != nil {
		return err
	}
	*f = FieldSpec(v)
	return nil
}

// UnmarshalJSON defaults Required to true when the key is absent.
func (f *FieldSpec) UnmarshalJSON(data []byte) error {
	type raw FieldSpec
	v := raw{Required: true}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FieldSpec(v)
	return nil
}

// Schema is a named set of field definitions (a "template").
type Schema struct {
	ID      uuid.UUID   `json:"id" yaml:"id,omitempty"`
	Slug    string      `json:"slug" yaml:"slug"`
	Name    string      `json:"name" yaml:"name,omitempty"`
	Content string      `json:"content,omitempty" yaml:"content,omitempty"`
	OwnerID uuid.UUID   `json:"owner_id" yaml:"owner_id,omitempty"`
	Fields  []FieldSpec `json:"fields" yaml:"fields"`
}

// Validate checks the invariants a schema must satisfy before use.
func (s *Schema) Validate() error {
	if s.Slug == "" {
		return fmt.Errorf("schema slug is required")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %q: field name is required", s.Slug)
		}
		if !f.Type.Valid() {
			return fmt.Errorf("schema %q: field %q has unknown type %q", s.Slug, f.Name, f.Type)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema %q: duplicate field %q", s.Slug, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Types returns the declared type of every field keyed by canonical name.
func (s *Schema) Types() map[string]FieldType {
	types := make(map[string]FieldType, len(s.Fields))
	for _, f := range s.Fields {
		types[f.Name] = f.Type
	}
	return types
}
