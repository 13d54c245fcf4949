package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk layout of a schema definitions file:
//
//	schemas:
//	  - slug: invoice
//	    content: "Dear {{ customer_name }}"
//	    fields:
//	      - name: customer_name
//	        type: string
//	        aliases: ["Customer Name"]
type fileFormat struct {
	Schemas []Schema `yaml:"schemas"`
}

// LoadFile reads and validates schema definitions from a YAML file.
func LoadFile(path string) ([]Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML schema definitions.
func Parse(data []byte) ([]Schema, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	if len(f.Schemas) == 0 {
		return nil, fmt.Errorf("schema file defines no schemas")
	}

	slugs := make(map[string]struct{}, len(f.Schemas))
	for i := range f.Schemas {
		s := &f.Schemas[i]
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := slugs[s.Slug]; dup {
			return nil, fmt.Errorf("duplicate schema slug %q", s.Slug)
		}
		slugs[s.Slug] = struct{}{}
	}
	return f.Schemas, nil
}
