// Target schema descriptions. An upstream schema-builder produces these; the
// clarifier only consumes them as extra context when judging a request.
package table

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TargetSchema describes the schema the dataset is expected to conform to.
type TargetSchema struct {
	Name    string         `yaml:"name"`
	Columns []TargetColumn `yaml:"columns"`
}

// TargetColumn is one expected column with an optional human description.
type TargetColumn struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty"`
}

// LoadTargetSchema reads a schema description from a YAML file.
func LoadTargetSchema(path string) (*TargetSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	var s TargetSchema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	return &s, nil
}

// Describe renders the target schema for inclusion in a prompt.
func (s *TargetSchema) Describe() string {
	var sb strings.Builder
	if s.Name != "" {
		sb.WriteString(fmt.Sprintf("Target schema: %s\n", s.Name))
	}
	for _, c := range s.Columns {
		sb.WriteString("  - ")
		sb.WriteString(c.Name)
		if c.Required {
			sb.WriteString(" (required)")
		}
		if c.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(c.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
