package llm

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema wraps a compiled JSON schema used to validate structured LLM output.
type Schema struct {
	name     string
	compiled *gojsonschema.Schema
}

// MustSchema compiles a schema document at package init time.
func MustSchema(name, document string) *Schema {
	s, err := NewSchema(name, document)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return s
}

// NewSchema compiles a schema from its JSON document.
func NewSchema(name, document string) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

func (s *Schema) Name() string { return s.name }

// Validate checks a JSON payload against the schema, returning the joined
// validation errors for the repair prompt.
func (s *Schema) Validate(payload string) error {
	result, err := s.compiled.Validate(gojsonschema.NewStringLoader(payload))
	if err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// CleanJSONContent strips markdown code fences that models wrap JSON in.
func CleanJSONContent(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	return strings.TrimSpace(content)
}
