package route

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidationError describes request data that does not satisfy the
// schema attached to its kind
type SchemaValidationError struct {
	Method  string
	Details []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("invalid data for %s: %s", e.Method, strings.Join(e.Details, "; "))
}

type requestSchema struct {
	method string
	schema *gojsonschema.Schema
}

func compileSchema(method, doc string) (*requestSchema, error) {
	if doc == "" {
		return nil, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", method, err)
	}
	return &requestSchema{method: method, schema: schema}, nil
}

func (s *requestSchema) validate(raw []byte) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &SchemaValidationError{Method: s.method, Details: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return &SchemaValidationError{Method: s.method, Details: details}
}
