package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/temcen/affinity/pkg/models"
)

// Schema names for records that cross the storage boundary as JSON.
const (
	SchemaWeightVector      = "weight-vector"
	SchemaTournamentSession = "tournament-session"
	SchemaStyleProfile      = "style-profile"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	SchemaWeightVector:      "weight-vector.json",
	SchemaTournamentSession: "tournament-session.json",
	SchemaStyleProfile:      "style-profile.json",
}

// RecordValidator checks JSON records against the embedded schemas before they
// are written to, or after they are read from, relational JSON columns.
type RecordValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewRecordValidator compiles every embedded schema.
func NewRecordValidator() (*RecordValidator, error) {
	rv := &RecordValidator{
		schemas: make(map[string]*gojsonschema.Schema, len(schemaFiles)),
	}

	for name, filename := range schemaFiles {
		schemaBytes, err := schemaFS.ReadFile(path.Join("schemas", filename))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file %s: %w", filename, err)
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to load schema %s: %w", name, err)
		}

		rv.schemas[name] = schema
	}

	return rv, nil
}

// MustRecordValidator is NewRecordValidator for package-level wiring; the
// schemas are embedded so failure is a build defect.
func MustRecordValidator() *RecordValidator {
	rv, err := NewRecordValidator()
	if err != nil {
		panic(err)
	}
	return rv
}

// Validate runs a document (string, []byte or any marshalable value) against a named schema.
func (rv *RecordValidator) Validate(schemaName string, data interface{}) *ValidationResult {
	schema, exists := rv.schemas[schemaName]
	if !exists {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "schema",
				Message: fmt.Sprintf("Schema '%s' not found", schemaName),
				Code:    "SCHEMA_NOT_FOUND",
			}},
		}
	}

	var documentLoader gojsonschema.JSONLoader
	switch v := data.(type) {
	case string:
		documentLoader = gojsonschema.NewStringLoader(v)
	case []byte:
		documentLoader = gojsonschema.NewBytesLoader(v)
	default:
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			return &ValidationResult{
				Valid: false,
				Errors: []ValidationError{{
					Field:   "data",
					Message: fmt.Sprintf("Failed to marshal data to JSON: %v", err),
					Code:    "JSON_MARSHAL_ERROR",
				}},
			}
		}
		documentLoader = gojsonschema.NewBytesLoader(jsonBytes)
	}

	result, err := schema.Validate(documentLoader)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "validation",
				Message: fmt.Sprintf("Validation error: %v", err),
				Code:    "VALIDATION_ERROR",
			}},
		}
	}

	validationResult := &ValidationResult{
		Valid:  result.Valid(),
		Errors: make([]ValidationError, 0),
	}

	if !result.Valid() {
		for _, re := range result.Errors() {
			validationResult.Errors = append(validationResult.Errors, ValidationError{
				Field:   re.Field(),
				Message: re.Description(),
				Code:    "VALIDATION_ERROR",
				Value:   re.Value(),
				Context: re.Context().String(),
			})
		}
	}

	return validationResult
}

// Check is Validate folded into a models.ErrValidation error.
func (rv *RecordValidator) Check(schemaName string, data interface{}) error {
	res := rv.Validate(schemaName, data)
	if res.Valid {
		return nil
	}
	return models.Validationf("validate "+schemaName, "%s", res.Summary())
}

func (rv *RecordValidator) SchemaNames() []string {
	names := make([]string, 0, len(rv.schemas))
	for name := range rv.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Summary joins the individual failures into one line.
func (vr *ValidationResult) Summary() string {
	parts := make([]string, 0, len(vr.Errors))
	for _, e := range vr.Errors {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
	Context string      `json:"context,omitempty"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}
