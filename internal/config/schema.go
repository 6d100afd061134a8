package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// validateSchema checks the raw YAML document against the embedded JSON schema.
func validateSchema(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return yamlError(err)
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var messages []string
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	return dserrors.ConfigError{
		Message:    "schema validation failed:\n  - " + strings.Join(messages, "\n  - "),
		Suggestion: "Fix the listed fields and run 'rotator validate' again",
	}
}

func yamlError(err error) error {
	return dserrors.ConfigError{
		Message:    fmt.Sprintf("invalid YAML syntax in configuration file: %v", err),
		Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
	}
}
