package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	suggestionSchemaOnce sync.Once
	suggestionSchema     *jsonschema.Schema
	suggestionSchemaErr  error
)

// CompileSchema compiles schemaMap with the draft 2020-12 compiler.
func CompileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func loadSuggestionSchema() (*jsonschema.Schema, error) {
	suggestionSchemaOnce.Do(func() {
		suggestionSchema, suggestionSchemaErr = CompileSchema(BuildSuggestionJSONSchema())
	})
	return suggestionSchema, suggestionSchemaErr
}

// InvalidTopLevelFields validates m against the suggestion schema and returns
// the top-level keys whose values fail it.
func InvalidTopLevelFields(m map[string]any) ([]string, error) {
	schema, err := loadSuggestionSchema()
	if err != nil {
		return nil, err
	}
	err = schema.Validate(m)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, be := range ve.BasicOutput().Errors {
		loc := strings.TrimPrefix(be.InstanceLocation, "/")
		if loc == "" {
			continue
		}
		key, _, _ := strings.Cut(loc, "/")
		key = strings.ReplaceAll(strings.ReplaceAll(key, "~1", "/"), "~0", "~")
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out, nil
}
