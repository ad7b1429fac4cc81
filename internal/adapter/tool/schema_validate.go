package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"chasingclaw/internal/domain"
)

// validatingTool checks call arguments against the tool's declared JSON
// Schema before delegating, so handlers only see well-formed input.
type validatingTool struct {
	domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps t so that Execute validates arguments against
// t.Schema().Parameters. Tools without a schema are returned unchanged.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	url := "tool://" + t.Name() + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}
	return &validatingTool{Tool: t, schema: compiled}, nil
}

func (v *validatingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var doc any
	if err := json.Unmarshal(params, &doc); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid JSON arguments: %v", err)}, nil
	}
	if err := v.schema.Validate(doc); err != nil {
		return &domain.ToolResult{IsError: true, Content: "invalid arguments: " + describeValidation(err)}, nil
	}
	return v.Tool.Execute(ctx, params)
}

// describeValidation flattens a validation error to its leaf causes.
func describeValidation(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
