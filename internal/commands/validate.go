package commands

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/quantumlife/lifeops/internal/core"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://lifeops.local/schemas/commands/"

// Validator checks command payloads against per-type JSON schemas.
type Validator struct {
	schemas map[core.CommandType]*jsonschema.Schema
}

// NewValidator compiles the embedded command schemas.
func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read command schemas: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	v := &Validator{schemas: make(map[core.CommandType]*jsonschema.Schema)}
	for _, e := range entries {
		name := e.Name()
		data, err := schemaFS.ReadFile(path.Join("schemas", name))
		if err != nil {
			return nil, err
		}
		url := schemaBaseURL + name
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[core.CommandType(strings.TrimSuffix(name, ".json"))] = compiled
	}
	return v, nil
}

// Validate checks cmd. Unknown command types only need a type; they pass
// through the reducer as command.received.
func (v *Validator) Validate(cmd core.Command) error {
	if cmd.Type == "" {
		return fmt.Errorf("command type: %w", core.ErrMissingRequired)
	}

	schema, ok := v.schemas[cmd.Type]
	if !ok {
		return nil
	}

	doc, err := normalize(cmd.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrInvalidPayload, cmd.Type, err)
	}
	return nil
}

// Has reports whether t has a schema
func (v *Validator) Has(t core.CommandType) bool {
	_, ok := v.schemas[t]
	return ok
}

// normalize round-trips the payload through JSON so Go ints and structs
// become the plain JSON values the schema validator expects.
func normalize(payload map[string]interface{}) (interface{}, error) {
	if payload == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
