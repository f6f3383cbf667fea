package reconcile

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentworkforce/graphsync/internal/docstore"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema names one of the embedded document schemas.
type Schema string

const (
	SchemaPrincipal Schema = "principal"
	SchemaSignIn    Schema = "sign_in"
	SchemaAudit     Schema = "audit"
)

const schemaBaseURL = "https://graphsync.local/schemas/"

//go:embed schemas/*.json
var schemaFiles embed.FS

var (
	compiledOnce    sync.Once
	compiledSchemas map[Schema]*jsonschema.Schema
	compileErr      error
)

// Validator checks documents against one embedded schema before they are
// written.
type Validator struct {
	name   Schema
	schema *jsonschema.Schema
}

func NewValidator(name Schema) (*Validator, error) {
	compiledOnce.Do(func() {
		compiledSchemas, compileErr = compileSchemas()
	})
	if compileErr != nil {
		return nil, compileErr
	}
	schema, ok := compiledSchemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return &Validator{name: name, schema: schema}, nil
}

// Validate reports why doc does not satisfy the schema, or nil.
func (v *Validator) Validate(doc docstore.Document) error {
	if v == nil {
		return nil
	}
	// The schema library validates decoded JSON values, so the document goes
	// through its wire form first.
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("%s document invalid: %w", v.name, err)
	}
	return nil
}

func compileSchemas() (map[Schema]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	names := []Schema{SchemaPrincipal, SchemaSignIn, SchemaAudit}
	for _, name := range names {
		data, err := schemaFiles.ReadFile("schemas/" + string(name) + ".json")
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaBaseURL+string(name)+".json", doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	out := make(map[Schema]*jsonschema.Schema, len(names))
	for _, name := range names {
		schema, err := compiler.Compile(schemaBaseURL + string(name) + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out[name] = schema
	}
	return out, nil
}
