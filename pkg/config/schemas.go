package config

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
)

//go:embed schema.cue
var builtinJobSchema string

// Built-in schema names.
const (
	SchemaJob = "job"
	SchemaEnv = "env"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		schemas: make(map[string]cue.Value),
	}

	// The embedded schema is part of the binary; failing to compile it is a build defect.
	if err := sr.RegisterSchema(SchemaJob, builtinJobSchema, "#Job"); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaEnv, builtinJobSchema, "#Env"); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles source and registers the definition named def under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	root := compileString(source, name+".schema.cue")
	if err := root.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	val := root.LookupPath(cue.ParsePath(def))
	if !val.Exists() {
		return fmt.Errorf("schema %s: definition %s not found", name, def)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate unifies data with the named schema and reports every violation.
// data is not modified; callers keep reading the original value.
func (sr *SchemaRegistry) Validate(schemaName string, data cue.Value) ([]ValidationError, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return nil, fmt.Errorf("schema %s not found", schemaName)
	}

	cueMu.Lock()
	defer cueMu.Unlock()

	unified := schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err), nil
	}
	return nil, nil
}

// ValidateSource validates a Source against the named schema.
func (sr *SchemaRegistry) ValidateSource(schemaName string, src *Source) ([]ValidationError, error) {
	return sr.Validate(schemaName, src.Value())
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
