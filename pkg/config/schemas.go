package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ConfigSchema is the name of the built-in configuration file schema.
const ConfigSchema = "config"

// SchemaRegistry holds CUE definitions that decoded documents are checked
// against. Definitions are closed, so unknown keys are rejected.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

var defaultRegistry = NewSchemaRegistry()

// NewSchemaRegistry creates a registry with the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema(ConfigSchema, "#Config", builtinConfigSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles source and registers the definition found at path
// (for example "#Config") under name.
func (sr *SchemaRegistry) RegisterSchema(name, path, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(path))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, path)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema unifies data with a named schema and requires the
// result to be concrete.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	// cue.Context is not safe for concurrent use.
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
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

const builtinConfigSchema = `
// Go duration string, e.g. 1s, 1500ms, 2m.
#Duration: string & =~"^(0|([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+)$"

#Config: {
	server?: {
		address?:          string & !=""
		shutdown_timeout?: #Duration
	}

	storage?: {
		kind?: "sqlite" | "memory"
		path?: string
	}

	simulation?: {
		fill_delay?:    #Duration
		wash_delay?:    #Duration
		rinse_delay?:   #Duration
		spin_delay?:    #Duration
		failure_rate?:  number & >=0 & <=1
		step_timeout?:  #Duration
		cycle_timeout?: #Duration
	}

	// Checked field by field by the telemetry package.
	telemetry?: {...}
}
`
