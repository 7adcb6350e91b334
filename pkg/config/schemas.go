package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	// Built-ins are constants; a compile failure is a programming error.
	for name, schema := range map[string]string{
		"hierarchy": builtinHierarchySchema,
		"fault":     builtinFaultSchema,
	} {
		if err := sr.RegisterSchema(name, schema); err != nil {
			panic(err)
		}
	}
}

// RegisterSchema registers a CUE schema with the given name. When the
// source declares a definition named after the schema (#Hierarchy for
// "hierarchy"), data is validated against that definition; otherwise
// against the whole source value.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	if def := val.LookupPath(cue.ParsePath(definitionName(name))); def.Exists() {
		val = def
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

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	errs, err := sr.Check(ctx, schemaName, data)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.String()
		}
		return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Check validates data against a named schema and returns every violation.
// The error is non-nil only when the schema is unknown or the data cannot
// be encoded.
func (sr *SchemaRegistry) Check(ctx context.Context, schemaName string, data interface{}) ([]ValidationError, error) {
	// cue.Context is not safe for concurrent use.
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return nil, fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cueValidationErrors(err), nil
	}

	return nil, nil
}

// ListSchemas returns all registered schema names in sorted order.
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

func definitionName(name string) string {
	if name == "" {
		return "#"
	}
	return "#" + strings.ToUpper(name[:1]) + name[1:]
}

// cueValidationErrors converts CUE errors to a ValidationError slice.
func cueValidationErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Message:  errors.Details(e, nil),
			Severity: "error",
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}

	return out
}

// Built-in schema definitions

const builtinHierarchySchema = `
// Hierarchy maps category IDs to categories. Identifiers end up in
// progress keys and are restricted to a path-safe alphabet.
#Hierarchy: {
	[=~"^[A-Za-z0-9_-]+$"]: #Category
}

#Category: {
	name?: string

	// Products maps product IDs to products.
	products!: {[=~"^[A-Za-z0-9_-]+$"]: #Product}
	...
}

#Product: {
	name?: string

	// Plans is either a list of plan IDs or a map of plan ID to attributes.
	plans!: [...(string & =~"^[A-Za-z0-9_-]+$")] | {[=~"^[A-Za-z0-9_-]+$"]: #Plan}
	...
}

#Plan: null | {
	name?: string
	...
}
`

const builtinFaultSchema = `
// Fault is the dictionary form a fault script may return.
#Fault: {
	status_code?: int & >=100 & <=599
	error?:       string
	patch?: {...}
}
`
