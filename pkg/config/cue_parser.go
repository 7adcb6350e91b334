package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// CUEParser parses and validates CUE hierarchy sources.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return NewCUEParserWithRegistry(NewSchemaRegistry())
}

// NewCUEParserWithRegistry creates a CUE parser that validates against sr.
func NewCUEParserWithRegistry(sr *SchemaRegistry) *CUEParser {
	return &CUEParser{
		ctx:            cuecontext.New(),
		schemaRegistry: sr,
	}
}

// Parse parses CUE hierarchy files or directories. All sources are unified
// into one value, so a hierarchy may be split across files.
// Parse and schema errors are reported in ParsedHierarchy.Errors; the
// returned error is reserved for unreadable sources.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedHierarchy, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			dirFiles, err := cp.LoadFromDirectory(source)
			if err != nil {
				return nil, err
			}
			if len(dirFiles) == 0 {
				return &ParsedHierarchy{
					SourceFiles: []string{source},
					ParsedAt:    time.Now(),
					Errors: []ValidationError{{
						File:     source,
						Message:  "no CUE files found",
						Severity: "error",
					}},
				}, nil
			}
			files = append(files, dirFiles...)
		} else {
			files = append(files, source)
		}
	}

	var unified cue.Value
	var parseErrors []ValidationError
	for _, file := range files {
		val, errs := cp.loadFile(file)
		if len(errs) > 0 {
			parseErrors = append(parseErrors, errs...)
			continue
		}
		if unified.Exists() {
			unified = unified.Unify(val)
		} else {
			unified = val
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedHierarchy{
			SourceFiles: files,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := unified.Err(); err != nil {
		return &ParsedHierarchy{
			SourceFiles: files,
			ParsedAt:    time.Now(),
			Errors:      cueValidationErrors(err),
		}, nil
	}

	return cp.extract(ctx, unified, files)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedHierarchy, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedHierarchy{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cueValidationErrors(err),
		}, nil
	}

	return cp.extract(ctx, val, []string{"inline"})
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cueValidationErrors(err)
	}

	return val, nil
}

// extract decodes the hierarchy document and validates it against the
// hierarchy schema. The top-level categories wrapper is optional.
func (cp *CUEParser) extract(ctx context.Context, val cue.Value, sourceFiles []string) (*ParsedHierarchy, error) {
	parsed := &ParsedHierarchy{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	if wrapped := val.LookupPath(cue.ParsePath("categories")); wrapped.Exists() {
		val = wrapped
	}

	if err := val.Validate(cue.Concrete(true)); err != nil {
		parsed.Errors = append(parsed.Errors, cueValidationErrors(err)...)
		return parsed, nil
	}

	data, err := cp.ExportJSON(val)
	if err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Message:  err.Error(),
			Severity: "error",
		})
		return parsed, nil
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Message:  "hierarchy must be a struct of categories",
			Severity: "error",
		})
		return parsed, nil
	}

	errs, err := cp.schemaRegistry.Check(ctx, "hierarchy", doc)
	if err != nil {
		return nil, fmt.Errorf("failed to validate hierarchy: %w", err)
	}
	parsed.Document = doc
	parsed.Errors = append(parsed.Errors, errs...)

	return parsed, nil
}

// ExportJSON exports a CUE value to JSON.
func (cp *CUEParser) ExportJSON(val cue.Value) ([]byte, error) {
	data, err := val.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export value: %w", err)
	}
	return data, nil
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// LoadFromDirectory lists all CUE files below a directory in sorted order.
func (cp *CUEParser) LoadFromDirectory(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}
