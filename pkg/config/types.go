package config

import (
	"strconv"
	"time"
)

// Format identifies the encoding of a hierarchy source.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// Plan is a single insurance plan offered by a product.
type Plan struct {
	// ID is the plan identifier (e.g., "COMPREHENSIVE").
	ID string `json:"plan_id" yaml:"plan_id" validate:"required,hierarchy_id"`

	// Name is the display name. Defaults to the ID.
	Name string `json:"name" yaml:"name"`

	// Attributes carries any other fields declared for the plan.
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Product is an insurer product within a category.
type Product struct {
	// ID is the product identifier (e.g., "TOKIO_MARINE").
	ID string `json:"product_id" yaml:"product_id" validate:"required,hierarchy_id"`

	// Name is the display name. Defaults to the ID.
	Name string `json:"name" yaml:"name"`

	// Plans are the product's plans in sorted ID order.
	Plans []Plan `json:"plans" yaml:"plans" validate:"dive"`
}

// Category is a top-level line of business (e.g., "MV4").
type Category struct {
	// ID is the category identifier.
	ID string `json:"category_id" yaml:"category_id" validate:"required,hierarchy_id"`

	// Name is the display name. Defaults to the ID.
	Name string `json:"name" yaml:"name"`

	// Products are the category's products in sorted ID order.
	Products []Product `json:"products" yaml:"products" validate:"dive"`
}

// Combination is one (category, product, plan) triple.
type Combination struct {
	Category string `json:"category"`
	Product  string `json:"product_id"`
	Plan     string `json:"plan_id"`
}

// ValidationError represents a hierarchy or settings validation error.
type ValidationError struct {
	// File is the source file where the error occurred.
	File string `json:"file,omitempty"`

	// Line is the line number where the error occurred.
	Line int `json:"line,omitempty"`

	// Column is the column number where the error occurred.
	Column int `json:"column,omitempty"`

	// Path is the field path (e.g., "categories.MV4.products").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

// String returns a human-readable representation of the error.
func (ve ValidationError) String() string {
	loc := ve.File
	if ve.Line > 0 {
		loc = ve.File + ":" + strconv.Itoa(ve.Line)
		if ve.Column > 0 {
			loc += ":" + strconv.Itoa(ve.Column)
		}
	}
	switch {
	case loc != "" && ve.Path != "":
		return loc + ": " + ve.Path + ": " + ve.Message
	case loc != "":
		return loc + ": " + ve.Message
	case ve.Path != "":
		return ve.Path + ": " + ve.Message
	default:
		return ve.Message
	}
}

// ParsedHierarchy is the raw result of parsing CUE hierarchy sources.
type ParsedHierarchy struct {
	// SourceFiles lists the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the sources were parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Document is the decoded hierarchy document.
	Document map[string]interface{} `json:"document,omitempty"`

	// Errors contains any parse or schema errors.
	Errors []ValidationError `json:"errors,omitempty"`
}
