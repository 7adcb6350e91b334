// Package config loads the product hierarchy and the application settings.
//
// # Overview
//
// The product hierarchy is the category, product and plan tree that defines
// which combinations are tested. It is loaded once at startup into an
// immutable *Hierarchy and injected wherever it is needed; nothing mutates
// or reloads it at runtime.
//
// # Sources
//
// Hierarchies can be written in JSON, YAML or CUE. The top-level
// "categories" wrapper is optional, and a product's plans may be a list of
// plan IDs or a map of plan ID to attributes:
//
//	{
//	  "categories": {
//	    "MV4": {
//	      "name": "Motor Vehicle",
//	      "products": {
//	        "TOKIO_MARINE": {"plans": ["COMPREHENSIVE", "THIRD_PARTY"]},
//	        "ALLIANZ": {"plans": {"COMPREHENSIVE": {"name": "Comprehensive"}}}
//	      }
//	    }
//	  }
//	}
//
// Every source is checked against the built-in #Hierarchy CUE schema
// (see SchemaRegistry), so identifiers are limited to letters, digits,
// underscores and dashes.
//
// # Components
//
// Hierarchy: immutable tree with sorted, copy-returning accessors and
// Combinations for (category, product, plan) expansion.
//
// Expander: implements engine.WorkItemSource on top of a Hierarchy. An
// unknown category fails with NOT_FOUND and an empty selection with
// NO_COMBINATIONS, both configuration errors.
//
// CUEParser: parses CUE files, directories and inline content and reports
// errors with file, line and column.
//
// SchemaRegistry: compiled CUE schemas (hierarchy, fault) with
// validation that returns every violation.
//
// Settings: YAML application settings with ${VAR} expansion, defaults and
// validator/v10 checks.
//
// # Usage Example
//
//	settings, err := config.LoadSettings("parity.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	h, err := config.LoadHierarchy(ctx, settings.Hierarchy.Path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	items, err := config.NewExpander(h, logger).Expand("DEV", "MV4")
package config
