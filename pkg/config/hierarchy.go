package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/parity/pkg/engine"
)

var hierarchyIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// newValidator returns a validator with the package's custom tags registered.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("hierarchy_id", func(fl validator.FieldLevel) bool {
		return hierarchyIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// Hierarchy is the immutable category/product/plan tree. It is built
// once at startup and shared read-only; every accessor returns copies.
type Hierarchy struct {
	categories []Category
	index      map[string]int
}

// LoadHierarchy loads a hierarchy from a JSON, YAML or CUE file, or from a
// directory of CUE files.
func LoadHierarchy(ctx context.Context, path string) (*Hierarchy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to open hierarchy", err).
			WithCode(engine.ErrCodeNotFound).WithResource(path)
	}

	if info.IsDir() {
		return parseCUESources(ctx, []string{path})
	}

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if format == FormatCUE {
		return parseCUESources(ctx, []string{path})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read hierarchy", err).WithResource(path)
	}
	return ParseHierarchy(ctx, data, format)
}

// FormatFromPath infers the hierarchy format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", engine.NewConfigurationError("unsupported hierarchy format", nil).
			WithCode(engine.ErrCodeValidation).WithResource(path)
	}
}

// ParseHierarchy parses hierarchy source data in the given format.
func ParseHierarchy(ctx context.Context, data []byte, format Format) (*Hierarchy, error) {
	var doc map[string]interface{}

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, engine.NewConfigurationError("invalid JSON hierarchy", err).WithCode(engine.ErrCodeValidation)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, engine.NewConfigurationError("invalid YAML hierarchy", err).WithCode(engine.ErrCodeValidation)
		}
	case FormatCUE:
		parsed, err := NewCUEParser().ParseInline(ctx, string(data))
		if err != nil {
			return nil, err
		}
		return fromParsed(parsed)
	default:
		return nil, engine.NewConfigurationError(fmt.Sprintf("unsupported hierarchy format: %s", format), nil).
			WithCode(engine.ErrCodeValidation)
	}

	return NewHierarchy(ctx, doc)
}

func parseCUESources(ctx context.Context, sources []string) (*Hierarchy, error) {
	parsed, err := NewCUEParser().Parse(ctx, sources)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to parse hierarchy", err).WithResource(strings.Join(sources, ","))
	}
	return fromParsed(parsed)
}

func fromParsed(parsed *ParsedHierarchy) (*Hierarchy, error) {
	if len(parsed.Errors) > 0 {
		return nil, validationFailure(parsed.Errors)
	}
	return build(parsed.Document)
}

// NewHierarchy builds a hierarchy from a decoded document. The top-level
// categories wrapper is optional. The document is checked against the
// hierarchy CUE schema before it is built.
func NewHierarchy(ctx context.Context, doc map[string]interface{}) (*Hierarchy, error) {
	doc = unwrap(doc)

	errs, err := NewSchemaRegistry().Check(ctx, "hierarchy", doc)
	if err != nil {
		return nil, engine.NewInternalError("failed to validate hierarchy", err)
	}
	if len(errs) > 0 {
		return nil, validationFailure(errs)
	}

	return build(doc)
}

func unwrap(doc map[string]interface{}) map[string]interface{} {
	if doc == nil {
		return map[string]interface{}{}
	}
	if inner, ok := doc["categories"].(map[string]interface{}); ok {
		return inner
	}
	return doc
}

func validationFailure(errs []ValidationError) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.String()
	}
	return engine.NewConfigurationError("invalid hierarchy: "+strings.Join(msgs, "; "), nil).
		WithCode(engine.ErrCodeValidation).
		WithDetail("errors", errs)
}

// build converts a schema-checked document into the sorted tree.
func build(doc map[string]interface{}) (*Hierarchy, error) {
	h := &Hierarchy{index: make(map[string]int, len(doc))}

	for _, catID := range sortedKeys(doc) {
		catDoc, _ := doc[catID].(map[string]interface{})
		cat := Category{ID: catID, Name: nameOr(catDoc, catID)}

		products, _ := catDoc["products"].(map[string]interface{})
		for _, prodID := range sortedKeys(products) {
			prodDoc, _ := products[prodID].(map[string]interface{})
			prod := Product{ID: prodID, Name: nameOr(prodDoc, prodID)}
			prod.Plans = buildPlans(prodDoc["plans"])
			cat.Products = append(cat.Products, prod)
		}

		h.categories = append(h.categories, cat)
	}

	v := newValidator()
	for i, cat := range h.categories {
		if err := v.Struct(cat); err != nil {
			return nil, engine.NewConfigurationError("invalid hierarchy", err).
				WithCode(engine.ErrCodeValidation).WithResource(cat.ID)
		}
		h.index[cat.ID] = i
	}

	return h, nil
}

func buildPlans(raw interface{}) []Plan {
	var plans []Plan

	switch p := raw.(type) {
	case []interface{}:
		seen := make(map[string]bool, len(p))
		for _, item := range p {
			id, _ := item.(string)
			if seen[id] {
				continue
			}
			seen[id] = true
			plans = append(plans, Plan{ID: id, Name: id})
		}
	case map[string]interface{}:
		for id, attrs := range p {
			plan := Plan{ID: id, Name: id}
			if m, ok := attrs.(map[string]interface{}); ok {
				plan.Name = nameOr(m, id)
				for k, v := range m {
					if k == "name" {
						continue
					}
					if plan.Attributes == nil {
						plan.Attributes = make(map[string]interface{})
					}
					plan.Attributes[k] = v
				}
			}
			plans = append(plans, plan)
		}
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return plans
}

func nameOr(doc map[string]interface{}, fallback string) string {
	if name, ok := doc["name"].(string); ok && name != "" {
		return name
	}
	return fallback
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CategoryIDs returns the category IDs in sorted order.
func (h *Hierarchy) CategoryIDs() []string {
	ids := make([]string, len(h.categories))
	for i, c := range h.categories {
		ids[i] = c.ID
	}
	return ids
}

// Categories returns copies of all categories in sorted ID order.
func (h *Hierarchy) Categories() []Category {
	out := make([]Category, len(h.categories))
	for i, c := range h.categories {
		out[i] = c.clone()
	}
	return out
}

// Category returns a copy of one category.
func (h *Hierarchy) Category(id string) (Category, error) {
	i, ok := h.index[id]
	if !ok {
		return Category{}, categoryNotFound(id)
	}
	return h.categories[i].clone(), nil
}

// Products returns copies of a category's products.
func (h *Hierarchy) Products(category string) ([]Product, error) {
	cat, err := h.Category(category)
	if err != nil {
		return nil, err
	}
	return cat.Products, nil
}

// Plans returns copies of a product's plans.
func (h *Hierarchy) Plans(category, product string) ([]Plan, error) {
	products, err := h.Products(category)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		if p.ID == product {
			return p.Plans, nil
		}
	}
	return nil, engine.NewConfigurationError(
		fmt.Sprintf("product not found: %s in category %s", product, category), nil).
		WithCode(engine.ErrCodeNotFound).WithResource(product)
}

// Combinations expands the selected categories into ordered
// (category, product, plan) triples. No categories means all of them;
// duplicates in the filter are ignored. An unknown category fails the whole
// expansion.
func (h *Hierarchy) Combinations(categories ...string) ([]Combination, error) {
	if len(categories) == 0 {
		categories = h.CategoryIDs()
	}

	var out []Combination
	seen := make(map[string]bool, len(categories))
	for _, id := range categories {
		if seen[id] {
			continue
		}
		seen[id] = true

		i, ok := h.index[id]
		if !ok {
			return nil, categoryNotFound(id)
		}
		for _, prod := range h.categories[i].Products {
			for _, plan := range prod.Plans {
				out = append(out, Combination{Category: id, Product: prod.ID, Plan: plan.ID})
			}
		}
	}
	return out, nil
}

// Document returns the hierarchy in its source shape, with plans as a map
// of plan ID to attributes.
func (h *Hierarchy) Document() map[string]interface{} {
	cats := make(map[string]interface{}, len(h.categories))
	for _, c := range h.categories {
		products := make(map[string]interface{}, len(c.Products))
		for _, p := range c.Products {
			plans := make(map[string]interface{}, len(p.Plans))
			for _, plan := range p.Plans {
				attrs := map[string]interface{}{"name": plan.Name}
				for k, v := range plan.Attributes {
					attrs[k] = v
				}
				plans[plan.ID] = attrs
			}
			products[p.ID] = map[string]interface{}{"name": p.Name, "plans": plans}
		}
		cats[c.ID] = map[string]interface{}{"name": c.Name, "products": products}
	}
	return map[string]interface{}{"categories": cats}
}

// MarshalJSON encodes the hierarchy in its source shape.
func (h *Hierarchy) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Document())
}

func categoryNotFound(id string) error {
	return engine.NewConfigurationError("category not found: "+id, nil).
		WithCode(engine.ErrCodeNotFound).WithResource(id)
}

func (c Category) clone() Category {
	out := c
	out.Products = make([]Product, len(c.Products))
	for i, p := range c.Products {
		cp := p
		cp.Plans = make([]Plan, len(p.Plans))
		for j, plan := range p.Plans {
			pc := plan
			if plan.Attributes != nil {
				pc.Attributes = make(map[string]interface{}, len(plan.Attributes))
				for k, v := range plan.Attributes {
					pc.Attributes[k] = v
				}
			}
			cp.Plans[j] = pc
		}
		out.Products[i] = cp
	}
	return out
}
