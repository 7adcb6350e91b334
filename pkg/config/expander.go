package config

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/engine"
)

// Expander turns category selections into engine work items.
type Expander struct {
	hierarchy *Hierarchy
	logger    zerolog.Logger
}

// NewExpander creates an expander over an immutable hierarchy.
func NewExpander(h *Hierarchy, logger zerolog.Logger) *Expander {
	return &Expander{
		hierarchy: h,
		logger:    logger.With().Str("component", "expander").Logger(),
	}
}

// Expand returns one work item per (category, product, plan) triple of the
// selected categories, all bound to targetEnvironment. Unknown categories
// and an empty result are configuration errors, so no work starts.
func (e *Expander) Expand(targetEnvironment string, categories ...string) ([]engine.WorkItem, error) {
	combos, err := e.hierarchy.Combinations(categories...)
	if err != nil {
		return nil, err
	}

	if len(combos) == 0 {
		return nil, engine.NewConfigurationError("no combinations found for the selected categories", nil).
			WithCode(engine.ErrCodeNoCombinations).
			WithResource(strings.Join(categories, ","))
	}

	items := make([]engine.WorkItem, len(combos))
	for i, c := range combos {
		items[i] = engine.WorkItem{
			Category:          c.Category,
			Product:           c.Product,
			Plan:              c.Plan,
			TargetEnvironment: targetEnvironment,
		}
	}

	e.logger.Debug().
		Int("combinations", len(items)).
		Strs("categories", categories).
		Str("target_environment", targetEnvironment).
		Msg("Expanded combinations")

	return items, nil
}

var _ engine.WorkItemSource = (*Expander)(nil)
