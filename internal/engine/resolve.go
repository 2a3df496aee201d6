/*
PURPOSE:
  Maps a user-typed model name to a catalog id.

REQUIREMENTS:
  Implementation-discovered:
  - LM Studio ids are long; users type fragments ("qwen", "7b").
  - Order: exact, case-insensitive, alias, prefix, substring.

ARCHITECTURE INTEGRATION:
  - Called by: Engine.RunDiagnostic
*/

package engine

import (
	"errors"
	"sort"
	"strings"

	"github.com/daryltucker/stream-probe/internal/model"
)

var (
	// ErrModelNotFound is returned when a requested model matches nothing in the catalog.
	ErrModelNotFound = errors.New("model not found in catalog")
	// ErrNoModels is returned when the catalog (after exclusions) is empty.
	ErrNoModels = errors.New("no models available")
)

// Resolution strategies, in the order they are tried.
const (
	StrategyExact           = "exact"
	StrategyCaseInsensitive = "case-insensitive"
	StrategyAlias           = "alias"
	StrategyPrefix          = "prefix"
	StrategySubstring       = "substring"
)

// Resolution is the catalog id chosen for a requested name.
type Resolution struct {
	ID        string
	Requested string
	// Changed is true when ID differs from Requested.
	Changed  bool
	Strategy string
}

// ResolveModel maps requested to a catalog id: exact, case-insensitive, configured alias,
// prefix, then substring. Ambiguous prefix and substring matches pick the shortest id, then the
// lexically smallest, so the choice is stable across catalog orderings.
func ResolveModel(requested string, models []model.ModelInfo, aliases map[string]string) (Resolution, bool) {
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}

	found := func(id, strategy string) (Resolution, bool) {
		return Resolution{ID: id, Requested: requested, Changed: id != requested, Strategy: strategy}, true
	}

	for _, id := range ids {
		if id == requested {
			return found(id, StrategyExact)
		}
	}
	if id, ok := matchFold(ids, requested); ok {
		return found(id, StrategyCaseInsensitive)
	}
	if target, ok := lookupAlias(aliases, requested); ok {
		if id, ok := matchFold(ids, target); ok {
			return found(id, StrategyAlias)
		}
	}

	want := strings.ToLower(requested)
	if id, ok := best(ids, func(id string) bool { return strings.HasPrefix(strings.ToLower(id), want) }); ok {
		return found(id, StrategyPrefix)
	}
	if id, ok := best(ids, func(id string) bool { return strings.Contains(strings.ToLower(id), want) }); ok {
		return found(id, StrategySubstring)
	}
	return Resolution{Requested: requested}, false
}

func matchFold(ids []string, name string) (string, bool) {
	for _, id := range ids {
		if strings.EqualFold(id, name) {
			return id, true
		}
	}
	return "", false
}

func lookupAlias(aliases map[string]string, name string) (string, bool) {
	if target, ok := aliases[name]; ok {
		return target, true
	}
	for alias, target := range aliases {
		if strings.EqualFold(alias, name) {
			return target, true
		}
	}
	return "", false
}

func best(ids []string, match func(string) bool) (string, bool) {
	var hits []string
	for _, id := range ids {
		if match(id) {
			hits = append(hits, id)
		}
	}
	if len(hits) == 0 {
		return "", false
	}
	sort.Slice(hits, func(i, j int) bool {
		if len(hits[i]) != len(hits[j]) {
			return len(hits[i]) < len(hits[j])
		}
		return hits[i] < hits[j]
	})
	return hits[0], true
}
