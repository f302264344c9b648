package extract

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/backup"
	"github.com/starford/perthro/internal/models"
)

// Strategy names one way of locating an identity in a container.
type Strategy string

// Strategies in the order they are tried.
const (
	// Standard resolves through the container (manifest index or legacy hash).
	Standard Strategy = "standard"
	// DirectHash recomputes the address from domain + path, bypassing the index.
	DirectHash Strategy = "direct_hash"
	// ManifestQuery queries the manifest database afresh.
	ManifestQuery Strategy = "manifest_query"
)

// DefaultStrategies is the full fallback chain.
var DefaultStrategies = []Strategy{Standard, DirectHash, ManifestQuery}

// StrategyNames returns the names of all known strategies.
func StrategyNames() []string {
	out := make([]string, len(DefaultStrategies))
	for i, s := range DefaultStrategies {
		out[i] = string(s)
	}
	return out
}

// ParseStrategies converts names to strategies. The result is always in
// canonical chain order regardless of the order of names; duplicates are
// dropped and an empty input selects every strategy.
func ParseStrategies(names []string) ([]Strategy, error) {
	if len(names) == 0 {
		return slices.Clone(DefaultStrategies), nil
	}
	want := make(map[Strategy]bool, len(names))
	for _, n := range names {
		s := Strategy(n)
		if !slices.Contains(DefaultStrategies, s) {
			return nil, fmt.Errorf("extract: unknown strategy %q", n)
		}
		want[s] = true
	}
	var out []Strategy
	for _, s := range DefaultStrategies {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// errNotApplicable marks a strategy that cannot handle an identity.
var errNotApplicable = errors.New("extract: strategy not applicable")

// locate returns the storage ID strategy s finds for id.
func (e *Engine) locate(ctx context.Context, s Strategy, id models.Identity) (string, error) {
	switch s {
	case Standard:
		loc, err := e.container.Resolve(ctx, id)
		if err != nil {
			return "", err
		}
		return loc.StorageID, nil
	case DirectHash:
		if !id.HasPath() {
			return "", errNotApplicable
		}
		return address.Address(id.Domain, id.RelativePath)
	case ManifestQuery:
		if e.container.Layout() != backup.ManifestBased {
			return "", errNotApplicable
		}
		return e.container.QueryManifest(ctx, id)
	default:
		return "", errNotApplicable
	}
}
