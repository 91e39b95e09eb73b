// Package merger implements the strategies used to combine attribute maps
// coming from different sources. All strategies are pure: inputs are never
// mutated and the result is a freshly allocated map.
package merger

import (
	"fmt"

	"github.com/apereo/persondir/pkg/attribute"
)

// Strategy combines a base attribute map with an addition. The base comes
// from an earlier (higher precedence) source, the addition from a later one.
type Strategy interface {
	Merge(base, addition attribute.Map) attribute.Map

	// Name returns the identifier the strategy is registered under.
	Name() string
}

// NoncollidingAdder adds attributes from the addition only when the base
// does not hold the name yet. On a collision the base's values win and the
// addition's values for that name are dropped entirely, not appended.
type NoncollidingAdder struct{}

var _ Strategy = NoncollidingAdder{}

func (NoncollidingAdder) Name() string { return "noncolliding-add" }

func (NoncollidingAdder) Merge(base, addition attribute.Map) attribute.Map {
	merged := base.Clone()
	if merged == nil {
		merged = attribute.New()
	}
	for name, values := range addition {
		if merged.Has(name) {
			continue
		}
		merged.Add(name, values...)
	}
	return merged
}

// ReplacingAdder overwrites colliding attributes with the addition's values
// and adds the rest.
type ReplacingAdder struct{}

var _ Strategy = ReplacingAdder{}

func (ReplacingAdder) Name() string { return "replace" }

func (ReplacingAdder) Merge(base, addition attribute.Map) attribute.Map {
	merged := base.Clone()
	if merged == nil {
		merged = attribute.New()
	}
	for name, values := range addition.Clone() {
		merged.Put(name, values...)
	}
	return merged
}

// MultivaluedMerger unions value lists on collision, base values first, then
// the addition's, preserving order and duplicates.
type MultivaluedMerger struct{}

var _ Strategy = MultivaluedMerger{}

func (MultivaluedMerger) Name() string { return "multivalue-union" }

func (MultivaluedMerger) Merge(base, addition attribute.Map) attribute.Map {
	merged := base.Clone()
	if merged == nil {
		merged = attribute.New()
	}
	for name, values := range addition {
		merged.Add(name, values...)
	}
	return merged
}

// Lookup resolves a strategy by its registered name.
func Lookup(name string) (Strategy, error) {
	switch name {
	case NoncollidingAdder{}.Name():
		return NoncollidingAdder{}, nil
	case ReplacingAdder{}.Name():
		return ReplacingAdder{}, nil
	case MultivaluedMerger{}.Name():
		return MultivaluedMerger{}, nil
	default:
		return nil, fmt.Errorf("unknown merge strategy: %q", name)
	}
}
