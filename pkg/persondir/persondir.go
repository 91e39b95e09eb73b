// Package persondir defines the core model of the person directory: queries,
// resolved people, the Source contract every backend implements, and the
// composite resolver that fans a query out across sources and merges the
// results.
package persondir

//go:generate mockgen -source persondir.go -destination ../../internal/mocks/mock_source.go -package mocks Source

import (
	"context"
	"fmt"
	"strings"
)

// DefaultUsernameAttribute is the attribute name used to carry the subject
// identifier when a source has no explicit username attribute configured.
const DefaultUsernameAttribute = "username"

// QueryType selects how multiple attribute comparisons in a query combine.
type QueryType int

const (
	QueryTypeAND QueryType = iota
	QueryTypeOR
)

func (t QueryType) String() string {
	switch t {
	case QueryTypeOR:
		return "OR"
	default:
		return "AND"
	}
}

// ParseQueryType parses "AND" or "OR", case-insensitively.
func ParseQueryType(s string) (QueryType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return QueryTypeAND, nil
	case "OR":
		return QueryTypeOR, nil
	default:
		return QueryTypeAND, fmt.Errorf("unknown query type %q: %w", s, ErrConfiguration)
	}
}

// Query is a set of attribute criteria to resolve people by. Each attribute
// holds the ordered values to compare against; Type picks the join between
// the resulting comparisons.
type Query struct {
	Attributes map[string][]any `json:"attributes"`
	Type       QueryType        `json:"-"`
}

// NewSubjectQuery builds the seed query used for whole-subject lookup: a
// single comparison of the given username attribute against username. An
// empty attr selects DefaultUsernameAttribute.
func NewSubjectQuery(attr, username string) Query {
	if attr == "" {
		attr = DefaultUsernameAttribute
	}
	return Query{
		Attributes: map[string][]any{attr: {username}},
	}
}

// Username extracts the subject identifier carried by the query under attr
// (DefaultUsernameAttribute when attr is empty). It returns the first
// non-blank value, stringified, and false when the query carries none.
func (q Query) Username(attr string) (string, bool) {
	if attr == "" {
		attr = DefaultUsernameAttribute
	}
	for _, v := range q.Attributes[attr] {
		if v == nil {
			continue
		}
		s := fmt.Sprint(v)
		if strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// Source resolves people and their attributes from one backend. A source
// owns its backend connection, its query construction, and its result
// collation; the composite resolver only sees the resolved people.
//
// Resolve returns the people matching the query, in the backend's result
// order. An empty result set with a nil error means no match, which is
// normal and never an error. ResolveSubject looks a single subject up by
// identifier and returns ErrNotFound when the backend has no record of it.
type Source interface {
	Resolve(ctx context.Context, query Query) ([]*Person, error)
	ResolveSubject(ctx context.Context, username string) (*Person, error)

	// PossibleAttributeNames reports the attribute names this source may
	// produce, when statically known. QueryableAttributeNames reports the
	// attribute names the source can filter on; empty means the source
	// supports only whole-subject lookup or is unrestricted.
	PossibleAttributeNames(ctx context.Context) ([]string, error)
	QueryableAttributeNames(ctx context.Context) ([]string, error)
}
