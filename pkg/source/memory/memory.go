// Package memory implements an in-process attribute source seeded from
// configuration. It backs tests and small fixed directories such as service
// accounts.
package memory

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/apereo/persondir/pkg/attribute"
	"github.com/apereo/persondir/pkg/logger"
	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/predicate"
)

var tracer = otel.Tracer("persondir/pkg/source/memory")

// Source holds subjects and their attributes in memory. Matching honors the
// same value semantics as the backend sources: blank query values are
// skipped, wildcards match any run of characters, and attributes with a
// canonicalization mode compare case-folded.
type Source struct {
	mu       sync.RWMutex
	order    []string
	subjects map[string]attribute.Map

	canon             *predicate.Canonicalizer
	usernameAttribute string
	possible          []string
	queryable         []string
	logger            logger.Logger
}

var _ persondir.Source = (*Source)(nil)

type SourceOption func(*Source)

// WithCanonicalizer sets the case canonicalization applied while matching.
func WithCanonicalizer(canon *predicate.Canonicalizer) SourceOption {
	return func(s *Source) {
		s.canon = canon
	}
}

// WithUsernameAttribute sets the attribute whole-subject lookups key on.
func WithUsernameAttribute(attr string) SourceOption {
	return func(s *Source) {
		s.usernameAttribute = attr
	}
}

// WithPossibleAttributes overrides the reported possible attribute names.
// Without it the union of the seeded subjects' attribute names is reported.
func WithPossibleAttributes(attrs ...string) SourceOption {
	return func(s *Source) {
		s.possible = attrs
	}
}

// WithQueryableAttributes restricts the reported queryable attribute names.
func WithQueryableAttributes(attrs ...string) SourceOption {
	return func(s *Source) {
		s.queryable = attrs
	}
}

func WithLogger(l logger.Logger) SourceOption {
	return func(s *Source) {
		s.logger = l
	}
}

func New(opts ...SourceOption) *Source {
	s := &Source{
		subjects: make(map[string]attribute.Map),
		logger:   logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put registers a subject, replacing any previous attributes. First-time
// subjects keep their insertion position in resolution output.
func (s *Source) Put(name string, attrs attribute.Map) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subjects[name]; !ok {
		s.order = append(s.order, name)
	}
	s.subjects[name] = attrs.Clone()
}

// Resolve scans the seeded subjects and returns those matching the query,
// in insertion order. An empty query matches every subject.
func (s *Source) Resolve(ctx context.Context, query persondir.Query) ([]*persondir.Person, error) {
	_, span := tracer.Start(ctx, "memory.Resolve")
	defer span.End()

	clause := s.buildClause(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var people []*persondir.Person
	for _, name := range s.order {
		matched, err := s.matches(clause, s.subjects[name])
		if err != nil {
			return nil, err
		}
		if matched {
			people = append(people, persondir.NewPerson(name, s.subjects[name].Clone()))
		}
	}

	s.logger.Debug("memory source resolved", zap.Int("people", len(people)))
	return people, nil
}

// ResolveSubject returns the subject stored under username. The username
// attribute, when configured, is also consulted so lookups behave like the
// backend sources that match on an identifier column.
func (s *Source) ResolveSubject(ctx context.Context, username string) (*persondir.Person, error) {
	_, span := tracer.Start(ctx, "memory.ResolveSubject")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if attrs, ok := s.subjects[username]; ok {
		return persondir.NewPerson(username, attrs.Clone()), nil
	}

	if s.usernameAttribute != "" {
		for _, name := range s.order {
			for _, v := range s.subjects[name].Values(s.usernameAttribute) {
				if v != nil && fmt.Sprint(v) == username {
					return persondir.NewPerson(name, s.subjects[name].Clone()), nil
				}
			}
		}
	}

	return nil, persondir.ErrNotFound
}

func (s *Source) PossibleAttributeNames(ctx context.Context) ([]string, error) {
	if len(s.possible) > 0 {
		return slices.Sorted(slices.Values(s.possible)), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, attrs := range s.subjects {
		for name := range attrs {
			seen[name] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (s *Source) QueryableAttributeNames(ctx context.Context) ([]string, error) {
	if len(s.queryable) > 0 {
		return slices.Sorted(slices.Values(s.queryable)), nil
	}
	return s.PossibleAttributeNames(ctx)
}

// buildClause lowers the query onto the neutral comparison list. The
// canonicalizer is withheld so columns stay plain attribute names; case
// folding happens during matching instead.
func (s *Source) buildClause(query persondir.Query) *predicate.Clause {
	b := predicate.NewBuilder(query.Type, nil)

	var clause *predicate.Clause
	for _, name := range slices.Sorted(maps.Keys(query.Attributes)) {
		clause = b.Append(clause, name, query.Attributes[name])
	}
	return clause
}

func (s *Source) matches(clause *predicate.Clause, attrs attribute.Map) (bool, error) {
	if clause == nil || len(clause.Comparisons) == 0 {
		return true, nil
	}

	for _, cmp := range clause.Comparisons {
		matched, err := s.matchComparison(attrs, cmp)
		if err != nil {
			return false, err
		}
		if clause.Join == persondir.QueryTypeOR && matched {
			return true, nil
		}
		if clause.Join == persondir.QueryTypeAND && !matched {
			return false, nil
		}
	}

	return clause.Join == persondir.QueryTypeAND, nil
}

func (s *Source) matchComparison(attrs attribute.Map, cmp predicate.Comparison) (bool, error) {
	if cmp.Column == "" {
		return false, persondir.ConfigurationError("value-only comparison requires an attribute name to match against")
	}

	mode := s.canon.Mode(cmp.Column)
	want := mode.Apply(cmp.Argument)

	var re *regexp.Regexp
	if cmp.Op == predicate.OpLike {
		re = likeRegexp(want)
	}

	for _, v := range attrs.Values(cmp.Column) {
		if v == nil {
			continue
		}
		have := mode.Apply(fmt.Sprint(v))
		if re != nil {
			if re.MatchString(have) {
				return true, nil
			}
		} else if have == want {
			return true, nil
		}
	}

	return false, nil
}

// likeRegexp compiles a LIKE pattern, where the translated wildcard matches
// any run of characters, into an anchored regexp.
func likeRegexp(pattern string) *regexp.Regexp {
	segments := strings.Split(pattern, "%")
	for i, segment := range segments {
		segments[i] = regexp.QuoteMeta(segment)
	}
	return regexp.MustCompile("^" + strings.Join(segments, ".*") + "$")
}
