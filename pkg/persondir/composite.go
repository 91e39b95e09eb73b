package persondir

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/apereo/persondir/internal/concurrency"
	"github.com/apereo/persondir/pkg/attribute"
	"github.com/apereo/persondir/pkg/logger"
	"github.com/apereo/persondir/pkg/merger"
	"github.com/apereo/persondir/pkg/telemetry"
)

var tracer = otel.Tracer("persondir/pkg/persondir")

type namedSource struct {
	name string
	src  Source
}

// Composite fans queries out to its registered sources and merges their
// results. Merge precedence follows registration order regardless of which
// source answers first: an earlier source's attributes are the base the next
// source's attributes merge into.
//
// By default a failing source is isolated: the others still run and the
// merged partial result is returned together with a joined error naming the
// failed sources. Callers that need all-or-nothing semantics opt into
// WithFailFast. Composite is itself a Source, so composites nest.
type Composite struct {
	sources        []namedSource
	strategy       merger.Strategy
	logger         logger.Logger
	maxConcurrency int
	failFast       bool
}

var _ Source = (*Composite)(nil)

type CompositeOption func(*Composite)

// WithSource registers a named source. Registration order fixes merge
// precedence.
func WithSource(name string, src Source) CompositeOption {
	return func(c *Composite) {
		c.sources = append(c.sources, namedSource{name: name, src: src})
	}
}

// WithMergeStrategy selects how colliding attributes combine across sources.
// The default unions value lists.
func WithMergeStrategy(strategy merger.Strategy) CompositeOption {
	return func(c *Composite) {
		c.strategy = strategy
	}
}

func WithLogger(l logger.Logger) CompositeOption {
	return func(c *Composite) {
		c.logger = l
	}
}

// WithMaxConcurrency bounds how many sources are queried at once. The
// default of 1 queries sources sequentially in registration order.
func WithMaxConcurrency(n int) CompositeOption {
	return func(c *Composite) {
		c.maxConcurrency = n
	}
}

// WithFailFast makes any source failure fail the whole resolution instead
// of returning partial results.
func WithFailFast() CompositeOption {
	return func(c *Composite) {
		c.failFast = true
	}
}

func NewComposite(opts ...CompositeOption) (*Composite, error) {
	c := &Composite{
		strategy:       merger.MultivaluedMerger{},
		logger:         logger.NewNoopLogger(),
		maxConcurrency: 1,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.strategy == nil {
		return nil, ConfigurationError("merge strategy may not be nil")
	}

	seen := make(map[string]struct{}, len(c.sources))
	for _, entry := range c.sources {
		if entry.name == "" {
			return nil, ConfigurationError("source name may not be empty")
		}
		if entry.src == nil {
			return nil, ConfigurationError("source %q may not be nil", entry.name)
		}
		if _, ok := seen[entry.name]; ok {
			return nil, ConfigurationError("duplicate source name %q", entry.name)
		}
		seen[entry.name] = struct{}{}
	}

	return c, nil
}

// SourceNames returns the registered source names in registration order.
func (c *Composite) SourceNames() []string {
	names := make([]string, 0, len(c.sources))
	for _, entry := range c.sources {
		names = append(names, entry.name)
	}
	return names
}

// Resolve queries every source and merges the per-subject attribute maps in
// registration order. Subjects appear in the order they were first seen
// across sources. A non-nil error alongside a non-empty result means some
// sources failed and the result is partial.
func (c *Composite) Resolve(ctx context.Context, query Query) ([]*Person, error) {
	ctx, span := tracer.Start(ctx, "composite.Resolve")
	defer span.End()

	log := c.logger.With(
		zap.String("resolution_id", ulid.Make().String()),
		zap.Stringer("query_type", query.Type),
	)

	results := make([][]*Person, len(c.sources))
	errs := c.runAll(ctx, func(ctx context.Context, i int, entry namedSource) error {
		people, err := entry.src.Resolve(ctx, query)
		if err != nil {
			return err
		}
		results[i] = people
		log.Debug("source resolved",
			zap.String("source", entry.name),
			zap.Int("people", len(people)),
		)
		return nil
	})

	failure := c.collectFailures(log, errs)
	if failure != nil {
		telemetry.TraceError(span, failure)
		if c.failFast {
			return nil, failure
		}
	}

	return c.mergeResults(results, errs), failure
}

// ResolveSubject looks username up in every source and merges the found
// attributes in registration order. Sources that do not know the subject
// are skipped; when none knows it the error matches ErrNotFound.
func (c *Composite) ResolveSubject(ctx context.Context, username string) (*Person, error) {
	ctx, span := tracer.Start(ctx, "composite.ResolveSubject")
	defer span.End()

	log := c.logger.With(zap.String("resolution_id", ulid.Make().String()))

	results := make([]*Person, len(c.sources))
	errs := c.runAll(ctx, func(ctx context.Context, i int, entry namedSource) error {
		person, err := entry.src.ResolveSubject(ctx, username)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		results[i] = person
		return nil
	})

	failure := c.collectFailures(log, errs)
	if failure != nil {
		telemetry.TraceError(span, failure)
		if c.failFast {
			return nil, failure
		}
	}

	var attrs attribute.Map
	found := false
	for i, person := range results {
		if errs[i] != nil || person == nil {
			continue
		}
		if !found {
			attrs = person.Attributes.Clone()
			found = true
			continue
		}
		attrs = c.strategy.Merge(attrs, person.Attributes)
	}

	if !found {
		err := ErrNotFound
		if failure != nil {
			err = errors.Join(ErrNotFound, failure)
		}
		telemetry.TraceError(span, err)
		return nil, err
	}

	return NewPerson(username, attrs), failure
}

// PossibleAttributeNames reports the sorted union of the sources' possible
// attribute names.
func (c *Composite) PossibleAttributeNames(ctx context.Context) ([]string, error) {
	return c.unionNames(ctx, "composite.PossibleAttributeNames", func(ctx context.Context, src Source) ([]string, error) {
		return src.PossibleAttributeNames(ctx)
	})
}

// QueryableAttributeNames reports the sorted union of the sources'
// queryable attribute names.
func (c *Composite) QueryableAttributeNames(ctx context.Context) ([]string, error) {
	return c.unionNames(ctx, "composite.QueryableAttributeNames", func(ctx context.Context, src Source) ([]string, error) {
		return src.QueryableAttributeNames(ctx)
	})
}

func (c *Composite) unionNames(ctx context.Context, spanName string, get func(context.Context, Source) ([]string, error)) ([]string, error) {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	results := make([][]string, len(c.sources))
	errs := c.runAll(ctx, func(ctx context.Context, i int, entry namedSource) error {
		names, err := get(ctx, entry.src)
		if err != nil {
			return err
		}
		results[i] = names
		return nil
	})

	failure := c.collectFailures(c.logger, errs)
	if failure != nil {
		telemetry.TraceError(span, failure)
		if c.failFast {
			return nil, failure
		}
	}

	seen := map[string]struct{}{}
	for i, names := range results {
		if errs[i] != nil {
			continue
		}
		for _, name := range names {
			seen[name] = struct{}{}
		}
	}

	return slices.Sorted(maps.Keys(seen)), failure
}

// runAll invokes run once per source and returns the per-source errors
// indexed by registration position. With concurrency enabled every source
// runs to completion before runAll returns, so merging never races a
// straggler.
func (c *Composite) runAll(ctx context.Context, run func(ctx context.Context, i int, entry namedSource) error) []error {
	errs := make([]error, len(c.sources))

	if c.maxConcurrency <= 1 {
		for i, entry := range c.sources {
			errs[i] = run(ctx, i, entry)
			if errs[i] != nil && c.failFast {
				break
			}
		}
		return errs
	}

	p := concurrency.NewPool(ctx, c.maxConcurrency)
	for i, entry := range c.sources {
		p.Go(func(ctx context.Context) error {
			errs[i] = run(ctx, i, entry)
			return nil
		})
	}
	_ = p.Wait()

	return errs
}

// collectFailures wraps each source error with its source name. In fail
// fast mode the first failure in registration order is returned alone;
// otherwise all failures are joined.
func (c *Composite) collectFailures(log logger.Logger, errs []error) error {
	var failures []error
	for i, err := range errs {
		if err == nil {
			continue
		}
		sourceErr := &SourceError{Source: c.sources[i].name, Err: err}
		if c.failFast {
			return sourceErr
		}
		log.Warn("attribute source failed, continuing with remaining sources",
			zap.String("source", c.sources[i].name),
			zap.Error(err),
		)
		failures = append(failures, sourceErr)
	}
	return errors.Join(failures...)
}

// mergeResults folds the per-source result sets into one person per
// subject, first-seen order preserved.
func (c *Composite) mergeResults(results [][]*Person, errs []error) []*Person {
	subjects := linkedhashmap.New()
	for i, people := range results {
		if errs[i] != nil {
			continue
		}
		for _, person := range people {
			if existing, ok := subjects.Get(person.Name); ok {
				subjects.Put(person.Name, c.strategy.Merge(existing.(attribute.Map), person.Attributes))
			} else {
				subjects.Put(person.Name, person.Attributes.Clone())
			}
		}
	}

	people := make([]*Person, 0, subjects.Size())
	it := subjects.Iterator()
	for it.Next() {
		people = append(people, NewPerson(it.Key().(string), it.Value().(attribute.Map)))
	}
	return people
}
