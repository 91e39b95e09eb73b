package persondir_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/apereo/persondir/internal/mocks"
	"github.com/apereo/persondir/pkg/attribute"
	"github.com/apereo/persondir/pkg/merger"
	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/source/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newMemorySource(t *testing.T, subjects map[string]attribute.Map, order ...string) *memory.Source {
	t.Helper()
	s := memory.New()
	for _, name := range order {
		s.Put(name, subjects[name])
	}
	return s
}

func TestCompositeResolveMergesInRegistrationOrder(t *testing.T) {
	hr := newMemorySource(t, map[string]attribute.Map{
		"edalquist": {
			"username": {"edalquist"},
			"mail":     {"hr@example.edu"},
			"title":    {"Developer"},
		},
	}, "edalquist")
	directory := newMemorySource(t, map[string]attribute.Map{
		"edalquist": {
			"username": {"edalquist"},
			"mail":     {"directory@example.edu"},
			"phone":    {"555-1234"},
		},
	}, "edalquist")

	composite, err := persondir.NewComposite(
		persondir.WithSource("hr", hr),
		persondir.WithSource("directory", directory),
		persondir.WithMergeStrategy(merger.NoncollidingAdder{}),
	)
	require.NoError(t, err)

	people, err := composite.Resolve(context.Background(), persondir.Query{
		Attributes: map[string][]any{"username": {"edalquist"}},
	})
	require.NoError(t, err)
	require.Len(t, people, 1)

	require.Equal(t, "edalquist", people[0].Name)
	require.Equal(t, attribute.Map{
		"username": {"edalquist"},
		"mail":     {"hr@example.edu"},
		"title":    {"Developer"},
		"phone":    {"555-1234"},
	}, people[0].Attributes)
}

func TestCompositeResolvePrecedenceIsStableUnderConcurrency(t *testing.T) {
	first := newMemorySource(t, map[string]attribute.Map{
		"edalquist": {"username": {"edalquist"}, "mail": {"first@example.edu"}},
	}, "edalquist")
	second := newMemorySource(t, map[string]attribute.Map{
		"edalquist": {"username": {"edalquist"}, "mail": {"second@example.edu"}},
	}, "edalquist")

	// The first registered source answers last; precedence must not change.
	composite, err := persondir.NewComposite(
		persondir.WithSource("slow-first", mocks.NewMockSlowSource(first, 50*time.Millisecond)),
		persondir.WithSource("fast-second", second),
		persondir.WithMergeStrategy(merger.NoncollidingAdder{}),
		persondir.WithMaxConcurrency(2),
	)
	require.NoError(t, err)

	people, err := composite.Resolve(context.Background(), persondir.Query{
		Attributes: map[string][]any{"username": {"edalquist"}},
	})
	require.NoError(t, err)
	require.Len(t, people, 1)
	require.Equal(t, []any{"first@example.edu"}, people[0].AttributeValues("mail"))
}

func TestCompositeResolveMultivalueUnion(t *testing.T) {
	a := newMemorySource(t, map[string]attribute.Map{
		"edalquist": {"username": {"edalquist"}, "mail": {"a@example.edu"}},
	}, "edalquist")
	b := newMemorySource(t, map[string]attribute.Map{
		"edalquist": {"username": {"edalquist"}, "mail": {"b@example.edu"}},
	}, "edalquist")

	composite, err := persondir.NewComposite(
		persondir.WithSource("a", a),
		persondir.WithSource("b", b),
		persondir.WithMergeStrategy(merger.MultivaluedMerger{}),
	)
	require.NoError(t, err)

	people, err := composite.Resolve(context.Background(), persondir.Query{
		Attributes: map[string][]any{"username": {"edalquist"}},
	})
	require.NoError(t, err)
	require.Equal(t, []any{"a@example.edu", "b@example.edu"}, people[0].AttributeValues("mail"))
}

func TestCompositeResolveSubjectOrderIsFirstSeen(t *testing.T) {
	a := newMemorySource(t, map[string]attribute.Map{
		"zorro": {"username": {"zorro"}},
		"aaron": {"username": {"aaron"}},
	}, "zorro", "aaron")
	b := newMemorySource(t, map[string]attribute.Map{
		"aaron": {"username": {"aaron"}},
		"mabel": {"username": {"mabel"}},
	}, "aaron", "mabel")

	composite, err := persondir.NewComposite(
		persondir.WithSource("a", a),
		persondir.WithSource("b", b),
	)
	require.NoError(t, err)

	people, err := composite.Resolve(context.Background(), persondir.Query{})
	require.NoError(t, err)

	var names []string
	for _, p := range people {
		names = append(names, p.Name)
	}
	require.Equal(t, []string{"zorro", "aaron", "mabel"}, names)
}

func TestCompositeResolveIsolatesFailedSources(t *testing.T) {
	ctrl := gomock.NewController(t)

	failing := mocks.NewMockSource(ctrl)
	failing.EXPECT().Resolve(gomock.Any(), gomock.Any()).
		Return(nil, persondir.BackendUnavailableError(errors.New("connection refused")))

	healthy := newMemorySource(t, map[string]attribute.Map{
		"edalquist": {"username": {"edalquist"}, "mail": {"ed@example.edu"}},
	}, "edalquist")

	composite, err := persondir.NewComposite(
		persondir.WithSource("failing", failing),
		persondir.WithSource("healthy", healthy),
	)
	require.NoError(t, err)

	people, err := composite.Resolve(context.Background(), persondir.Query{
		Attributes: map[string][]any{"username": {"edalquist"}},
	})

	require.Len(t, people, 1)
	require.Equal(t, "edalquist", people[0].Name)

	require.ErrorIs(t, err, persondir.ErrBackendUnavailable)
	var sourceErr *persondir.SourceError
	require.ErrorAs(t, err, &sourceErr)
	require.Equal(t, "failing", sourceErr.Source)
}

func TestCompositeResolveFailFast(t *testing.T) {
	ctrl := gomock.NewController(t)

	failing := mocks.NewMockSource(ctrl)
	failing.EXPECT().Resolve(gomock.Any(), gomock.Any()).
		Return(nil, persondir.BackendUnavailableError(errors.New("connection refused")))

	// The second source must never be queried once the first has failed.
	untouched := mocks.NewMockSource(ctrl)

	composite, err := persondir.NewComposite(
		persondir.WithSource("failing", failing),
		persondir.WithSource("untouched", untouched),
		persondir.WithFailFast(),
	)
	require.NoError(t, err)

	people, err := composite.Resolve(context.Background(), persondir.Query{})
	require.Nil(t, people)
	require.ErrorIs(t, err, persondir.ErrBackendUnavailable)
}

func TestCompositeResolveSchemaMismatchSurfaces(t *testing.T) {
	ctrl := gomock.NewController(t)

	mismatched := mocks.NewMockSource(ctrl)
	mismatched.EXPECT().Resolve(gomock.Any(), gomock.Any()).
		Return(nil, persondir.MissingColumnError("attr_name"))

	composite, err := persondir.NewComposite(
		persondir.WithSource("mismatched", mismatched),
	)
	require.NoError(t, err)

	people, err := composite.Resolve(context.Background(), persondir.Query{})
	require.Empty(t, people)
	require.ErrorIs(t, err, persondir.ErrSchemaMismatch)
}

func TestCompositeResolveSubject(t *testing.T) {
	ctrl := gomock.NewController(t)

	unaware := mocks.NewMockSource(ctrl)
	unaware.EXPECT().ResolveSubject(gomock.Any(), "edalquist").
		Return(nil, persondir.ErrNotFound)

	hr := newMemorySource(t, map[string]attribute.Map{
		"edalquist": {"mail": {"ed@example.edu"}},
	}, "edalquist")

	composite, err := persondir.NewComposite(
		persondir.WithSource("unaware", unaware),
		persondir.WithSource("hr", hr),
	)
	require.NoError(t, err)

	person, err := composite.ResolveSubject(context.Background(), "edalquist")
	require.NoError(t, err)
	require.Equal(t, "edalquist", person.Name)
	require.Equal(t, []any{"ed@example.edu"}, person.AttributeValues("mail"))
}

func TestCompositeResolveSubjectNotFoundAnywhere(t *testing.T) {
	composite, err := persondir.NewComposite(
		persondir.WithSource("empty", memory.New()),
	)
	require.NoError(t, err)

	_, err = composite.ResolveSubject(context.Background(), "nobody")
	require.ErrorIs(t, err, persondir.ErrNotFound)
}

func TestCompositeAttributeNameUnion(t *testing.T) {
	a := newMemorySource(t, map[string]attribute.Map{
		"edalquist": {"mail": {"ed@example.edu"}, "title": {"Developer"}},
	}, "edalquist")
	b := newMemorySource(t, map[string]attribute.Map{
		"edalquist": {"mail": {"ed@example.edu"}, "phone": {"555-1234"}},
	}, "edalquist")

	composite, err := persondir.NewComposite(
		persondir.WithSource("a", a),
		persondir.WithSource("b", b),
	)
	require.NoError(t, err)

	possible, err := composite.PossibleAttributeNames(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"mail", "phone", "title"}, possible)

	queryable, err := composite.QueryableAttributeNames(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"mail", "phone", "title"}, queryable)
}

func TestCompositeEmptyHasNoResults(t *testing.T) {
	composite, err := persondir.NewComposite()
	require.NoError(t, err)

	people, err := composite.Resolve(context.Background(), persondir.Query{})
	require.NoError(t, err)
	require.Empty(t, people)
}

func TestCompositeValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []persondir.CompositeOption
	}{
		{
			name: "duplicate_source_name",
			opts: []persondir.CompositeOption{
				persondir.WithSource("dup", memory.New()),
				persondir.WithSource("dup", memory.New()),
			},
		},
		{
			name: "empty_source_name",
			opts: []persondir.CompositeOption{
				persondir.WithSource("", memory.New()),
			},
		},
		{
			name: "nil_source",
			opts: []persondir.CompositeOption{
				persondir.WithSource("nil", nil),
			},
		},
		{
			name: "nil_strategy",
			opts: []persondir.CompositeOption{
				persondir.WithMergeStrategy(nil),
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := persondir.NewComposite(test.opts...)
			require.ErrorIs(t, err, persondir.ErrConfiguration)
		})
	}
}

func TestCompositeNests(t *testing.T) {
	inner, err := persondir.NewComposite(
		persondir.WithSource("hr", newMemorySource(t, map[string]attribute.Map{
			"edalquist": {"mail": {"ed@example.edu"}},
		}, "edalquist")),
	)
	require.NoError(t, err)

	outer, err := persondir.NewComposite(
		persondir.WithSource("inner", inner),
	)
	require.NoError(t, err)

	person, err := outer.ResolveSubject(context.Background(), "edalquist")
	require.NoError(t, err)
	require.Equal(t, []any{"ed@example.edu"}, person.AttributeValues("mail"))
}
