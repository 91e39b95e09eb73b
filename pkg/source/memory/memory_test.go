package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apereo/persondir/pkg/attribute"
	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/predicate"
)

func seedSource(opts ...SourceOption) *Source {
	s := New(opts...)
	s.Put("edalquist", attribute.Map{
		"givenName": {"Eric"},
		"sn":        {"Dalquist"},
		"mail":      {"ed@example.edu", "eric@example.org"},
	})
	s.Put("jsmith", attribute.Map{
		"givenName": {"Jane"},
		"sn":        {"Smith"},
		"mail":      {"jane@example.edu"},
	})
	return s
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		query    persondir.Query
		expected []string
	}{
		{
			name:     "empty_query_matches_all",
			query:    persondir.Query{},
			expected: []string{"edalquist", "jsmith"},
		},
		{
			name: "equality_match",
			query: persondir.Query{
				Attributes: map[string][]any{"sn": {"Dalquist"}},
			},
			expected: []string{"edalquist"},
		},
		{
			name: "equality_is_case_sensitive_without_canonicalization",
			query: persondir.Query{
				Attributes: map[string][]any{"sn": {"dalquist"}},
			},
			expected: nil,
		},
		{
			name: "wildcard_match",
			query: persondir.Query{
				Attributes: map[string][]any{"mail": {"*@example.edu"}},
			},
			expected: []string{"edalquist", "jsmith"},
		},
		{
			name: "and_requires_every_comparison",
			query: persondir.Query{
				Attributes: map[string][]any{
					"givenName": {"Jane"},
					"sn":        {"Dalquist"},
				},
				Type: persondir.QueryTypeAND,
			},
			expected: nil,
		},
		{
			name: "or_requires_any_comparison",
			query: persondir.Query{
				Attributes: map[string][]any{
					"givenName": {"Jane"},
					"sn":        {"Dalquist"},
				},
				Type: persondir.QueryTypeOR,
			},
			expected: []string{"edalquist", "jsmith"},
		},
		{
			name: "any_value_of_a_multivalued_attribute_matches",
			query: persondir.Query{
				Attributes: map[string][]any{"mail": {"eric@example.org"}},
			},
			expected: []string{"edalquist"},
		},
		{
			name: "blank_values_are_skipped",
			query: persondir.Query{
				Attributes: map[string][]any{"sn": {nil, "  "}},
			},
			expected: []string{"edalquist", "jsmith"},
		},
		{
			name: "no_match_is_not_an_error",
			query: persondir.Query{
				Attributes: map[string][]any{"sn": {"Nobody"}},
			},
			expected: nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := seedSource()
			people, err := s.Resolve(context.Background(), test.query)
			require.NoError(t, err)

			var names []string
			for _, p := range people {
				names = append(names, p.Name)
			}
			require.Equal(t, test.expected, names)
		})
	}
}

func TestResolveCaseInsensitiveAttribute(t *testing.T) {
	s := seedSource(WithCanonicalizer(predicate.NewCanonicalizer(
		predicate.WithCaseInsensitiveAttributes("sn"),
	)))

	people, err := s.Resolve(context.Background(), persondir.Query{
		Attributes: map[string][]any{"sn": {"DALQUIST"}},
	})
	require.NoError(t, err)
	require.Len(t, people, 1)
	require.Equal(t, "edalquist", people[0].Name)
}

func TestResolveReturnsClones(t *testing.T) {
	s := seedSource()

	people, err := s.Resolve(context.Background(), persondir.Query{
		Attributes: map[string][]any{"sn": {"Dalquist"}},
	})
	require.NoError(t, err)
	people[0].Attributes.Add("sn", "tampered")

	again, err := s.ResolveSubject(context.Background(), "edalquist")
	require.NoError(t, err)
	require.Equal(t, []any{"Dalquist"}, again.AttributeValues("sn"))
}

func TestResolveSubject(t *testing.T) {
	s := seedSource()

	person, err := s.ResolveSubject(context.Background(), "jsmith")
	require.NoError(t, err)
	require.Equal(t, "jsmith", person.Name)
	require.Equal(t, "Smith", person.AttributeValue("sn"))

	_, err = s.ResolveSubject(context.Background(), "nobody")
	require.ErrorIs(t, err, persondir.ErrNotFound)
}

func TestResolveSubjectViaUsernameAttribute(t *testing.T) {
	s := New(WithUsernameAttribute("uid"))
	s.Put("person-1", attribute.Map{"uid": {"edalquist"}, "sn": {"Dalquist"}})

	person, err := s.ResolveSubject(context.Background(), "edalquist")
	require.NoError(t, err)
	require.Equal(t, "person-1", person.Name)
}

func TestAttributeNames(t *testing.T) {
	s := seedSource()

	possible, err := s.PossibleAttributeNames(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"givenName", "mail", "sn"}, possible)

	queryable, err := s.QueryableAttributeNames(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"givenName", "mail", "sn"}, queryable)
}

func TestAttributeNamesConfigured(t *testing.T) {
	s := seedSource(
		WithPossibleAttributes("sn", "mail"),
		WithQueryableAttributes("sn"),
	)

	possible, err := s.PossibleAttributeNames(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"mail", "sn"}, possible)

	queryable, err := s.QueryableAttributeNames(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"sn"}, queryable)
}

func TestPutReplacesSubject(t *testing.T) {
	s := seedSource()
	s.Put("edalquist", attribute.Map{"sn": {"Replaced"}})

	person, err := s.ResolveSubject(context.Background(), "edalquist")
	require.NoError(t, err)
	require.Equal(t, attribute.Map{"sn": {"Replaced"}}, person.Attributes)

	people, err := s.Resolve(context.Background(), persondir.Query{})
	require.NoError(t, err)
	require.Equal(t, "edalquist", people[0].Name)
}
