package persondir

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueryUsername(t *testing.T) {
	tests := []struct {
		name     string
		query    Query
		attr     string
		expected string
		found    bool
	}{
		{
			name:     "default_attribute",
			query:    Query{Attributes: map[string][]any{"username": {"edalquist"}}},
			expected: "edalquist",
			found:    true,
		},
		{
			name:     "configured_attribute",
			query:    Query{Attributes: map[string][]any{"netid": {"edalquist"}}},
			attr:     "netid",
			expected: "edalquist",
			found:    true,
		},
		{
			name:  "absent_attribute",
			query: Query{Attributes: map[string][]any{"mail": {"ed@example.edu"}}},
			found: false,
		},
		{
			name:     "first_non_blank_value",
			query:    Query{Attributes: map[string][]any{"username": {nil, "  ", "edalquist"}}},
			expected: "edalquist",
			found:    true,
		},
		{
			name:     "non_string_value_is_stringified",
			query:    Query{Attributes: map[string][]any{"username": {12345}}},
			expected: "12345",
			found:    true,
		},
		{
			name:  "empty_query",
			query: Query{},
			found: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			username, ok := test.query.Username(test.attr)
			require.Equal(t, test.found, ok)
			require.Equal(t, test.expected, username)
		})
	}
}

func TestNewSubjectQuery(t *testing.T) {
	q := NewSubjectQuery("", "edalquist")
	require.Equal(t, map[string][]any{"username": {"edalquist"}}, q.Attributes)
	require.Equal(t, QueryTypeAND, q.Type)

	q = NewSubjectQuery("uid", "edalquist")
	require.Equal(t, map[string][]any{"uid": {"edalquist"}}, q.Attributes)
}

func TestParseQueryType(t *testing.T) {
	for input, expected := range map[string]QueryType{
		"":    QueryTypeAND,
		"AND": QueryTypeAND,
		"and": QueryTypeAND,
		"OR":  QueryTypeOR,
		" or": QueryTypeOR,
	} {
		qt, err := ParseQueryType(input)
		require.NoError(t, err)
		require.Equal(t, expected, qt)
	}

	_, err := ParseQueryType("XOR")
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestErrorHelpers(t *testing.T) {
	require.ErrorIs(t, ConfigurationError("bad setting %q", "x"), ErrConfiguration)
	require.ErrorIs(t, MissingColumnError("attr_name"), ErrSchemaMismatch)
	require.ErrorIs(t, MissingUsernameError("netid"), ErrSchemaMismatch)

	cause := errors.New("dial tcp: connection refused")
	err := BackendUnavailableError(cause)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	require.ErrorIs(t, err, cause)
}

func TestSourceError(t *testing.T) {
	cause := MissingColumnError("attr_name")
	err := &SourceError{Source: "hr", Err: cause}

	require.ErrorIs(t, err, ErrSchemaMismatch)
	require.Contains(t, err.Error(), `"hr"`)
}
