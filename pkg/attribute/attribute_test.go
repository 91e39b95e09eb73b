package attribute

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromValues(t *testing.T) {
	tests := []struct {
		name     string
		input    map[string]any
		expected Map
	}{
		{
			name:     "empty",
			input:    map[string]any{},
			expected: Map{},
		},
		{
			name: "scalars_are_wrapped",
			input: map[string]any{
				"username": "edalquist",
				"age":      42,
			},
			expected: Map{
				"username": {"edalquist"},
				"age":      {42},
			},
		},
		{
			name: "lists_are_kept",
			input: map[string]any{
				"email": []any{"ed@example.edu", "ed@example.org"},
			},
			expected: Map{
				"email": {"ed@example.edu", "ed@example.org"},
			},
		},
		{
			name: "nil_value_stays_present",
			input: map[string]any{
				"middleName": nil,
			},
			expected: Map{
				"middleName": {nil},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, FromValues(test.input))
		})
	}
}

func TestFromValuesCopiesLists(t *testing.T) {
	original := []any{"a", "b"}
	m := FromValues(map[string]any{"attr": original})

	original[0] = "mutated"
	require.Equal(t, []any{"a", "b"}, m.Values("attr"))
}

func TestCloneIsDeep(t *testing.T) {
	m := Map{"phone": {"555-1234"}}
	clone := m.Clone()
	clone.Add("phone", "555-9999")

	require.Equal(t, []any{"555-1234"}, m.Values("phone"))
	require.Equal(t, []any{"555-1234", "555-9999"}, clone.Values("phone"))
}

func TestCloneNil(t *testing.T) {
	var m Map
	require.Nil(t, m.Clone())
}

func TestAddAppends(t *testing.T) {
	m := New()
	m.Add("group", "staff")
	m.Add("group", "faculty", "admin")

	require.Equal(t, []any{"staff", "faculty", "admin"}, m.Values("group"))
}

func TestValue(t *testing.T) {
	m := Map{
		"email": {"ed@example.edu", "ed@example.org"},
		"empty": {},
	}

	require.Equal(t, "ed@example.edu", m.Value("email"))
	require.Nil(t, m.Value("empty"))
	require.Nil(t, m.Value("absent"))
}

func TestHasDistinguishesPresentFromAbsent(t *testing.T) {
	m := Map{"middleName": nil}

	require.True(t, m.Has("middleName"))
	require.False(t, m.Has("lastName"))
}

func TestNamesSorted(t *testing.T) {
	m := Map{"c": nil, "a": nil, "b": nil}
	require.Equal(t, []string{"a", "b", "c"}, m.Names())
}
