package predicate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apereo/persondir/pkg/persondir"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name     string
		canon    *Canonicalizer
		column   string
		expected string
	}{
		{
			name:     "nil_canonicalizer_is_identity",
			canon:    nil,
			column:   "netid",
			expected: "netid",
		},
		{
			name:     "unconfigured_attribute_is_identity",
			canon:    NewCanonicalizer(WithMode("mail", ModeLower)),
			column:   "netid",
			expected: "netid",
		},
		{
			name:     "lower_wraps_column",
			canon:    NewCanonicalizer(WithMode("netid", ModeLower)),
			column:   "netid",
			expected: "lower(netid)",
		},
		{
			name:     "upper_wraps_column",
			canon:    NewCanonicalizer(WithMode("netid", ModeUpper)),
			column:   "netid",
			expected: "upper(netid)",
		},
		{
			name:     "none_mode_is_identity",
			canon:    NewCanonicalizer(WithMode("netid", ModeNone)),
			column:   "netid",
			expected: "netid",
		},
		{
			name:     "custom_template",
			canon:    NewCanonicalizer(WithMode("netid", ModeLower), WithTemplate(ModeLower, "LCASE(%s)")),
			column:   "netid",
			expected: "LCASE(netid)",
		},
		{
			name:     "malformed_template_degrades_to_identity",
			canon:    NewCanonicalizer(WithMode("netid", ModeLower), WithTemplate(ModeLower, "lower()")),
			column:   "netid",
			expected: "netid",
		},
		{
			name: "case_insensitive_attributes_use_lower",
			canon: NewCanonicalizer(
				WithCaseInsensitiveAttributes("netid", "mail"),
			),
			column:   "mail",
			expected: "lower(mail)",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, test.canon.Canonicalize(test.column))
		})
	}
}

func TestFold(t *testing.T) {
	canon := NewCanonicalizer(
		WithMode("netid", ModeLower),
		WithMode("code", ModeUpper),
	)

	require.Equal(t, "edalquist", canon.Fold("netid", "EDalquist"))
	require.Equal(t, "AB-12", canon.Fold("code", "ab-12"))
	require.Equal(t, "MixedCase", canon.Fold("other", "MixedCase"))

	var nilCanon *Canonicalizer
	require.Equal(t, "MixedCase", nilCanon.Fold("netid", "MixedCase"))
}

func TestModeApplyIsIdempotent(t *testing.T) {
	for _, mode := range []Mode{ModeNone, ModeLower, ModeUpper} {
		t.Run(mode.String(), func(t *testing.T) {
			once := mode.Apply("EDalquist42")
			require.Equal(t, once, mode.Apply(once))
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input    string
		expected Mode
		wantErr  bool
	}{
		{input: "", expected: ModeNone},
		{input: "none", expected: ModeNone},
		{input: "LOWER", expected: ModeLower},
		{input: "lower", expected: ModeLower},
		{input: " Upper ", expected: ModeUpper},
		{input: "sideways", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			mode, err := ParseMode(test.input)
			if test.wantErr {
				require.ErrorIs(t, err, persondir.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.expected, mode)
		})
	}
}
