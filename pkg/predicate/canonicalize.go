package predicate

import (
	"fmt"
	"strings"

	"github.com/apereo/persondir/pkg/persondir"
)

// Mode is a case canonicalization mode for one attribute.
type Mode int

const (
	ModeNone Mode = iota
	ModeLower
	ModeUpper
)

func (m Mode) String() string {
	switch m {
	case ModeLower:
		return "LOWER"
	case ModeUpper:
		return "UPPER"
	default:
		return "NONE"
	}
}

// ParseMode parses a mode name, case-insensitively. The empty string parses
// to ModeNone.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return ModeNone, nil
	case "LOWER":
		return ModeLower, nil
	case "UPPER":
		return ModeUpper, nil
	default:
		return ModeNone, fmt.Errorf("unknown canonicalization mode %q: %w", s, persondir.ErrConfiguration)
	}
}

// Apply case-folds s per the mode. The fold is idempotent.
func (m Mode) Apply(s string) string {
	switch m {
	case ModeLower:
		return strings.ToLower(s)
	case ModeUpper:
		return strings.ToUpper(s)
	default:
		return s
	}
}

// DefaultTemplates maps each mode to the column expression it renders in
// SQL. The column name substitutes for the %s verb.
var DefaultTemplates = map[Mode]string{
	ModeNone:  "%s",
	ModeLower: "lower(%s)",
	ModeUpper: "upper(%s)",
}

// Canonicalizer normalizes attribute case on both sides of a comparison: it
// wraps column names in the mode's expression template and case-folds bound
// values to match. Attributes without a configured mode pass through
// untouched, as does everything when the canonicalizer is nil. A mode whose
// template is missing or malformed degrades to the identity expression
// rather than failing the query.
type Canonicalizer struct {
	modes     map[string]Mode
	templates map[Mode]string
}

type CanonicalizerOption func(*Canonicalizer)

// WithMode assigns a canonicalization mode to one attribute.
func WithMode(attr string, mode Mode) CanonicalizerOption {
	return func(c *Canonicalizer) {
		c.modes[attr] = mode
	}
}

// WithModes assigns canonicalization modes in bulk.
func WithModes(modes map[string]Mode) CanonicalizerOption {
	return func(c *Canonicalizer) {
		for attr, mode := range modes {
			c.modes[attr] = mode
		}
	}
}

// WithCaseInsensitiveAttributes marks attributes as case-insensitive using
// ModeLower.
func WithCaseInsensitiveAttributes(attrs ...string) CanonicalizerOption {
	return func(c *Canonicalizer) {
		for _, attr := range attrs {
			c.modes[attr] = ModeLower
		}
	}
}

// WithTemplate overrides the column expression template for one mode.
func WithTemplate(mode Mode, template string) CanonicalizerOption {
	return func(c *Canonicalizer) {
		c.templates[mode] = template
	}
}

// NewCanonicalizer builds a canonicalizer with the default expression
// templates.
func NewCanonicalizer(opts ...CanonicalizerOption) *Canonicalizer {
	c := &Canonicalizer{
		modes:     map[string]Mode{},
		templates: map[Mode]string{},
	}
	for mode, template := range DefaultTemplates {
		c.templates[mode] = template
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Canonicalize returns the column expression for column: the mode's template
// with the column name substituted in, or the bare column name when no mode
// or no usable template applies.
func (c *Canonicalizer) Canonicalize(column string) string {
	if c == nil {
		return column
	}
	mode, ok := c.modes[column]
	if !ok {
		return column
	}
	template, ok := c.templates[mode]
	if !ok || strings.Count(template, "%s") != 1 {
		return column
	}
	return fmt.Sprintf(template, column)
}

// Fold case-folds a bound value per the attribute's mode so it matches the
// canonicalized column expression.
func (c *Canonicalizer) Fold(attr, value string) string {
	if c == nil {
		return value
	}
	return c.modes[attr].Apply(value)
}

// Mode reports the canonicalization mode configured for attr, ModeNone when
// absent.
func (c *Canonicalizer) Mode(attr string) Mode {
	if c == nil {
		return ModeNone
	}
	return c.modes[attr]
}
