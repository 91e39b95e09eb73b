package predicate

import (
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/apereo/persondir/pkg/persondir"
)

// ToLDAP renders the clause as an RFC 4515 search filter fragment. An empty
// clause renders as the empty string, leaving the filter template's own
// expression in charge. Equality values are escaped whole; LIKE values keep
// their wildcards, translated back to the LDAP wildcard, with the literal
// segments around them escaped. Value-only comparisons have no field to
// render and are a configuration error.
func (c *Clause) ToLDAP() (string, error) {
	if c == nil || len(c.Comparisons) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(c.Comparisons))
	for _, cmp := range c.Comparisons {
		if cmp.Column == "" {
			return "", persondir.ConfigurationError("value-only comparison cannot render as an LDAP filter")
		}

		value := ldap.EscapeFilter(cmp.Argument)
		if cmp.Op == OpLike {
			segments := strings.Split(cmp.Argument, sqlWildcard)
			for i, segment := range segments {
				segments[i] = ldap.EscapeFilter(segment)
			}
			value = strings.Join(segments, "*")
		}

		parts = append(parts, "("+cmp.Column+"="+value+")")
	}

	if len(parts) == 1 {
		return parts[0], nil
	}

	op := "&"
	if c.Join == persondir.QueryTypeOR {
		op = "|"
	}

	return "(" + op + strings.Join(parts, "") + ")", nil
}
