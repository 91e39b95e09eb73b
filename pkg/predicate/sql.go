package predicate

import (
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/apereo/persondir/pkg/persondir"
)

// matchAll is the expression an empty clause renders to, so that templates
// with a mandatory WHERE keep valid syntax.
const matchAll = "1=1"

// ToSQL renders the clause as a SQL boolean expression with '?' bind markers
// and returns the ordered bind arguments. A nil or empty clause renders as a
// tautology. Drivers using positional markers convert the final statement
// with their placeholder format after template splicing.
func (c *Clause) ToSQL() (string, []any, error) {
	if c == nil || len(c.Comparisons) == 0 {
		return matchAll, nil, nil
	}

	parts := make([]string, 0, len(c.Comparisons))
	args := make([]any, 0, len(c.Comparisons))

	for _, cmp := range c.Comparisons {
		var part sq.Sqlizer
		switch {
		case cmp.Column == "":
			part = sq.Expr("?", cmp.Argument)
		case cmp.Op == OpLike:
			part = sq.Like{cmp.Column: cmp.Argument}
		default:
			part = sq.Eq{cmp.Column: cmp.Argument}
		}

		sql, partArgs, err := part.ToSql()
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		args = append(args, partArgs...)
	}

	sep := " AND "
	if c.Join == persondir.QueryTypeOR {
		sep = " OR "
	}

	return strings.Join(parts, sep), args, nil
}
