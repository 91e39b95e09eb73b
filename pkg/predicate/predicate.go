// Package predicate builds backend-neutral query predicates from attribute
// criteria and renders them for a concrete backend, either as a SQL boolean
// expression with bind markers or as an LDAP search filter.
package predicate

import (
	"fmt"
	"strings"

	"github.com/apereo/persondir/pkg/persondir"
)

// Wildcard is the caller-facing wildcard token accepted in query values.
const Wildcard = "*"

const sqlWildcard = "%"

// Op is the comparison operator of a single predicate term.
type Op int

const (
	OpEqual Op = iota
	OpLike
)

func (op Op) String() string {
	if op == OpLike {
		return "LIKE"
	}
	return "="
}

// Comparison is one predicate term. Column is the canonicalized column or
// field expression; an empty Column is a value-only term that renders as a
// bare bind marker, for templates that place the column expression
// themselves. Argument is the formatted value to bind, with caller wildcards
// already translated.
type Comparison struct {
	Column   string
	Op       Op
	Argument string
}

// Clause is an ordered list of comparisons joined by a single query type.
// A nil or empty clause means no filtering: match all.
type Clause struct {
	Join        persondir.QueryType
	Comparisons []Comparison
}

// Builder appends attribute criteria to a clause, applying the configured
// canonicalization to column expressions and bound values.
type Builder struct {
	join  persondir.QueryType
	canon *Canonicalizer
}

// NewBuilder returns a builder joining comparisons with join. A nil
// canonicalizer leaves columns and values untouched.
func NewBuilder(join persondir.QueryType, canon *Canonicalizer) *Builder {
	return &Builder{join: join, canon: canon}
}

// Append adds one comparison per usable query value to clause and returns
// the clause, allocating it on the first appended comparison when nil is
// passed in. Nil and blank values are skipped entirely; a value containing
// the wildcard token becomes a LIKE comparison with the token translated.
// When every value is skipped the clause is returned unchanged, so a nil
// input stays nil and keeps its match-all meaning.
func (b *Builder) Append(clause *Clause, column string, values []any) *Clause {
	for _, value := range values {
		formatted, ok := formatValue(value)
		if !ok {
			continue
		}

		if clause == nil {
			clause = &Clause{Join: b.join}
		}

		cmp := Comparison{Op: OpEqual}
		if column != "" {
			cmp.Column = b.canon.Canonicalize(column)
			formatted = b.canon.Fold(column, formatted)
		}

		if translated := strings.ReplaceAll(formatted, Wildcard, sqlWildcard); translated != formatted {
			cmp.Op = OpLike
			cmp.Argument = translated
		} else {
			cmp.Argument = formatted
		}

		clause.Comparisons = append(clause.Comparisons, cmp)
	}

	return clause
}

// formatValue stringifies a query value. The second return is false for
// values that contribute no comparison: nil and strings that are empty or
// whitespace-only.
func formatValue(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	s := fmt.Sprint(value)
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
