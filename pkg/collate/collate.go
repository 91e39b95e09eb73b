// Package collate turns raw backend result rows into resolved people. Two
// row shapes are supported: single-row, where one row carries all of a
// subject's attributes in its columns, and multi-row, where a subject's
// attributes arrive as name/value pairs spread over many rows.
package collate

import (
	"fmt"
	"maps"
	"slices"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/apereo/persondir/pkg/attribute"
	"github.com/apereo/persondir/pkg/persondir"
)

// Row is one raw result row. Has distinguishes a column that is absent from
// the row shape from one that is present holding a null value: the former is
// a schema problem when the column is configured, the latter is valid data.
type Row interface {
	Columns() []string
	Has(column string) bool
	Value(column string) any
}

// MapRow adapts a plain column map to Row. Columns are reported in sorted
// order so collation output is deterministic.
type MapRow map[string]any

var _ Row = MapRow{}

func (r MapRow) Columns() []string {
	return slices.Sorted(maps.Keys(r))
}

func (r MapRow) Has(column string) bool {
	_, ok := r[column]
	return ok
}

func (r MapRow) Value(column string) any {
	return r[column]
}

// Config carries the collation settings of one source.
type Config struct {
	// UsernameAttribute is the explicitly configured identifier column.
	// When set and present in a row it names the subject regardless of what
	// the query carried.
	UsernameAttribute string

	// DefaultUsernameAttribute is the identifier column consulted as a last
	// resort. Empty selects persondir.DefaultUsernameAttribute.
	DefaultUsernameAttribute string

	// NameValueColumns drives multi-row collation: each key is the column
	// holding attribute names, its value the ordered columns holding that
	// attribute's values.
	NameValueColumns map[string][]string
}

func (c Config) defaultAttribute() string {
	if c.DefaultUsernameAttribute != "" {
		return c.DefaultUsernameAttribute
	}
	return persondir.DefaultUsernameAttribute
}

// resolveUsername determines the subject identifier for one row. The rules
// apply in order: the explicitly configured username attribute when present
// in the row with a non-null value, then the username the query carried,
// then the default attribute when present with a non-null value. A row that
// satisfies none of them is a schema mismatch. The second return names the
// column the identifier was read from, empty when it came from the query.
func (c Config) resolveUsername(row Row, queryUsername string) (string, string, error) {
	attr := c.UsernameAttribute
	if attr == "" {
		attr = c.defaultAttribute()
	}

	if c.UsernameAttribute != "" && row.Has(c.UsernameAttribute) {
		if username, ok := usernameString(row.Value(c.UsernameAttribute)); ok {
			return username, c.UsernameAttribute, nil
		}
	}

	if queryUsername != "" {
		return queryUsername, "", nil
	}

	if row.Has(attr) {
		if username, ok := usernameString(row.Value(attr)); ok {
			return username, attr, nil
		}
	}

	return "", "", persondir.MissingUsernameError(attr)
}

// SingleRow collates rows where each row is one complete subject. Every
// column except the one the identifier was read from becomes an attribute;
// when the identifier came from the query all columns are kept.
func SingleRow(cfg Config, rows []Row, queryUsername string) ([]*persondir.Person, error) {
	people := make([]*persondir.Person, 0, len(rows))

	for _, row := range rows {
		username, usernameColumn, err := cfg.resolveUsername(row, queryUsername)
		if err != nil {
			return nil, err
		}

		attrs := attribute.New()
		for _, column := range row.Columns() {
			if column == usernameColumn {
				continue
			}
			addValue(attrs, column, row.Value(column))
		}

		people = append(people, persondir.NewPerson(username, attrs))
	}

	return people, nil
}

// MultiRow collates name/value-pair rows into one person per subject,
// preserving the order subjects were first seen in. Attribute values
// accumulate across a subject's rows in row order. Configured name or value
// columns that are absent from a row are a schema mismatch; a value column
// holding null is kept as a null attribute value.
func MultiRow(cfg Config, rows []Row, queryUsername string) ([]*persondir.Person, error) {
	if len(cfg.NameValueColumns) == 0 {
		return nil, persondir.ConfigurationError("multi-row collation requires name/value column mappings")
	}
	nameColumns := slices.Sorted(maps.Keys(cfg.NameValueColumns))
	for _, nameColumn := range nameColumns {
		if len(cfg.NameValueColumns[nameColumn]) == 0 {
			return nil, persondir.ConfigurationError("name column %q has no value columns", nameColumn)
		}
	}

	subjects := linkedhashmap.New()

	for _, row := range rows {
		username, _, err := cfg.resolveUsername(row, queryUsername)
		if err != nil {
			return nil, err
		}

		var attrs attribute.Map
		if existing, ok := subjects.Get(username); ok {
			attrs = existing.(attribute.Map)
		} else {
			attrs = attribute.New()
			subjects.Put(username, attrs)
		}

		for _, nameColumn := range nameColumns {
			if !row.Has(nameColumn) {
				return nil, persondir.MissingColumnError(nameColumn)
			}
			nameValue := row.Value(nameColumn)

			valueColumns := cfg.NameValueColumns[nameColumn]
			for _, valueColumn := range valueColumns {
				if !row.Has(valueColumn) {
					return nil, persondir.MissingColumnError(valueColumn)
				}
			}

			// A null in the name column leaves nothing to record the
			// values under.
			if nameValue == nil {
				continue
			}
			attrName := fmt.Sprint(nameValue)

			for _, valueColumn := range valueColumns {
				addValue(attrs, attrName, row.Value(valueColumn))
			}
		}
	}

	people := make([]*persondir.Person, 0, subjects.Size())
	it := subjects.Iterator()
	for it.Next() {
		people = append(people, persondir.NewPerson(it.Key().(string), it.Value().(attribute.Map)))
	}

	return people, nil
}

// addValue appends a raw column value to attrs, spreading naturally
// multi-valued columns into individual values.
func addValue(attrs attribute.Map, name string, value any) {
	switch vs := value.(type) {
	case []any:
		attrs.Add(name, vs...)
	case []string:
		for _, s := range vs {
			attrs.Add(name, s)
		}
	default:
		attrs.Add(name, value)
	}
}

// usernameString renders an identifier column value, taking the first
// element of naturally multi-valued columns. A null or empty value does not
// resolve an identifier.
func usernameString(value any) (string, bool) {
	switch vs := value.(type) {
	case nil:
		return "", false
	case []any:
		if len(vs) == 0 || vs[0] == nil {
			return "", false
		}
		return fmt.Sprint(vs[0]), true
	case []string:
		if len(vs) == 0 || vs[0] == "" {
			return "", false
		}
		return vs[0], true
	default:
		s := fmt.Sprint(value)
		return s, s != ""
	}
}
