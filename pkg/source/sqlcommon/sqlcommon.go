// Package sqlcommon implements the attribute source shared by the SQL
// drivers. A driver contributes its connection, its bind placeholder format,
// and its error normalization; everything else, from predicate building to
// row collation, lives here.
package sqlcommon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/apereo/persondir/pkg/collate"
	"github.com/apereo/persondir/pkg/logger"
	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/predicate"
	"github.com/apereo/persondir/pkg/telemetry"
)

var tracer = otel.Tracer("persondir/pkg/source/sqlcommon")

// RowShape selects how result rows map to subjects.
type RowShape int

const (
	// SingleRow treats each row as one complete subject.
	SingleRow RowShape = iota

	// MultiRow treats rows as name/value pairs accumulated per subject.
	MultiRow
)

// ParseRowShape parses "single" or "multi" (and their "-row" variants).
func ParseRowShape(s string) (RowShape, error) {
	switch s {
	case "", "single", "single-row":
		return SingleRow, nil
	case "multi", "multi-row":
		return MultiRow, nil
	default:
		return SingleRow, persondir.ConfigurationError("unknown row shape %q", s)
	}
}

// ErrorHandler normalizes a driver error onto the resolver's error
// taxonomy. Each driver supplies its own.
type ErrorHandler func(error) error

// Config defines the configuration parameters for a SQL attribute source.
type Config struct {
	Username string
	Password string
	Logger   logger.Logger

	// QueryTemplate is the full SQL statement with exactly one {0} marker
	// where the rendered predicate goes.
	QueryTemplate string
	RowShape      RowShape

	UsernameAttribute        string
	DefaultUsernameAttribute string

	// NameValueColumns configures multi-row collation.
	NameValueColumns map[string][]string

	// QueryAttributeColumns maps a query attribute onto the data columns it
	// compares against. An attribute mapped to an empty column list becomes
	// a value-only comparison; unmapped attributes use their own name as
	// the column.
	QueryAttributeColumns map[string][]string

	CaseInsensitiveAttributes map[string]predicate.Mode
	CanonicalTemplates        map[predicate.Mode]string

	PossibleAttributes  []string
	QueryableAttributes []string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	ExportMetrics bool
}

// SourceOption defines a function type used for configuring a Config object.
type SourceOption func(*Config)

// WithUsername returns a SourceOption that sets the connection username
// override in the Config.
func WithUsername(username string) SourceOption {
	return func(cfg *Config) {
		cfg.Username = username
	}
}

// WithPassword returns a SourceOption that sets the connection password
// override in the Config.
func WithPassword(password string) SourceOption {
	return func(cfg *Config) {
		cfg.Password = password
	}
}

// WithLogger returns a SourceOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) SourceOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// WithQueryTemplate returns a SourceOption that sets the query template in
// the Config.
func WithQueryTemplate(template string) SourceOption {
	return func(cfg *Config) {
		cfg.QueryTemplate = template
	}
}

// WithRowShape returns a SourceOption that sets the result row shape in the
// Config.
func WithRowShape(shape RowShape) SourceOption {
	return func(cfg *Config) {
		cfg.RowShape = shape
	}
}

// WithUsernameAttribute returns a SourceOption that sets the identifier
// column in the Config.
func WithUsernameAttribute(attr string) SourceOption {
	return func(cfg *Config) {
		cfg.UsernameAttribute = attr
	}
}

// WithDefaultUsernameAttribute returns a SourceOption that sets the
// fallback identifier column in the Config.
func WithDefaultUsernameAttribute(attr string) SourceOption {
	return func(cfg *Config) {
		cfg.DefaultUsernameAttribute = attr
	}
}

// WithNameValueColumns returns a SourceOption that sets the multi-row
// name/value column mappings in the Config.
func WithNameValueColumns(mappings map[string][]string) SourceOption {
	return func(cfg *Config) {
		cfg.NameValueColumns = mappings
	}
}

// WithQueryAttributeColumns returns a SourceOption that sets the query
// attribute to data column mappings in the Config.
func WithQueryAttributeColumns(mappings map[string][]string) SourceOption {
	return func(cfg *Config) {
		cfg.QueryAttributeColumns = mappings
	}
}

// WithCaseInsensitiveAttributes returns a SourceOption that sets the case
// canonicalization modes in the Config.
func WithCaseInsensitiveAttributes(modes map[string]predicate.Mode) SourceOption {
	return func(cfg *Config) {
		cfg.CaseInsensitiveAttributes = modes
	}
}

// WithCanonicalTemplate returns a SourceOption that overrides the column
// expression template of one canonicalization mode in the Config.
func WithCanonicalTemplate(mode predicate.Mode, template string) SourceOption {
	return func(cfg *Config) {
		if cfg.CanonicalTemplates == nil {
			cfg.CanonicalTemplates = map[predicate.Mode]string{}
		}
		cfg.CanonicalTemplates[mode] = template
	}
}

// WithPossibleAttributes returns a SourceOption that sets the attribute
// names the source reports as producible.
func WithPossibleAttributes(attrs ...string) SourceOption {
	return func(cfg *Config) {
		cfg.PossibleAttributes = attrs
	}
}

// WithQueryableAttributes returns a SourceOption that sets the attribute
// names the source reports as filterable.
func WithQueryableAttributes(attrs ...string) SourceOption {
	return func(cfg *Config) {
		cfg.QueryableAttributes = attrs
	}
}

// WithMaxOpenConns returns a SourceOption that sets the maximum number of
// open connections in the Config.
func WithMaxOpenConns(c int) SourceOption {
	return func(cfg *Config) {
		cfg.MaxOpenConns = c
	}
}

// WithMaxIdleConns returns a SourceOption that sets the maximum number of
// idle connections in the Config.
func WithMaxIdleConns(c int) SourceOption {
	return func(cfg *Config) {
		cfg.MaxIdleConns = c
	}
}

// WithConnMaxIdleTime returns a SourceOption that sets the maximum idle
// time for a connection in the Config.
func WithConnMaxIdleTime(d time.Duration) SourceOption {
	return func(cfg *Config) {
		cfg.ConnMaxIdleTime = d
	}
}

// WithConnMaxLifetime returns a SourceOption that sets the maximum lifetime
// for a connection in the Config.
func WithConnMaxLifetime(d time.Duration) SourceOption {
	return func(cfg *Config) {
		cfg.ConnMaxLifetime = d
	}
}

// WithMetrics returns a SourceOption that enables the export of connection
// pool metrics in the Config.
func WithMetrics() SourceOption {
	return func(cfg *Config) {
		cfg.ExportMetrics = true
	}
}

// NewConfig creates a new Config instance with default values and applies
// any provided SourceOption modifications.
func NewConfig(opts ...SourceOption) *Config {
	cfg := &Config{}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	return cfg
}

// Source is the generic SQL attribute source.
type Source struct {
	db          *sql.DB
	placeholder sq.PlaceholderFormat
	handleError ErrorHandler
	cfg         *Config
	canon       *predicate.Canonicalizer
	collateCfg  collate.Config
	logger      logger.Logger
}

var _ persondir.Source = (*Source)(nil)

// NewSource builds a SQL attribute source over an open connection pool.
// Configuration problems surface here, not at query time.
func NewSource(db *sql.DB, placeholder sq.PlaceholderFormat, handleError ErrorHandler, cfg *Config) (*Source, error) {
	if db == nil {
		return nil, persondir.ConfigurationError("sql source requires a database connection")
	}
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := predicate.ValidateTemplate(cfg.QueryTemplate); err != nil {
		return nil, err
	}
	if cfg.RowShape == MultiRow && len(cfg.NameValueColumns) == 0 {
		return nil, persondir.ConfigurationError("multi-row sources require name/value column mappings")
	}
	if placeholder == nil {
		placeholder = sq.Question
	}
	if handleError == nil {
		handleError = defaultErrorHandler
	}

	canonOpts := []predicate.CanonicalizerOption{
		predicate.WithModes(cfg.CaseInsensitiveAttributes),
	}
	for mode, template := range cfg.CanonicalTemplates {
		canonOpts = append(canonOpts, predicate.WithTemplate(mode, template))
	}

	return &Source{
		db:          db,
		placeholder: placeholder,
		handleError: handleError,
		cfg:         cfg,
		canon:       predicate.NewCanonicalizer(canonOpts...),
		collateCfg: collate.Config{
			UsernameAttribute:        cfg.UsernameAttribute,
			DefaultUsernameAttribute: cfg.DefaultUsernameAttribute,
			NameValueColumns:         cfg.NameValueColumns,
		},
		logger: cfg.Logger,
	}, nil
}

// Close closes the underlying connection pool.
func (s *Source) Close() error {
	return s.db.Close()
}

// Resolve renders the query into the source's template, executes it, and
// collates the rows per the configured row shape.
func (s *Source) Resolve(ctx context.Context, query persondir.Query) ([]*persondir.Person, error) {
	ctx, span := tracer.Start(ctx, "sql.Resolve")
	defer span.End()

	stmt, args, err := s.buildQuery(query)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	s.logger.Debug("executing attribute query",
		zap.String("sql", stmt),
		zap.Int("args", len(args)),
	)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		err = s.handleError(err)
		telemetry.TraceError(span, err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	collateRows, err := scanRows(rows)
	if err != nil {
		err = s.handleError(err)
		telemetry.TraceError(span, err)
		return nil, err
	}

	queryUsername := s.queryUsername(query)

	var people []*persondir.Person
	if s.cfg.RowShape == MultiRow {
		people, err = collate.MultiRow(s.collateCfg, collateRows, queryUsername)
	} else {
		people, err = collate.SingleRow(s.collateCfg, collateRows, queryUsername)
	}
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	return people, nil
}

// ResolveSubject resolves one subject through the identifier column.
func (s *Source) ResolveSubject(ctx context.Context, username string) (*persondir.Person, error) {
	ctx, span := tracer.Start(ctx, "sql.ResolveSubject")
	defer span.End()

	attr := s.cfg.UsernameAttribute
	if attr == "" {
		attr = s.cfg.DefaultUsernameAttribute
	}

	people, err := s.Resolve(ctx, persondir.NewSubjectQuery(attr, username))
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	if len(people) == 0 {
		return nil, persondir.ErrNotFound
	}
	if len(people) > 1 {
		s.logger.Warn("multiple people resolved for one subject, keeping the first",
			zap.String("username", username),
			zap.Int("people", len(people)),
		)
	}

	return people[0], nil
}

// PossibleAttributeNames reports the configured producible attributes.
func (s *Source) PossibleAttributeNames(ctx context.Context) ([]string, error) {
	return slices.Sorted(slices.Values(s.cfg.PossibleAttributes)), nil
}

// QueryableAttributeNames reports the configured filterable attributes,
// derived from the query attribute mappings when present.
func (s *Source) QueryableAttributeNames(ctx context.Context) ([]string, error) {
	if len(s.cfg.QueryAttributeColumns) > 0 {
		return slices.Sorted(maps.Keys(s.cfg.QueryAttributeColumns)), nil
	}
	return slices.Sorted(slices.Values(s.cfg.QueryableAttributes)), nil
}

// buildQuery renders the final SQL statement and its ordered bind
// arguments. Attribute names iterate sorted so a given query always renders
// the same statement.
func (s *Source) buildQuery(query persondir.Query) (string, []any, error) {
	b := predicate.NewBuilder(query.Type, s.canon)

	var clause *predicate.Clause
	for _, name := range slices.Sorted(maps.Keys(query.Attributes)) {
		values := query.Attributes[name]

		columns, mapped := s.cfg.QueryAttributeColumns[name]
		switch {
		case mapped && len(columns) == 0:
			clause = b.Append(clause, "", values)
		case mapped:
			for _, column := range columns {
				clause = b.Append(clause, column, values)
			}
		default:
			clause = b.Append(clause, name, values)
		}
	}

	where, args, err := clause.ToSQL()
	if err != nil {
		return "", nil, err
	}

	stmt, err := s.placeholder.ReplacePlaceholders(predicate.Splice(s.cfg.QueryTemplate, where))
	if err != nil {
		return "", nil, err
	}

	return stmt, args, nil
}

// queryUsername extracts the caller-supplied subject identifier, consulting
// the configured identifier attribute before the default one.
func (s *Source) queryUsername(query persondir.Query) string {
	if s.cfg.UsernameAttribute != "" {
		if username, ok := query.Username(s.cfg.UsernameAttribute); ok {
			return username
		}
	}
	username, _ := query.Username(s.cfg.DefaultUsernameAttribute)
	return username
}

// scanRows reads every result row into a column map. []byte values are
// normalized to string so drivers that return raw bytes still produce
// comparable attribute values.
func scanRows(rows *sql.Rows) ([]collate.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []collate.Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(collate.MapRow, len(columns))
		for i, column := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[column] = v
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

// defaultErrorHandler is used when a driver supplies no normalization.
func defaultErrorHandler(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return persondir.ErrNotFound
	}
	return fmt.Errorf("sql error: %w", err)
}
