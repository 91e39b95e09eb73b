// Package directory provides the LDAP attribute source.
package directory

import (
	"context"
	"fmt"
	"maps"
	"net"
	"slices"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/apereo/persondir/pkg/collate"
	"github.com/apereo/persondir/pkg/logger"
	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/predicate"
	"github.com/apereo/persondir/pkg/telemetry"
)

var tracer = otel.Tracer("persondir/pkg/source/directory")

// matchAllFilter selects every entry under the search base when a query
// carries no usable criteria.
const matchAllFilter = "(objectClass=*)"

// Searcher performs one LDAP search. *ldap.Conn satisfies it directly;
// tests substitute their own.
type Searcher interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
}

var _ Searcher = (*ldap.Conn)(nil)

// Config defines the configuration parameters for an LDAP attribute source.
type Config struct {
	URL          string
	BindDN       string
	BindPassword string

	// BaseDN is the subtree searched. FilterTemplate is the LDAP filter with
	// exactly one {0} marker where the rendered criteria go.
	BaseDN         string
	FilterTemplate string

	UsernameAttribute        string
	DefaultUsernameAttribute string

	// Attributes are the directory attributes requested per entry. Empty
	// requests them all.
	Attributes []string

	// QueryAttributeMappings maps a query attribute onto the directory
	// attributes it compares against. Unmapped attributes use their own
	// name.
	QueryAttributeMappings map[string][]string

	CaseInsensitiveAttributes map[string]predicate.Mode

	SizeLimit      int
	TimeLimit      int
	ConnectTimeout time.Duration

	Logger logger.Logger
}

// SourceOption defines a function type used for configuring a Config object.
type SourceOption func(*Config)

// WithURL returns a SourceOption that sets the directory URL in the Config.
func WithURL(url string) SourceOption {
	return func(cfg *Config) {
		cfg.URL = url
	}
}

// WithBind returns a SourceOption that sets the bind credentials in the
// Config.
func WithBind(dn, password string) SourceOption {
	return func(cfg *Config) {
		cfg.BindDN = dn
		cfg.BindPassword = password
	}
}

// WithBaseDN returns a SourceOption that sets the search base in the Config.
func WithBaseDN(baseDN string) SourceOption {
	return func(cfg *Config) {
		cfg.BaseDN = baseDN
	}
}

// WithFilterTemplate returns a SourceOption that sets the filter template in
// the Config.
func WithFilterTemplate(template string) SourceOption {
	return func(cfg *Config) {
		cfg.FilterTemplate = template
	}
}

// WithUsernameAttribute returns a SourceOption that sets the identifier
// attribute in the Config.
func WithUsernameAttribute(attr string) SourceOption {
	return func(cfg *Config) {
		cfg.UsernameAttribute = attr
	}
}

// WithDefaultUsernameAttribute returns a SourceOption that sets the fallback
// identifier attribute in the Config.
func WithDefaultUsernameAttribute(attr string) SourceOption {
	return func(cfg *Config) {
		cfg.DefaultUsernameAttribute = attr
	}
}

// WithAttributes returns a SourceOption that sets the directory attributes
// requested per entry.
func WithAttributes(attrs ...string) SourceOption {
	return func(cfg *Config) {
		cfg.Attributes = attrs
	}
}

// WithQueryAttributeMappings returns a SourceOption that sets the query
// attribute to directory attribute mappings in the Config.
func WithQueryAttributeMappings(mappings map[string][]string) SourceOption {
	return func(cfg *Config) {
		cfg.QueryAttributeMappings = mappings
	}
}

// WithCaseInsensitiveAttributes returns a SourceOption that sets the case
// canonicalization modes in the Config.
func WithCaseInsensitiveAttributes(modes map[string]predicate.Mode) SourceOption {
	return func(cfg *Config) {
		cfg.CaseInsensitiveAttributes = modes
	}
}

// WithSizeLimit returns a SourceOption that sets the search size limit in
// the Config.
func WithSizeLimit(limit int) SourceOption {
	return func(cfg *Config) {
		cfg.SizeLimit = limit
	}
}

// WithTimeLimit returns a SourceOption that sets the server-side search time
// limit, in seconds, in the Config.
func WithTimeLimit(limit int) SourceOption {
	return func(cfg *Config) {
		cfg.TimeLimit = limit
	}
}

// WithConnectTimeout returns a SourceOption that sets the dial timeout in
// the Config.
func WithConnectTimeout(d time.Duration) SourceOption {
	return func(cfg *Config) {
		cfg.ConnectTimeout = d
	}
}

// WithLogger returns a SourceOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) SourceOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// NewConfig creates a new Config instance with default values and applies
// any provided SourceOption modifications.
func NewConfig(opts ...SourceOption) *Config {
	cfg := &Config{
		FilterTemplate: "{0}",
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	return cfg
}

// Source is an LDAP backed attribute source.
type Source struct {
	searcher   Searcher
	cfg        *Config
	canon      *predicate.Canonicalizer
	collateCfg collate.Config
	logger     logger.Logger
	closeConn  func() error
}

var _ persondir.Source = (*Source)(nil)

// New dials the configured directory and builds a source over the
// connection.
func New(cfg *Config) (*Source, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.URL == "" {
		return nil, persondir.ConfigurationError("ldap source requires a directory url")
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := ldap.DialURL(cfg.URL, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, persondir.BackendUnavailableError(err)
	}

	if cfg.BindDN != "" {
		if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
			_ = conn.Close()
			return nil, persondir.BackendUnavailableError(err)
		}
	}

	src, err := NewWithSearcher(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	src.closeConn = conn.Close

	return src, nil
}

// NewWithSearcher builds a source over an existing searcher. Configuration
// problems surface here, not at query time.
func NewWithSearcher(searcher Searcher, cfg *Config) (*Source, error) {
	if searcher == nil {
		return nil, persondir.ConfigurationError("ldap source requires a searcher")
	}
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.BaseDN == "" {
		return nil, persondir.ConfigurationError("ldap source requires a search base")
	}
	if err := predicate.ValidateTemplate(cfg.FilterTemplate); err != nil {
		return nil, err
	}

	// Case folding applies to bound values only. Directory servers match
	// attribute names case-insensitively, so the column expression templates
	// collapse to the identity.
	canonOpts := []predicate.CanonicalizerOption{
		predicate.WithModes(cfg.CaseInsensitiveAttributes),
		predicate.WithTemplate(predicate.ModeLower, "%s"),
		predicate.WithTemplate(predicate.ModeUpper, "%s"),
	}

	return &Source{
		searcher: searcher,
		cfg:      cfg,
		canon:    predicate.NewCanonicalizer(canonOpts...),
		collateCfg: collate.Config{
			UsernameAttribute:        cfg.UsernameAttribute,
			DefaultUsernameAttribute: cfg.DefaultUsernameAttribute,
		},
		logger: cfg.Logger,
	}, nil
}

// Close closes the underlying directory connection, when this source owns
// one.
func (s *Source) Close() error {
	if s.closeConn != nil {
		return s.closeConn()
	}
	return nil
}

// Resolve renders the query into the source's filter template, searches the
// directory, and collates the entries.
func (s *Source) Resolve(ctx context.Context, query persondir.Query) ([]*persondir.Person, error) {
	ctx, span := tracer.Start(ctx, "ldap.Resolve")
	defer span.End()

	filter, err := s.buildFilter(query)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	s.logger.Debug("searching directory",
		zap.String("base_dn", s.cfg.BaseDN),
		zap.String("filter", filter),
	)

	// The wire protocol has no cancellation, so honor the context up front
	// and lean on the configured limits after that.
	if err := ctx.Err(); err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	req := ldap.NewSearchRequest(
		s.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		s.cfg.SizeLimit,
		s.cfg.TimeLimit,
		false,
		filter,
		s.cfg.Attributes,
		nil,
	)

	res, err := s.searcher.Search(req)
	if err != nil {
		err = handleLDAPError(err)
		telemetry.TraceError(span, err)
		return nil, err
	}

	queryUsername := s.queryUsername(query)

	people, err := collate.SingleRow(s.collateCfg, entriesToRows(res.Entries), queryUsername)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	return people, nil
}

// ResolveSubject resolves one subject through the identifier attribute.
func (s *Source) ResolveSubject(ctx context.Context, username string) (*persondir.Person, error) {
	ctx, span := tracer.Start(ctx, "ldap.ResolveSubject")
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
		s.logger.Warn("multiple entries resolved for one subject, keeping the first",
			zap.String("username", username),
			zap.Int("entries", len(people)),
		)
	}

	return people[0], nil
}

// PossibleAttributeNames reports the requested directory attributes.
func (s *Source) PossibleAttributeNames(ctx context.Context) ([]string, error) {
	out := make([]string, len(s.cfg.Attributes))
	copy(out, s.cfg.Attributes)
	return out, nil
}

// QueryableAttributeNames reports the mapped query attributes; without
// mappings the directory places no static restriction.
func (s *Source) QueryableAttributeNames(ctx context.Context) ([]string, error) {
	return slices.Sorted(maps.Keys(s.cfg.QueryAttributeMappings)), nil
}

// buildFilter renders the final search filter. Attribute names iterate
// sorted so a given query always renders the same filter.
func (s *Source) buildFilter(query persondir.Query) (string, error) {
	b := predicate.NewBuilder(query.Type, s.canon)

	var clause *predicate.Clause
	for _, name := range slices.Sorted(maps.Keys(query.Attributes)) {
		values := query.Attributes[name]

		attrs, mapped := s.cfg.QueryAttributeMappings[name]
		if mapped {
			for _, attr := range attrs {
				clause = b.Append(clause, attr, values)
			}
		} else {
			clause = b.Append(clause, name, values)
		}
	}

	rendered, err := clause.ToLDAP()
	if err != nil {
		return "", err
	}
	if rendered == "" {
		rendered = matchAllFilter
	}

	return predicate.Splice(s.cfg.FilterTemplate, rendered), nil
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

// entriesToRows converts directory entries into collation rows. Multi-valued
// directory attributes stay multi-valued.
func entriesToRows(entries []*ldap.Entry) []collate.Row {
	rows := make([]collate.Row, 0, len(entries))
	for _, entry := range entries {
		row := make(collate.MapRow, len(entry.Attributes))
		for _, attr := range entry.Attributes {
			values := make([]string, len(attr.Values))
			copy(values, attr.Values)
			row[attr.Name] = values
		}
		rows = append(rows, row)
	}
	return rows
}

// handleLDAPError normalizes directory errors. A filter naming an attribute
// the schema lacks, or a missing search base, is a schema mismatch; bind and
// connectivity failures mean the backend is unavailable.
func handleLDAPError(err error) error {
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultUndefinedAttributeType),
		ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return fmt.Errorf("%v: %w", err, persondir.ErrSchemaMismatch)
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials),
		ldap.IsErrorWithCode(err, ldap.LDAPResultBusy),
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable),
		ldap.IsErrorWithCode(err, ldap.ErrorNetwork):
		return persondir.BackendUnavailableError(err)
	}
	return fmt.Errorf("ldap error: %w", err)
}
