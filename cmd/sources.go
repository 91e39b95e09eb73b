package cmd

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/apereo/persondir/pkg/attribute"
	"github.com/apereo/persondir/pkg/logger"
	"github.com/apereo/persondir/pkg/merger"
	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/predicate"
	"github.com/apereo/persondir/pkg/source/directory"
	"github.com/apereo/persondir/pkg/source/grouper"
	"github.com/apereo/persondir/pkg/source/memory"
	"github.com/apereo/persondir/pkg/source/mysql"
	"github.com/apereo/persondir/pkg/source/postgres"
	"github.com/apereo/persondir/pkg/source/sqlcommon"
	"github.com/apereo/persondir/pkg/source/sqlite"
)

// SourceSpec describes one attribute source in the configuration file. The
// engine decides which of the remaining fields apply.
type SourceSpec struct {
	Name   string `mapstructure:"name"`
	Engine string `mapstructure:"engine"`
	URI    string `mapstructure:"uri"`

	// QueryType, when set, is stamped onto every query this source runs.
	QueryType string `mapstructure:"query-type"`

	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	UsernameAttribute string `mapstructure:"username-attribute"`

	// SQL engines.
	QueryTemplate             string              `mapstructure:"query-template"`
	RowShape                  string              `mapstructure:"row-shape"`
	NameValueColumns          map[string][]string `mapstructure:"name-value-columns"`
	QueryAttributeColumns     map[string][]string `mapstructure:"query-attribute-columns"`
	CaseInsensitiveAttributes map[string]string   `mapstructure:"case-insensitive-attributes"`
	PossibleAttributes        []string            `mapstructure:"possible-attributes"`
	QueryableAttributes       []string            `mapstructure:"queryable-attributes"`
	MaxOpenConns              int                 `mapstructure:"max-open-conns"`
	MaxIdleConns              int                 `mapstructure:"max-idle-conns"`
	Metrics                   bool                `mapstructure:"metrics"`

	// Directory engine.
	BindDN         string        `mapstructure:"bind-dn"`
	BindPassword   string        `mapstructure:"bind-password"`
	BaseDN         string        `mapstructure:"base-dn"`
	FilterTemplate string        `mapstructure:"filter-template"`
	Attributes     []string      `mapstructure:"attributes"`
	SizeLimit      int           `mapstructure:"size-limit"`
	TimeLimit      int           `mapstructure:"time-limit"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`

	// Grouper engine.
	SubjectType     string            `mapstructure:"subject-type"`
	Parameters      map[string]string `mapstructure:"parameters"`
	GroupsAttribute string            `mapstructure:"groups-attribute"`

	// Memory engine.
	Subjects map[string]map[string][]any `mapstructure:"subjects"`
}

// BuildComposite assembles the composite resolver from the `sources` list in
// the configuration, in declaration order. The returned close function shuts
// down every source that owns a connection.
func BuildComposite(log logger.Logger) (*persondir.Composite, func(), error) {
	var specs []SourceSpec
	if err := viper.UnmarshalKey("sources", &specs); err != nil {
		return nil, nil, fmt.Errorf("parse sources config: %w", err)
	}
	if len(specs) == 0 {
		return nil, nil, fmt.Errorf("no sources configured")
	}

	var closers []func() error
	closeAll := func() {
		for _, closer := range closers {
			if err := closer(); err != nil {
				log.Warn("failed to close attribute source", zap.Error(err))
			}
		}
	}

	opts := []persondir.CompositeOption{persondir.WithLogger(log)}
	for _, spec := range specs {
		src, closer, err := buildSource(spec, log)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("source %q: %w", spec.Name, err)
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		opts = append(opts, persondir.WithSource(spec.Name, src))
	}

	if name := viper.GetString("merge-strategy"); name != "" {
		strategy, err := merger.Lookup(name)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opts = append(opts, persondir.WithMergeStrategy(strategy))
	}
	if n := viper.GetInt("max-concurrency"); n > 0 {
		opts = append(opts, persondir.WithMaxConcurrency(n))
	}
	if viper.GetBool("fail-fast") {
		opts = append(opts, persondir.WithFailFast())
	}

	composite, err := persondir.NewComposite(opts...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	return composite, closeAll, nil
}

func buildSource(spec SourceSpec, log logger.Logger) (persondir.Source, func() error, error) {
	var (
		src    persondir.Source
		closer func() error
		err    error
	)

	switch spec.Engine {
	case "postgres", "mysql", "sqlite":
		src, closer, err = buildSQLSource(spec, log)
	case "ldap":
		src, closer, err = buildDirectorySource(spec, log)
	case "grouper":
		src, err = buildGrouperSource(spec, log)
	case "memory":
		src, err = buildMemorySource(spec, log)
	case "":
		return nil, nil, fmt.Errorf("missing source engine type")
	default:
		return nil, nil, fmt.Errorf("unknown source engine type: %s", spec.Engine)
	}
	if err != nil {
		return nil, nil, err
	}

	if spec.QueryType != "" {
		queryType, err := persondir.ParseQueryType(spec.QueryType)
		if err != nil {
			if closer != nil {
				_ = closer()
			}
			return nil, nil, err
		}
		src = &queryTypedSource{Source: src, queryType: queryType}
	}

	return src, closer, nil
}

func buildSQLSource(spec SourceSpec, log logger.Logger) (persondir.Source, func() error, error) {
	modes, err := parseModes(spec.CaseInsensitiveAttributes)
	if err != nil {
		return nil, nil, err
	}

	rowShape, err := sqlcommon.ParseRowShape(spec.RowShape)
	if err != nil {
		return nil, nil, err
	}

	opts := []sqlcommon.SourceOption{
		sqlcommon.WithLogger(log),
		sqlcommon.WithQueryTemplate(spec.QueryTemplate),
		sqlcommon.WithRowShape(rowShape),
	}
	if spec.Username != "" {
		opts = append(opts, sqlcommon.WithUsername(spec.Username))
	}
	if spec.Password != "" {
		opts = append(opts, sqlcommon.WithPassword(spec.Password))
	}
	if spec.UsernameAttribute != "" {
		opts = append(opts, sqlcommon.WithUsernameAttribute(spec.UsernameAttribute))
	}
	if len(spec.NameValueColumns) > 0 {
		opts = append(opts, sqlcommon.WithNameValueColumns(spec.NameValueColumns))
	}
	if len(spec.QueryAttributeColumns) > 0 {
		opts = append(opts, sqlcommon.WithQueryAttributeColumns(spec.QueryAttributeColumns))
	}
	if len(modes) > 0 {
		opts = append(opts, sqlcommon.WithCaseInsensitiveAttributes(modes))
	}
	if len(spec.PossibleAttributes) > 0 {
		opts = append(opts, sqlcommon.WithPossibleAttributes(spec.PossibleAttributes...))
	}
	if len(spec.QueryableAttributes) > 0 {
		opts = append(opts, sqlcommon.WithQueryableAttributes(spec.QueryableAttributes...))
	}
	if spec.MaxOpenConns != 0 {
		opts = append(opts, sqlcommon.WithMaxOpenConns(spec.MaxOpenConns))
	}
	if spec.MaxIdleConns != 0 {
		opts = append(opts, sqlcommon.WithMaxIdleConns(spec.MaxIdleConns))
	}
	if spec.Metrics {
		opts = append(opts, sqlcommon.WithMetrics())
	}

	cfg := sqlcommon.NewConfig(opts...)

	switch spec.Engine {
	case "postgres":
		src, err := postgres.New(spec.URI, cfg)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case "mysql":
		src, err := mysql.New(spec.URI, cfg)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	default:
		src, err := sqlite.New(spec.URI, cfg)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	}
}

func buildDirectorySource(spec SourceSpec, log logger.Logger) (persondir.Source, func() error, error) {
	modes, err := parseModes(spec.CaseInsensitiveAttributes)
	if err != nil {
		return nil, nil, err
	}

	opts := []directory.SourceOption{
		directory.WithLogger(log),
		directory.WithURL(spec.URI),
		directory.WithBaseDN(spec.BaseDN),
	}
	if spec.BindDN != "" {
		opts = append(opts, directory.WithBind(spec.BindDN, spec.BindPassword))
	}
	if spec.FilterTemplate != "" {
		opts = append(opts, directory.WithFilterTemplate(spec.FilterTemplate))
	}
	if spec.UsernameAttribute != "" {
		opts = append(opts, directory.WithUsernameAttribute(spec.UsernameAttribute))
	}
	if len(spec.Attributes) > 0 {
		opts = append(opts, directory.WithAttributes(spec.Attributes...))
	}
	if len(spec.QueryAttributeColumns) > 0 {
		opts = append(opts, directory.WithQueryAttributeMappings(spec.QueryAttributeColumns))
	}
	if len(modes) > 0 {
		opts = append(opts, directory.WithCaseInsensitiveAttributes(modes))
	}
	if spec.SizeLimit != 0 {
		opts = append(opts, directory.WithSizeLimit(spec.SizeLimit))
	}
	if spec.TimeLimit != 0 {
		opts = append(opts, directory.WithTimeLimit(spec.TimeLimit))
	}
	if spec.ConnectTimeout != 0 {
		opts = append(opts, directory.WithConnectTimeout(spec.ConnectTimeout))
	}

	src, err := directory.New(directory.NewConfig(opts...))
	if err != nil {
		return nil, nil, err
	}
	return src, src.Close, nil
}

func buildGrouperSource(spec SourceSpec, log logger.Logger) (persondir.Source, error) {
	subjectType, err := grouper.ParseSubjectType(spec.SubjectType)
	if err != nil {
		return nil, err
	}

	opts := []grouper.SourceOption{
		grouper.WithLogger(log),
		grouper.WithBaseURL(spec.URI),
		grouper.WithSubjectType(subjectType),
	}
	if spec.Username != "" {
		opts = append(opts, grouper.WithBasicAuth(spec.Username, spec.Password))
	}
	if spec.GroupsAttribute != "" {
		opts = append(opts, grouper.WithGroupsAttribute(spec.GroupsAttribute))
	}
	if spec.UsernameAttribute != "" {
		opts = append(opts, grouper.WithUsernameAttribute(spec.UsernameAttribute))
	}
	if len(spec.Parameters) > 0 {
		opts = append(opts, grouper.WithParameters(spec.Parameters))
	}
	if spec.ConnectTimeout != 0 {
		opts = append(opts, grouper.WithTimeout(spec.ConnectTimeout))
	}

	return grouper.New(grouper.NewConfig(opts...))
}

func buildMemorySource(spec SourceSpec, log logger.Logger) (persondir.Source, error) {
	modes, err := parseModes(spec.CaseInsensitiveAttributes)
	if err != nil {
		return nil, err
	}

	opts := []memory.SourceOption{memory.WithLogger(log)}
	if spec.UsernameAttribute != "" {
		opts = append(opts, memory.WithUsernameAttribute(spec.UsernameAttribute))
	}
	if len(modes) > 0 {
		opts = append(opts, memory.WithCanonicalizer(predicate.NewCanonicalizer(predicate.WithModes(modes))))
	}
	if len(spec.PossibleAttributes) > 0 {
		opts = append(opts, memory.WithPossibleAttributes(spec.PossibleAttributes...))
	}
	if len(spec.QueryableAttributes) > 0 {
		opts = append(opts, memory.WithQueryableAttributes(spec.QueryableAttributes...))
	}

	src := memory.New(opts...)
	for _, name := range slices.Sorted(maps.Keys(spec.Subjects)) {
		src.Put(name, attribute.Map(spec.Subjects[name]))
	}

	return src, nil
}

func parseModes(raw map[string]string) (map[string]predicate.Mode, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	modes := make(map[string]predicate.Mode, len(raw))
	for attr, name := range raw {
		mode, err := predicate.ParseMode(name)
		if err != nil {
			return nil, err
		}
		modes[attr] = mode
	}
	return modes, nil
}

// queryTypedSource overrides the join type of every query it forwards, so a
// source can be configured as a disjunction regardless of what the caller
// asked for.
type queryTypedSource struct {
	persondir.Source
	queryType persondir.QueryType
}

func (s *queryTypedSource) Resolve(ctx context.Context, query persondir.Query) ([]*persondir.Person, error) {
	query.Type = s.queryType
	return s.Source.Resolve(ctx, query)
}
