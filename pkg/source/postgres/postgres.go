// Package postgres provides the PostgreSQL attribute source.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/apereo/persondir/internal/build"
	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/source/sqlcommon"
)

// Source is a PostgreSQL backed attribute source.
type Source struct {
	*sqlcommon.Source
	db               *sql.DB
	dbStatsCollector prometheus.Collector
}

var _ persondir.Source = (*Source)(nil)

// initDB initializes a new postgres database connection, splicing any
// configured credential overrides into the connection URI.
func initDB(uri string, cfg *sqlcommon.Config) (*sql.DB, error) {
	if cfg.Username != "" || cfg.Password != "" {
		parsed, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse postgres connection uri: %w", err)
		}

		username := ""
		if cfg.Username != "" {
			username = cfg.Username
		} else if parsed.User != nil {
			username = parsed.User.Username()
		}

		switch {
		case cfg.Password != "":
			parsed.User = url.UserPassword(username, cfg.Password)
		case parsed.User != nil:
			if password, ok := parsed.User.Password(); ok {
				parsed.User = url.UserPassword(username, password)
			} else {
				parsed.User = url.User(username)
			}
		default:
			parsed.User = url.User(username)
		}

		uri = parsed.String()
	}

	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}

	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// New opens a PostgreSQL attribute source over uri.
func New(uri string, cfg *sqlcommon.Config) (*Source, error) {
	if cfg == nil {
		cfg = sqlcommon.NewConfig()
	}

	db, err := initDB(uri, cfg)
	if err != nil {
		return nil, err
	}

	return NewWithDB(db, cfg)
}

// NewWithDB builds a PostgreSQL attribute source over an existing
// connection pool.
func NewWithDB(db *sql.DB, cfg *sqlcommon.Config) (*Source, error) {
	if cfg == nil {
		cfg = sqlcommon.NewConfig()
	}

	collector, err := configureDB(db, cfg)
	if err != nil {
		return nil, err
	}

	src, err := sqlcommon.NewSource(db, sq.Dollar, HandleSQLError, cfg)
	if err != nil {
		return nil, err
	}

	return &Source{
		Source:           src,
		db:               db,
		dbStatsCollector: collector,
	}, nil
}

// configureDB waits for the database to accept connections and registers
// the pool stats collector when metrics are enabled.
func configureDB(db *sql.DB, cfg *sqlcommon.Config) (prometheus.Collector, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 1 * time.Minute
	attempt := 1
	err := backoff.Retry(func() error {
		err := db.PingContext(context.Background())
		if err != nil {
			cfg.Logger.Info("waiting for database", zap.Int("attempt", attempt))
			attempt++
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return nil, persondir.BackendUnavailableError(err)
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	return collector, nil
}

// Close closes the source and unregisters its metrics collector.
func (s *Source) Close() error {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	return s.Source.Close()
}

// HandleSQLError normalizes PostgreSQL driver errors. Undefined columns and
// tables are schema mismatches; connection and authentication failures mean
// the backend is unavailable.
func HandleSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return persondir.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42703" || pgErr.Code == "42P01":
			return fmt.Errorf("%s: %w", pgErr.Message, persondir.ErrSchemaMismatch)
		case strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "28"):
			return persondir.BackendUnavailableError(err)
		}
	}

	return fmt.Errorf("sql error: %w", err)
}
