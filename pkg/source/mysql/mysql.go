// Package mysql provides the MySQL attribute source.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/apereo/persondir/internal/build"
	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/source/sqlcommon"
)

// Source is a MySQL backed attribute source.
type Source struct {
	*sqlcommon.Source
	db               *sql.DB
	dbStatsCollector prometheus.Collector
}

var _ persondir.Source = (*Source)(nil)

// New opens a MySQL attribute source over the given DSN. Configured
// credential overrides replace the ones carried in the DSN.
func New(uri string, cfg *sqlcommon.Config) (*Source, error) {
	if cfg == nil {
		cfg = sqlcommon.NewConfig()
	}

	if cfg.Username != "" || cfg.Password != "" {
		dsnCfg, err := mysql.ParseDSN(uri)
		if err != nil {
			return nil, fmt.Errorf("parse mysql connection dsn: %w", err)
		}

		if cfg.Username != "" {
			dsnCfg.User = cfg.Username
		}
		if cfg.Password != "" {
			dsnCfg.Passwd = cfg.Password
		}

		uri = dsnCfg.FormatDSN()
	}

	db, err := sql.Open("mysql", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize mysql connection: %w", err)
	}

	if cfg.MaxOpenConns != 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if cfg.ConnMaxIdleTime != 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if cfg.ConnMaxLifetime != 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return NewWithDB(db, cfg)
}

// NewWithDB builds a MySQL attribute source over an existing connection
// pool.
func NewWithDB(db *sql.DB, cfg *sqlcommon.Config) (*Source, error) {
	if cfg == nil {
		cfg = sqlcommon.NewConfig()
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 1 * time.Minute
	attempt := 1
	err := backoff.Retry(func() error {
		err := db.PingContext(context.Background())
		if err != nil {
			cfg.Logger.Info("waiting for mysql", zap.Int("attempt", attempt))
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

	src, err := sqlcommon.NewSource(db, sq.Question, HandleSQLError, cfg)
	if err != nil {
		return nil, err
	}

	return &Source{
		Source:           src,
		db:               db,
		dbStatsCollector: collector,
	}, nil
}

// Close closes the source and unregisters its metrics collector.
func (s *Source) Close() error {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	return s.Source.Close()
}

// HandleSQLError normalizes MySQL driver errors. Unknown columns and tables
// are schema mismatches; access and connection failures mean the backend is
// unavailable.
func HandleSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return persondir.ErrNotFound
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1054, 1146:
			return fmt.Errorf("%s: %w", mysqlErr.Message, persondir.ErrSchemaMismatch)
		case 1044, 1045, 1049:
			return persondir.BackendUnavailableError(err)
		}
	}

	return fmt.Errorf("sql error: %w", err)
}
