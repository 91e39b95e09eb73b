// Package sqlite provides the SQLite attribute source.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/apereo/persondir/internal/build"
	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/source/sqlcommon"
)

// Source is a SQLite backed attribute source.
type Source struct {
	*sqlcommon.Source
	db               *sql.DB
	dbStatsCollector prometheus.Collector
}

var _ persondir.Source = (*Source)(nil)

// PrepareDSN completes a raw SQLite DSN with defaults for journal mode,
// busy timeout, and transaction locking where not already specified.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("parse sqlite dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}

	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	uri += "?" + query.Encode()

	return uri, nil
}

// New opens a SQLite attribute source over uri.
func New(uri string, cfg *sqlcommon.Config) (*Source, error) {
	if cfg == nil {
		cfg = sqlcommon.NewConfig()
	}

	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}

	return NewWithDB(db, cfg)
}

// NewWithDB builds a SQLite attribute source over an existing connection
// pool.
func NewWithDB(db *sql.DB, cfg *sqlcommon.Config) (*Source, error) {
	if cfg == nil {
		cfg = sqlcommon.NewConfig()
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

// HandleSQLError normalizes SQLite driver errors. Generic statement errors
// cover missing tables and columns, so they map to a schema mismatch; a
// database that cannot be opened or is locked means the backend is
// unavailable.
func HandleSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return persondir.ErrNotFound
	}

	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xFF {
		case sqlite3.SQLITE_ERROR:
			return fmt.Errorf("%s: %w", serr.Error(), persondir.ErrSchemaMismatch)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_CANTOPEN:
			return persondir.BackendUnavailableError(err)
		}
	}

	return fmt.Errorf("sql error: %w", err)
}
