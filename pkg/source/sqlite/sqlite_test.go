package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/source/sqlcommon"
)

func TestPrepareDSN(t *testing.T) {
	t.Run("adds_default_pragmas", func(t *testing.T) {
		dsn, err := PrepareDSN("file:directory.db")
		require.NoError(t, err)

		base, rawQuery, found := strings.Cut(dsn, "?")
		require.True(t, found)
		require.Equal(t, "file:directory.db", base)

		query, err := url.ParseQuery(rawQuery)
		require.NoError(t, err)
		require.Equal(t, []string{"journal_mode(WAL)", "busy_timeout(100)"}, query["_pragma"])
		require.Equal(t, "immediate", query.Get("_txlock"))
	})

	t.Run("keeps_explicit_settings", func(t *testing.T) {
		dsn, err := PrepareDSN("file:directory.db?_pragma=busy_timeout(500)&_txlock=deferred")
		require.NoError(t, err)

		query, err := url.ParseQuery(dsn[strings.Index(dsn, "?")+1:])
		require.NoError(t, err)
		require.Equal(t, []string{"busy_timeout(500)", "journal_mode(WAL)"}, query["_pragma"])
		require.Equal(t, "deferred", query.Get("_txlock"))
	})

	t.Run("rejects_malformed_query", func(t *testing.T) {
		_, err := PrepareDSN("file:directory.db?_pragma=%zz")
		require.Error(t, err)
	})
}

func TestHandleSQLError(t *testing.T) {
	require.ErrorIs(t, HandleSQLError(sql.ErrNoRows), persondir.ErrNotFound)

	cause := errors.New("disk I/O error")
	err := HandleSQLError(cause)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, persondir.ErrNotFound)
}

func TestNewWithDB(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery("SELECT username, email FROM person WHERE username = ?").
		WithArgs("jdoe").
		WillReturnRows(sqlmock.NewRows([]string{"username", "email"}).
			AddRow("jdoe", "jdoe@example.edu"))

	src, err := NewWithDB(db, sqlcommon.NewConfig(
		sqlcommon.WithQueryTemplate("SELECT username, email FROM person WHERE {0}"),
	))
	require.NoError(t, err)

	person, err := src.ResolveSubject(context.Background(), "jdoe")
	require.NoError(t, err)
	require.Equal(t, "jdoe", person.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}
