package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/source/sqlcommon"
)

func TestHandleSQLError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "no_rows_is_not_found",
			err:  sql.ErrNoRows,
			want: persondir.ErrNotFound,
		},
		{
			name: "unknown_column_is_schema_mismatch",
			err:  &mysql.MySQLError{Number: 1054, Message: "Unknown column 'eppn' in 'where clause'"},
			want: persondir.ErrSchemaMismatch,
		},
		{
			name: "missing_table_is_schema_mismatch",
			err:  &mysql.MySQLError{Number: 1146, Message: "Table 'directory.person' doesn't exist"},
			want: persondir.ErrSchemaMismatch,
		},
		{
			name: "access_denied_is_unavailable",
			err:  &mysql.MySQLError{Number: 1045, Message: "Access denied for user"},
			want: persondir.ErrBackendUnavailable,
		},
		{
			name: "unknown_database_is_unavailable",
			err:  &mysql.MySQLError{Number: 1049, Message: "Unknown database 'directory'"},
			want: persondir.ErrBackendUnavailable,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.ErrorIs(t, HandleSQLError(test.err), test.want)
		})
	}

	t.Run("other_errors_pass_through_wrapped", func(t *testing.T) {
		cause := errors.New("driver: bad connection")
		err := HandleSQLError(cause)
		require.ErrorIs(t, err, cause)
		require.NotErrorIs(t, err, persondir.ErrNotFound)
	})
}

func TestNewWithDB(t *testing.T) {
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectPing()
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
	require.Equal(t, "jdoe@example.edu", person.AttributeValue("email"))
	require.NoError(t, mock.ExpectationsWereMet())
}
