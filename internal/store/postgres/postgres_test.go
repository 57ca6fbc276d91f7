package postgres

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocturneauth/authengine/internal/store"
)

func TestNew_FindFirst_RendersDollarPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "role"}).AddRow("sub-1", "admin")
	mock.ExpectQuery(`select \* from subjects where id = \$1 limit 1`).
		WithArgs("sub-1").
		WillReturnRows(rows)

	port := New(db)
	rec, ok, err := port.FindFirst(context.Background(), "subjects", store.Query{Where: store.Eq("id", "sub-1")})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "admin", rec["role"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_FindFirst_NoRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`select \* from subjects where id = \$1 limit 1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	port := New(db)
	_, ok, err := port.FindFirst(context.Background(), "subjects", store.Query{Where: store.Eq("id", "missing")})
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_Count_RendersWhereClause(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`select count\(\*\) from subjects where role = \$1`).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	port := New(db)
	n, err := port.Count(context.Background(), "subjects", store.Query{Where: store.Eq("role", "admin")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_UpdateMany_ReturnsAffectedRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`update subjects set is_banned = \$1 where id = \$2`).
		WithArgs(true, "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	port := New(db)
	n, err := port.UpdateMany(context.Background(), "subjects", store.Query{Where: store.Eq("id", "sub-1")}, store.Record{"is_banned": true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
