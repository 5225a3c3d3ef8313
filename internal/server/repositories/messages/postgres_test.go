package messages

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

var cols = []string{"id", "client_id", "user_id", "message", "created_at", "updated_at", "email"}

const (
	insertQ  = `(?s)INSERT\s+INTO\s+chat_messages.*ON\s+CONFLICT\s+\(client_id\)\s+DO\s+NOTHING\s+RETURNING\s+id,\s*updated_at`
	byClient = `(?s)SELECT\s+m\.id.*FROM\s+chat_messages\s+m\s+JOIN\s+users\s+u.*WHERE\s+m\.client_id\s*=\s*\$1$`
)

func params() models.SendParams {
	return models.SendParams{
		UserID:    "11111111-1111-1111-1111-111111111111",
		Message:   "hi",
		CreatedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		ClientID:  "22222222-2222-2222-2222-222222222222",
	}
}

func TestInsert_Created(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	p := params()
	updated := time.Date(2024, 1, 1, 10, 0, 1, 0, time.UTC)

	mock.ExpectQuery(insertQ).
		WithArgs(p.ClientID, p.UserID, p.Message, p.CreatedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id", "updated_at"}).AddRow(int64(7), updated))

	m, created, err := repo.Insert(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.EqualValues(t, 7, m.ID)
	assert.Equal(t, updated, m.UpdatedAt)
	assert.Equal(t, p.ClientID, m.ClientID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_ExistingRowReturned(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	p := params()

	mock.ExpectQuery(insertQ).
		WithArgs(p.ClientID, p.UserID, p.Message, p.CreatedAt).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(byClient).
		WithArgs(p.ClientID).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(3), p.ClientID, p.UserID, "hi", p.CreatedAt, p.CreatedAt, "a@b.c"))

	m, created, err := repo.Insert(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.EqualValues(t, 3, m.ID)
	assert.Equal(t, "a@b.c", m.AuthorEmail)
}

func TestInsert_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(insertQ).WillReturnError(errors.New("db down"))

	_, _, err := repo.Insert(context.Background(), params())
	require.ErrorContains(t, err, "db error: db down")
}

func TestSince(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := since.Add(time.Hour)

	q := `(?s)WHERE\s+\(\$1::timestamptz\s+IS\s+NULL\s+OR\s+m\.updated_at\s*>\s*\$1\)\s+ORDER\s+BY\s+m\.updated_at,\s*m\.id$`
	mock.ExpectQuery(q).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "c1", "u1", "one", ts, ts, "a@b.c").
			AddRow(int64(2), "c2", "u1", "two", ts, ts.Add(time.Second), "a@b.c"))

	got, err := repo.Since(context.Background(), &since)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[1].ClientID)

	mock.ExpectQuery(q).WithArgs(nil).WillReturnRows(sqlmock.NewRows(cols))
	got, err = repo.Since(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetByClientID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(byClient).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByClientID(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetByCreatedAt(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	p := params()

	mock.ExpectQuery(`(?s)WHERE\s+m\.user_id\s*=\s*\$1\s+AND\s+m\.created_at\s*=\s*\$2$`).
		WithArgs(p.UserID, p.CreatedAt).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(5), p.ClientID, p.UserID, "hi", p.CreatedAt, p.CreatedAt, "a@b.c"))

	m, err := repo.GetByCreatedAt(context.Background(), p.UserID, p.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, p.ClientID, m.ClientID)
}

func TestDelete(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	p := params()

	mock.ExpectQuery(`(?s)WHERE\s+m\.client_id\s*=\s*\$1\s+AND\s+m\.user_id\s*=\s*\$2$`).
		WithArgs(p.ClientID, p.UserID).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(5), p.ClientID, p.UserID, "hi", p.CreatedAt, p.CreatedAt, "a@b.c"))
	mock.ExpectExec(`DELETE\s+FROM\s+chat_messages\s+WHERE\s+client_id\s*=\s*\$1`).
		WithArgs(p.ClientID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m, err := repo.Delete(context.Background(), p.UserID, p.ClientID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, m.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
