package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/common"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE messages (
  handle       INTEGER PRIMARY KEY AUTOINCREMENT,
  client_id    TEXT NOT NULL UNIQUE,
  server_id    TEXT NOT NULL DEFAULT '',
  user_id      TEXT NOT NULL,
  message      TEXT NOT NULL,
  author_email TEXT NOT NULL DEFAULT '',
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL DEFAULT '',
  pending      INTEGER NOT NULL DEFAULT 1
);`)
	require.NoError(t, err)
	return db
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func pending(clientID string, created time.Time) *models.Message {
	return &models.Message{ClientID: clientID, UserID: "u1", Message: "hi " + clientID, CreatedAt: created, Pending: true}
}

func confirmed(clientID string, created, updated time.Time) *models.Message {
	return &models.Message{ServerID: "s-" + clientID, ClientID: clientID, UserID: "u1", Message: "hi " + clientID, CreatedAt: created, UpdatedAt: updated}
}

func TestPut_AssignsHandle_AndRejectsDuplicateClientID(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	m := pending("c1", t0)
	h, err := r.Put(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, h, m.Handle)

	_, err = r.Put(ctx, pending("c1", t0))
	require.ErrorIs(t, err, common.ErrStorage)

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetByHandle_RoundTrip(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	in := confirmed("c1", t0, t0.Add(time.Second))
	in.AuthorEmail = "a@b.c"
	h, err := r.Put(ctx, in)
	require.NoError(t, err)

	got, err := r.GetByHandle(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	_, err = r.GetByHandle(ctx, 999)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = r.GetByClientID(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	h, err := r.Put(ctx, pending("c1", t0))
	require.NoError(t, err)

	sid, no, upd := "s-9", false, t0.Add(time.Minute)
	require.NoError(t, r.Update(ctx, h, Fields{ServerID: &sid, Pending: &no, UpdatedAt: &upd}))

	got, err := r.GetByHandle(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "s-9", got.ServerID)
	assert.False(t, got.Pending)
	assert.True(t, got.UpdatedAt.Equal(upd))
	assert.Equal(t, "hi c1", got.Message)

	assert.ErrorIs(t, r.Update(ctx, 999, Fields{Pending: &no}), common.ErrNotFound)
	assert.ErrorIs(t, r.Update(ctx, 999, Fields{}), common.ErrNotFound)
	assert.NoError(t, r.Update(ctx, h, Fields{}))
}

func TestQueryByIndex(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Put(ctx, pending("c1", t0))
	require.NoError(t, err)
	_, err = r.Put(ctx, confirmed("c2", t0.Add(time.Second), t0.Add(time.Second)))
	require.NoError(t, err)
	other := pending("c3", t0.Add(2*time.Second))
	other.UserID = "u2"
	_, err = r.Put(ctx, other)
	require.NoError(t, err)

	byUser, err := r.QueryByIndex(ctx, ByUserID, "u1")
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byPending, err := r.QueryByIndex(ctx, ByPending, true)
	require.NoError(t, err)
	require.Len(t, byPending, 2)
	assert.Equal(t, "c1", byPending[0].ClientID)
	assert.Equal(t, "c3", byPending[1].ClientID)

	byCreated, err := r.QueryByIndex(ctx, ByCreatedAt, t0.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, byCreated, 1)
	assert.Equal(t, "c2", byCreated[0].ClientID)

	_, err = r.QueryByIndex(ctx, Index("message; DROP TABLE messages"), "x")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestGetAllPending_CreationOrder(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	for _, m := range []*models.Message{
		pending("late", t0.Add(time.Hour)),
		confirmed("done", t0, t0),
		pending("early", t0.Add(time.Minute)),
	} {
		_, err := r.Put(ctx, m)
		require.NoError(t, err)
	}

	got, err := r.GetAllPending(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].ClientID)
	assert.Equal(t, "late", got[1].ClientID)
}

func TestBulkDelete_IgnoresMissing(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	h1, err := r.Put(ctx, pending("c1", t0))
	require.NoError(t, err)
	h2, err := r.Put(ctx, pending("c2", t0))
	require.NoError(t, err)

	n, err := r.BulkDelete(ctx, []int64{h1, 12345})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = r.BulkDelete(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, h2, all[0].Handle)
}

func TestBulkDelete_LargeSetChunked(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	var handles []int64
	for i := 0; i < 2*deleteChunk+7; i++ {
		h, err := r.Put(ctx, pending(fmt.Sprintf("c%d", i), t0))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	keep, err := r.Put(ctx, pending("keep", t0))
	require.NoError(t, err)

	n, err := r.BulkDelete(ctx, handles)
	require.NoError(t, err)
	assert.EqualValues(t, len(handles), n)

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep, all[0].Handle)
}

func TestBulkDelete_ChunksShareOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	handles := make([]int64, deleteChunk+1)
	for i := range handles {
		handles[i] = int64(i + 1)
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM messages WHERE handle IN`).WillReturnResult(sqlmock.NewResult(0, deleteChunk))
	mock.ExpectExec(`DELETE FROM messages WHERE handle IN`).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = NewSQLiteRepository(db).BulkDelete(context.Background(), handles)
	assert.ErrorIs(t, err, common.ErrStorage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_FlipsOnce(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Put(ctx, pending("c1", t0))
	require.NoError(t, err)

	server := confirmed("c1", t0, t0.Add(time.Second))
	server.AuthorEmail = "me@x.y"

	ok, err := r.Confirm(ctx, "c1", server)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Confirm(ctx, "c1", server)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetByClientID(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, got.Pending)
	assert.Equal(t, "s-c1", got.ServerID)
	assert.Equal(t, "me@x.y", got.AuthorEmail)
}

func TestMergeRemote(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	res, err := r.MergeRemote(ctx, confirmed("c1", t0, t0.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, Inserted, res)

	// equal watermark is a no-op
	same := confirmed("c1", t0, t0.Add(time.Second))
	same.Message = "changed"
	res, err = r.MergeRemote(ctx, same)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res)

	older := confirmed("c1", t0, t0)
	older.Message = "older"
	res, err = r.MergeRemote(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res)

	newer := confirmed("c1", t0, t0.Add(time.Minute))
	newer.Message = "edited"
	res, err = r.MergeRemote(ctx, newer)
	require.NoError(t, err)
	assert.Equal(t, Updated, res)

	got, err := r.GetByClientID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Message)

	_, err = r.Put(ctx, pending("p1", t0))
	require.NoError(t, err)
	res, err = r.MergeRemote(ctx, confirmed("p1", t0, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, SkippedPending, res)

	p, err := r.GetByClientID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Pending)
	assert.Empty(t, p.ServerID)
}

func TestMergeRemote_OrderIndependent(t *testing.T) {
	a := confirmed("c1", t0, t0.Add(time.Second))
	a.Message = "first"
	b := confirmed("c1", t0, t0.Add(2*time.Second))
	b.Message = "second"

	final := func(order ...*models.Message) *models.Message {
		r := NewSQLiteRepository(setupDB(t))
		for _, m := range order {
			_, err := r.MergeRemote(context.Background(), m)
			require.NoError(t, err)
		}
		got, err := r.GetByClientID(context.Background(), "c1")
		require.NoError(t, err)
		got.Handle = 0
		return got
	}

	assert.Equal(t, final(a, b), final(b, a))
	assert.Equal(t, final(a, b), final(a, b, b, a))
}

func TestListConfirmed_ListCreatedBefore_DeleteByServerID(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	hOld, err := r.Put(ctx, confirmed("old", t0, t0))
	require.NoError(t, err)
	_, err = r.Put(ctx, confirmed("new", t0.Add(48*time.Hour), t0))
	require.NoError(t, err)
	_, err = r.Put(ctx, pending("p", t0.Add(-time.Hour)))
	require.NoError(t, err)

	conf, err := r.ListConfirmed(ctx)
	require.NoError(t, err)
	assert.Len(t, conf, 2)
	assert.Equal(t, hOld, conf["old"])

	old, err := r.ListCreatedBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{hOld}, old)

	ok, err := r.DeleteByServerID(ctx, "s-new")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.DeleteByServerID(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Clear(ctx))
	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
