package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/dbx"
)

const columns = `handle, client_id, server_id, user_id, message, author_email, created_at, updated_at, pending`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrStorage, op, err)
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*models.Message, error) {
	var (
		m                models.Message
		created, updated string
		pending          int
	)
	if err := s.Scan(&m.Handle, &m.ClientID, &m.ServerID, &m.UserID, &m.Message, &m.AuthorEmail, &created, &updated, &pending); err != nil {
		return nil, err
	}
	var err error
	if m.CreatedAt, err = models.ParseTime(created); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = models.ParseTime(updated); err != nil {
		return nil, err
	}
	m.Pending = pending != 0
	return &m, nil
}

func (r *SQLiteRepository) list(ctx context.Context, op, query string, args ...any) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	result := []*models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return result, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *SQLiteRepository) Put(ctx context.Context, m *models.Message) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (client_id, server_id, user_id, message, author_email, created_at, updated_at, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ClientID, m.ServerID, m.UserID, m.Message, m.AuthorEmail,
		models.FormatTime(m.CreatedAt), models.FormatTime(m.UpdatedAt), boolInt(m.Pending))
	if err != nil {
		if isConstraint(err) {
			return 0, fmt.Errorf("%w: message %s already stored: %w", common.ErrStorage, m.ClientID, err)
		}
		return 0, storageErr("put message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("put message", err)
	}
	m.Handle = id
	return id, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, handle int64, f Fields) error {
	var (
		sets []string
		args []any
	)
	if f.ServerID != nil {
		sets, args = append(sets, "server_id = ?"), append(args, *f.ServerID)
	}
	if f.Message != nil {
		sets, args = append(sets, "message = ?"), append(args, *f.Message)
	}
	if f.AuthorEmail != nil {
		sets, args = append(sets, "author_email = ?"), append(args, *f.AuthorEmail)
	}
	if f.UpdatedAt != nil {
		sets, args = append(sets, "updated_at = ?"), append(args, models.FormatTime(*f.UpdatedAt))
	}
	if f.Pending != nil {
		sets, args = append(sets, "pending = ?"), append(args, boolInt(*f.Pending))
	}
	if len(sets) == 0 {
		_, err := r.GetByHandle(ctx, handle)
		return err
	}

	args = append(args, handle)
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET `+strings.Join(sets, ", ")+` WHERE handle = ?`, args...)
	if err != nil {
		return storageErr("update message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update message", err)
	}
	if n == 0 {
		return fmt.Errorf("update message %d: %w", handle, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]*models.Message, error) {
	return r.list(ctx, "list messages", `SELECT `+columns+` FROM messages ORDER BY created_at, handle`)
}

func (r *SQLiteRepository) get(ctx context.Context, where string, arg any) (*models.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM messages WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get message", err)
	}
	return m, nil
}

func (r *SQLiteRepository) GetByHandle(ctx context.Context, handle int64) (*models.Message, error) {
	return r.get(ctx, "handle = ?", handle)
}

func (r *SQLiteRepository) GetByClientID(ctx context.Context, clientID string) (*models.Message, error) {
	return r.get(ctx, "client_id = ?", clientID)
}

func (r *SQLiteRepository) QueryByIndex(ctx context.Context, idx Index, value any) ([]*models.Message, error) {
	switch idx {
	case ByUserID, ByClientID, ByServerID:
	case ByPending:
		if b, ok := value.(bool); ok {
			value = boolInt(b)
		}
	case ByCreatedAt:
		if t, ok := value.(time.Time); ok {
			value = models.FormatTime(t)
		}
	default:
		return nil, fmt.Errorf("%w: unknown index %q", common.ErrValidation, idx)
	}
	return r.list(ctx, "query messages",
		`SELECT `+columns+` FROM messages WHERE `+string(idx)+` = ? ORDER BY created_at, handle`, value)
}

func (r *SQLiteRepository) GetAllPending(ctx context.Context) ([]*models.Message, error) {
	return r.list(ctx, "list pending", `SELECT `+columns+` FROM messages WHERE pending = 1 ORDER BY created_at, handle`)
}

// deleteChunk bounds the IN list of one DELETE below SQLite's host
// parameter limit.
const deleteChunk = 500

// BulkDelete removes the rows with the given handles in one transaction.
// Missing handles are ignored.
func (r *SQLiteRepository) BulkDelete(ctx context.Context, handles []int64) (int64, error) {
	if len(handles) == 0 {
		return 0, nil
	}
	db, ok := r.db.(*sql.DB)
	if !ok || len(handles) <= deleteChunk {
		return deleteHandles(ctx, r.db, handles)
	}
	var n int64
	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = deleteHandles(ctx, tx, handles)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func deleteHandles(ctx context.Context, db dbx.DBTX, handles []int64) (int64, error) {
	var total int64
	for start := 0; start < len(handles); start += deleteChunk {
		chunk := handles[start:min(start+deleteChunk, len(handles))]
		args := make([]any, len(chunk))
		for i, h := range chunk {
			args[i] = h
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		res, err := db.ExecContext(ctx, `DELETE FROM messages WHERE handle IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, storageErr("bulk delete", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storageErr("bulk delete", err)
		}
		total += n
	}
	return total, nil
}

func (r *SQLiteRepository) Confirm(ctx context.Context, clientID string, server *models.Message) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET pending = 0,
		    server_id = ?,
		    updated_at = ?,
		    author_email = CASE WHEN ? <> '' THEN ? ELSE author_email END
		WHERE client_id = ? AND pending = 1`,
		server.ServerID, models.FormatTime(server.UpdatedAt),
		server.AuthorEmail, server.AuthorEmail, clientID)
	if err != nil {
		return false, storageErr("confirm message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("confirm message", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) MergeRemote(ctx context.Context, m *models.Message) (MergeResult, error) {
	local, err := r.GetByClientID(ctx, m.ClientID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		remote := *m
		remote.Pending = false
		if _, err := r.Put(ctx, &remote); err != nil {
			return Unchanged, err
		}
		return Inserted, nil
	case err != nil:
		return Unchanged, err
	case local.Pending:
		return SkippedPending, nil
	case !m.NewerThan(local):
		return Unchanged, nil
	}

	// The WHERE guard keeps the write conditional even if another writer
	// got in between the read and this statement.
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET server_id = ?, message = ?, author_email = ?, updated_at = ?
		WHERE client_id = ? AND pending = 0 AND updated_at < ?`,
		m.ServerID, m.Message, m.AuthorEmail, models.FormatTime(m.UpdatedAt),
		m.ClientID, models.FormatTime(m.UpdatedAt))
	if err != nil {
		return Unchanged, storageErr("merge message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Unchanged, storageErr("merge message", err)
	}
	if n == 0 {
		return Unchanged, nil
	}
	return Updated, nil
}

func (r *SQLiteRepository) ListConfirmed(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT client_id, handle FROM messages WHERE pending = 0`)
	if err != nil {
		return nil, storageErr("list confirmed", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var clientID string
		var handle int64
		if err := rows.Scan(&clientID, &handle); err != nil {
			return nil, storageErr("list confirmed", err)
		}
		result[clientID] = handle
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list confirmed", err)
	}
	return result, nil
}

func (r *SQLiteRepository) ListCreatedBefore(ctx context.Context, t time.Time) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT handle FROM messages WHERE pending = 0 AND created_at < ? ORDER BY created_at`, models.FormatTime(t))
	if err != nil {
		return nil, storageErr("list old messages", err)
	}
	defer rows.Close()

	var handles []int64
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, storageErr("list old messages", err)
		}
		handles = append(handles, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list old messages", err)
	}
	return handles, nil
}

func (r *SQLiteRepository) DeleteByServerID(ctx context.Context, serverID string) (bool, error) {
	if serverID == "" {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE server_id = ? AND pending = 0`, serverID)
	if err != nil {
		return false, storageErr("delete message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("delete message", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return storageErr("clear messages", err)
	}
	return nil
}
