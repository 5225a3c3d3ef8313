package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/dbx"
	"github.com/dmitrijs2005/balancesync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectMessage = `
	SELECT m.id, m.client_id, m.user_id, m.message, m.created_at, m.updated_at, u.email
	FROM chat_messages m
	JOIN users u ON u.id = m.user_id
`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*models.ChatMessage, error) {
	m := &models.ChatMessage{}
	if err := s.Scan(&m.ID, &m.ClientID, &m.UserID, &m.Message, &m.CreatedAt, &m.UpdatedAt, &m.AuthorEmail); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *PostgresRepository) one(ctx context.Context, where string, args ...any) (*models.ChatMessage, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, selectMessage+"WHERE "+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, p models.SendParams) (*models.ChatMessage, bool, error) {
	query := `
		INSERT INTO chat_messages (client_id, user_id, message, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id) DO NOTHING
		RETURNING id, updated_at
	`
	m := &models.ChatMessage{ClientID: p.ClientID, UserID: p.UserID, Message: p.Message, CreatedAt: p.CreatedAt}
	err := r.db.QueryRowContext(ctx, query, p.ClientID, p.UserID, p.Message, p.CreatedAt).Scan(&m.ID, &m.UpdatedAt)
	switch {
	case err == nil:
		return m, true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, err := r.GetByClientID(ctx, p.ClientID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("db error: %w", err)
	}
}

func (r *PostgresRepository) Since(ctx context.Context, since *time.Time) ([]*models.ChatMessage, error) {
	var arg any
	if since != nil {
		arg = *since
	}
	rows, err := r.db.QueryContext(ctx,
		selectMessage+"WHERE ($1::timestamptz IS NULL OR m.updated_at > $1) ORDER BY m.updated_at, m.id", arg)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetByClientID(ctx context.Context, clientID string) (*models.ChatMessage, error) {
	return r.one(ctx, "m.client_id = $1", clientID)
}

func (r *PostgresRepository) GetByCreatedAt(ctx context.Context, userID string, createdAt time.Time) (*models.ChatMessage, error) {
	return r.one(ctx, "m.user_id = $1 AND m.created_at = $2", userID, createdAt)
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, clientID string) (*models.ChatMessage, error) {
	m, err := r.one(ctx, "m.client_id = $1 AND m.user_id = $2", clientID, userID)
	if err != nil {
		return nil, err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE client_id = $1`, clientID); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}
