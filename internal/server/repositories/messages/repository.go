// Package messages stores chat messages for the reference server.
package messages

import (
	"context"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/server/models"
)

type Repository interface {
	// Insert stores p unless a row with the same client id exists, in which
	// case that row is returned with created set to false.
	Insert(ctx context.Context, p models.SendParams) (msg *models.ChatMessage, created bool, err error)

	// Since lists rows with updated_at after since, oldest first. A nil
	// since lists everything.
	Since(ctx context.Context, since *time.Time) ([]*models.ChatMessage, error)

	GetByClientID(ctx context.Context, clientID string) (*models.ChatMessage, error)
	GetByCreatedAt(ctx context.Context, userID string, createdAt time.Time) (*models.ChatMessage, error)

	// Delete removes the owner's row and returns it.
	Delete(ctx context.Context, userID, clientID string) (*models.ChatMessage, error)
}
