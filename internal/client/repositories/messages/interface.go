package messages

import (
	"context"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
)

// Repository is the chat message table of the local store.
type Repository interface {
	// Put inserts m and returns its handle. A second row with the same
	// client_id fails with common.ErrStorage.
	Put(ctx context.Context, m *models.Message) (int64, error)

	// Update applies the non-nil fields to the row with the given handle.
	Update(ctx context.Context, handle int64, f Fields) error

	GetAll(ctx context.Context) ([]*models.Message, error)
	GetByHandle(ctx context.Context, handle int64) (*models.Message, error)
	GetByClientID(ctx context.Context, clientID string) (*models.Message, error)

	// QueryByIndex returns rows whose indexed column equals value.
	QueryByIndex(ctx context.Context, idx Index, value any) ([]*models.Message, error)

	// GetAllPending returns pending rows in creation order.
	GetAllPending(ctx context.Context) ([]*models.Message, error)

	// BulkDelete removes the given handles in one statement. Handles that do
	// not exist are ignored. It returns the number of rows removed.
	BulkDelete(ctx context.Context, handles []int64) (int64, error)

	// Confirm flips a pending row to confirmed and stores the server fields.
	// It reports false when no pending row with clientID exists.
	Confirm(ctx context.Context, clientID string, server *models.Message) (bool, error)

	// MergeRemote applies a server row: inserted when absent, ignored when
	// the local row is pending, otherwise last-writer-wins on updated_at.
	MergeRemote(ctx context.Context, m *models.Message) (MergeResult, error)

	// ListConfirmed returns handle by client_id for every non-pending row.
	ListConfirmed(ctx context.Context) (map[string]int64, error)

	// ListCreatedBefore returns handles of non-pending rows created before t.
	ListCreatedBefore(ctx context.Context, t time.Time) ([]int64, error)

	// DeleteByServerID removes the non-pending row carrying serverID.
	DeleteByServerID(ctx context.Context, serverID string) (bool, error)

	Clear(ctx context.Context) error
}

// Fields is a partial update. Nil fields are left unchanged.
type Fields struct {
	ServerID    *string
	Message     *string
	AuthorEmail *string
	UpdatedAt   *time.Time
	Pending     *bool
}

// Index names a column that QueryByIndex may filter on.
type Index string

const (
	ByUserID    Index = "user_id"
	ByClientID  Index = "client_id"
	ByServerID  Index = "server_id"
	ByPending   Index = "pending"
	ByCreatedAt Index = "created_at"
)

type MergeResult int

const (
	Unchanged MergeResult = iota
	Inserted
	Updated
	SkippedPending
)

func (r MergeResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case SkippedPending:
		return "skipped-pending"
	default:
		return "unchanged"
	}
}
