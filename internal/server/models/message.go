package models

import "time"

// ChatMessage is a stored chat row. ClientID is unique and makes inserts
// idempotent.
type ChatMessage struct {
	ID          int64     `json:"id"`
	ClientID    string    `json:"client_id"`
	UserID      string    `json:"user_id"`
	Message     string    `json:"message"`
	AuthorEmail string    `json:"author_email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SendParams are the arguments of the send_chat_message procedure.
type SendParams struct {
	UserID    string    `json:"p_user_id" validate:"required,uuid"`
	Message   string    `json:"p_message" validate:"required,max=4000"`
	CreatedAt time.Time `json:"p_created_at" validate:"required"`
	ClientID  string    `json:"p_client_id" validate:"required,uuid"`
}

// ChangeEvent is one entry of the realtime feed.
type ChangeEvent struct {
	Type            string    `json:"type"`
	Table           string    `json:"table"`
	Record          any       `json:"record,omitempty"`
	OldRecord       any       `json:"old_record,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
}

// Change event types.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)
