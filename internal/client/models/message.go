package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a chat message as persisted in the local store.
//
// The store is keyed logically by ClientID; Handle is the local row id and
// ServerID is known only after the first confirmed send or pull.
type Message struct {
	Handle      int64
	ServerID    string
	ClientID    string
	UserID      string
	Message     string
	AuthorEmail string
	// CreatedAt is assigned by the client at creation and never changes.
	CreatedAt time.Time
	// UpdatedAt is the server watermark; zero while never confirmed.
	UpdatedAt time.Time
	// Pending is true until the server confirms the write.
	Pending bool
}

// NewClientID returns a fresh client identifier.
func NewClientID() string {
	return uuid.NewString()
}

// SendParams are the arguments of the idempotent remote insert.
type SendParams struct {
	UserID    string    `validate:"required"`
	Message   string    `validate:"required,max=4000"`
	CreatedAt time.Time `validate:"required"`
	ClientID  string    `validate:"required,uuid"`
}

// Validate reports malformed parameters as common.ErrValidation.
func (p SendParams) Validate() error {
	return validateStruct(p)
}

// SendParams returns the remote insert arguments for m.
func (m *Message) SendParams() SendParams {
	return SendParams{
		UserID:    m.UserID,
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
		ClientID:  m.ClientID,
	}
}

// NewerThan reports whether m carries a strictly later server watermark
// than other. Equal watermarks are not newer, so re-applying is a no-op.
func (m *Message) NewerThan(other *Message) bool {
	return m.UpdatedAt.After(other.UpdatedAt)
}
