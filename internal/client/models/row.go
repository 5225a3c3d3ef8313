package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/common"
)

// Row is a loosely typed backend row as decoded from JSON.
type Row map[string]any

// String returns the value of key rendered as a string. Numbers are
// formatted without exponent; missing and null values yield "".
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Time parses the timestamp stored under key.
func (r Row) Time(key string) (time.Time, error) {
	t, err := ParseTime(r.String(key))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", common.ErrValidation, key, err)
	}
	return t, nil
}

// Nested returns the object stored under key, or nil.
func (r Row) Nested(key string) Row {
	switch v := r[key].(type) {
	case map[string]any:
		return Row(v)
	case Row:
		return v
	}
	return nil
}

type messageRow struct {
	ClientID  string    `validate:"required"`
	UserID    string    `validate:"required"`
	CreatedAt time.Time `validate:"required"`
}

// CoerceMessage converts a backend chat_messages row into a Message. Rows
// without client_id, user_id or created_at are rejected with
// common.ErrValidation. The author e-mail is taken from the joined
// profiles object when present.
func CoerceMessage(r Row) (*Message, error) {
	created, err := r.Time("created_at")
	if err != nil {
		return nil, err
	}
	updated, err := r.Time("updated_at")
	if err != nil {
		return nil, err
	}

	if err := validateStruct(messageRow{
		ClientID:  r.String("client_id"),
		UserID:    r.String("user_id"),
		CreatedAt: created,
	}); err != nil {
		return nil, err
	}

	email := r.String("author_email")
	if p := r.Nested("profiles"); p != nil && p.String("email") != "" {
		email = p.String("email")
	}

	return &Message{
		ServerID:    r.String("id"),
		ClientID:    r.String("client_id"),
		UserID:      r.String("user_id"),
		Message:     r.String("message"),
		AuthorEmail: email,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

// Row renders m in the backend row shape. Pending messages carry no
// updated_at.
func (m *Message) Row() Row {
	r := Row{
		"client_id":    m.ClientID,
		"user_id":      m.UserID,
		"message":      m.Message,
		"created_at":   FormatTime(m.CreatedAt),
		"author_email": m.AuthorEmail,
	}
	if m.ServerID != "" {
		r["id"] = m.ServerID
	}
	if !m.UpdatedAt.IsZero() {
		r["updated_at"] = FormatTime(m.UpdatedAt)
	}
	return r
}
