package models

import "time"

// RefreshToken is an opaque token exchanged for a new session until Expires.
type RefreshToken struct {
	UserID  string
	Token   string
	Expires time.Time
}
