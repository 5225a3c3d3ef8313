package models

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one entry of the realtime change feed.
type ChangeEvent struct {
	Type            EventType `json:"type"`
	Resource        Resource  `json:"table"`
	Row             Row       `json:"record,omitempty"`
	Old             Row       `json:"old_record,omitempty"`
	CommitTimestamp string    `json:"commit_timestamp"`
}

// DedupKey identifies an event for duplicate suppression: the event type,
// the row's client_id (or id when absent) and the commit timestamp.
func (e ChangeEvent) DedupKey() string {
	r := e.Row
	if e.Type == EventDelete || r == nil {
		r = e.Old
	}
	id := r.String("client_id")
	if id == "" {
		id = r.String("id")
	}
	return fmt.Sprintf("%s:%s:%s", e.Type, id, e.CommitTimestamp)
}

// Committed returns the parsed commit timestamp, or the zero time.
func (e ChangeEvent) Committed() time.Time {
	t, _ := ParseTime(e.CommitTimestamp)
	return t
}
