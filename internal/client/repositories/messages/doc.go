// Package messages persists chat messages in the local SQLite store.
//
// # Identity
//
// Every message has exactly one row keyed by its client_id (UNIQUE). The
// integer handle is the local row id returned by Put and used by Update and
// BulkDelete. The server id is filled in once the backend confirms the row.
//
// # Pending
//
// A row is inserted pending=1 when the user sends, and flips to 0 exactly
// once through Confirm. MergeRemote never touches a pending row.
//
// # Ordering
//
// Timestamps are stored in models.TimeLayout, so ORDER BY created_at and
// string comparison of updated_at follow time order.
package messages
