// Package services contains the application services used by the client
// shell: authentication with a persisted session, and a chat facade over
// the reconciliation engine, the reachability monitor and the query layer.
package services
