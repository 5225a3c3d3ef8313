// Package cli provides the interactive client shell.
//
// It wires configuration, the local store, the reachability monitor, the
// reconciliation engine and the query layer behind a small REPL. Typical
// flow: restore the saved session (or prompt for credentials), start the
// background monitor and sync loop, then execute user commands until exit.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
