// Package entity manages tracked entities: a whole tailnet or a single
// device, each paired with the Tailscale credentials its poller uses.
//
// Entities are persisted in SQLite through SQLiteRepository. Runtime
// state (availability and capability values) lives in the Registry, which
// the pollers write to and the HTTP API reads from. When a StatePublisher
// is set the Registry mirrors each change to the retained topic
// tailnetmon/entity/{id}/state.
//
// The API key is never serialised to JSON.
package entity
