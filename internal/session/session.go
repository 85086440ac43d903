// Package session implements the ephemeral handoff store. A writer stores a
// JSON payload under a freshly generated opaque id; a later reader fetches it
// by that id until the TTL lapses or, in single-use mode, until the first
// successful read consumes it. Storage is delegated to a Backend that is
// either Redis or an in-process map, chosen once at startup.
package session
