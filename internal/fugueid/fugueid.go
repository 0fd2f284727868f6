// Package fugueid defines the 128-bit opaque identifier type shared by
// sessions, windows, panes, clients, and requests.
package fugueid

import "github.com/google/uuid"

// ID is an opaque 128-bit identifier, unique process-wide and stable
// across restarts (it is persisted verbatim in checkpoints and WAL
// records, never regenerated on recovery).
type ID string

// New generates a fresh random ID.
func New() ID {
	return ID(uuid.New().String())
}

// Empty reports whether id is the zero value.
func (id ID) Empty() bool {
	return id == ""
}

func (id ID) String() string {
	return string(id)
}

// Parse validates that s looks like a UUID and returns it as an ID.
// fugue's wire format never constructs IDs client-side, so this exists
// mainly to reject malformed identifiers from request payloads.
func Parse(s string) (ID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return ID(s), nil
}
