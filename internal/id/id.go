// Package id mints the process-wide unique 128-bit identifiers used for
// sessions, windows, panes, and clients.
package id

import (
	"github.com/google/uuid"
)

// ID is a 128-bit identifier usable as a routing target.
type ID uuid.UUID

// Nil is the zero identifier, never assigned by New.
var Nil ID

// New mints a fresh random identifier.
func New() ID {
	return ID(uuid.New())
}

// String renders the canonical hyphenated form.
func (i ID) String() string {
	return uuid.UUID(i).String()
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool {
	return i == Nil
}

// Parse parses a canonical identifier string. It is the hook used by
// name-or-id resolution (spec §4.5): callers try Parse first and fall back
// to name lookup on error.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return ID(u), nil
}

// MarshalText implements encoding.TextMarshaler so IDs serialize cleanly in
// both the wire codec (gob) and YAML/JSON config surfaces.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
