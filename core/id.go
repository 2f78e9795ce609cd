package core

import "github.com/google/uuid"

// NewID generates a new unique identifier.
//
// Identifiers are random UUIDv4 values rendered as strings. They are used for
// Threads (when the caller does not supply one), Runs, Messages and ToolCalls.
func NewID() string { return uuid.NewString() }
