package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a compact random identifier for sessions and peers.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewSessionID returns a prefixed session identifier.
func NewSessionID() string {
	return "session_" + NewID()[:12]
}
