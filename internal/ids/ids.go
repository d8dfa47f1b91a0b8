package ids

import (
	"github.com/google/uuid"
)

const (
	// EventPrefix is the prefix for notification event IDs.
	EventPrefix = "evt-"
)

// NewEventID generates a new notification event ID using UUIDv7.
// Format: evt-<uuidv7>
// UUIDv7 is time-ordered, so event IDs sort by emission time in logs.
func NewEventID() string {
	return EventPrefix + uuid.Must(uuid.NewV7()).String()
}

// IsValidEventID checks if a string is a valid event ID.
func IsValidEventID(id string) bool {
	if len(id) < len(EventPrefix) {
		return false
	}
	if id[:len(EventPrefix)] != EventPrefix {
		return false
	}
	_, err := uuid.Parse(id[len(EventPrefix):])
	return err == nil
}
