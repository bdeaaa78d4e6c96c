package ragcore

import "github.com/google/uuid"

// NewID returns a UUIDv7 string. IDs sort by creation time, which keeps
// message, document, and chunk rows in insertion order on the primary key.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// newCallID names a tool call the model did not give an id to, as in XML
// mode where calls are parsed from text.
func newCallID() string {
	return "call_" + NewID()
}
