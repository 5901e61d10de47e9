package audit

import (
	"context"
	"time"
)

// Event is emitted from defense-layer logic to capture security-relevant actions.
// Keep it transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp time.Time
	Subject   string // identifier the event is about (IP, email, user ID)
	UserID    string
	Action    string
	Decision  string
	Reason    string
	RequestID string
	Metadata  map[string]string
}

// Publisher emits audit events. Implementations decide transport and durability;
// the defense layer only supplies structured facts.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}
