// Package webhook validates and normalizes inbound provider payloads.
// Each provider has a signature scheme and a payload shape; the output is
// one normalized Event consumed by command matching and flow correlation.
package webhook

import (
	"time"

	"github.com/nextlevelbuilder/hookrelay/internal/command"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

// Event is a normalized inbound webhook event. Created per delivery,
// immutable, discarded after matching.
type Event struct {
	Provider   store.Provider
	EventType  string
	ExternalID string // stable per-provider correlation key, e.g. "jira:PROJ-123"
	MessageID  string // message/comment ID, used by loop prevention
	Text       string // flattened free text
	Actor      command.Actor
	UserID     string
	Routing    store.RoutingMetadata
	ReceivedAt time.Time

	// ImplicitCommand bypasses the trigger grammar for providers whose
	// events carry no user text, e.g. error-monitor alerts mapping
	// straight to the fix agent. Loop prevention still applies.
	ImplicitCommand string

	Raw []byte
}

// Normalizer turns one provider's raw payload into a normalized Event.
// A nil event with nil error means the delivery is irrelevant (wrong
// event type, no text) and is acknowledged without matching.
type Normalizer interface {
	Provider() store.Provider
	Normalize(eventType string, body []byte) (*Event, error)
}
