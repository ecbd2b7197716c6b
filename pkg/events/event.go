package events

import "github.com/crystal-mush/mushkeeper/pkg/gamedb"

// EventType classifies events for transport-specific encoding.
type EventType int

const (
	EvText    EventType = iota // Raw text (universal fallback)
	EvNotify                   // Message to a player from the game
	EvBoot                     // Player disconnected by the game
	EvFinding                  // One dbck finding
	EvDBCK                     // A dbck pass finished
	EvMemory                   // Allocator damage (overrun, double free)
	EvSave                     // Database saved
	EvDestroy                  // Object destroyed by the game
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvText:
		return "text"
	case EvNotify:
		return "notify"
	case EvBoot:
		return "boot"
	case EvFinding:
		return "finding"
	case EvDBCK:
		return "dbck"
	case EvMemory:
		return "memory"
	case EvSave:
		return "save"
	case EvDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// MarshalText lets JSON transports send the name instead of the number.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event is a structured event that flows through the bus. Telnet-style
// consumers use Text; the admin websocket sends the whole event as JSON.
type Event struct {
	Type   EventType      `json:"type"`
	Player gamedb.DBRef   `json:"player"` // Recipient (Nothing for broadcast)
	Source gamedb.DBRef   `json:"source"` // Object the event is about
	Text   string         `json:"text"`
	Data   map[string]any `json:"data,omitempty"`
}
