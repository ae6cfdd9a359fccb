package notify

// Event types published on an analysis channel.
const (
	TypeStatus   = "status"
	TypeProgress = "progress"
	TypeResult   = "result"
	TypeError    = "error"
)

// Event is one message on an analysis channel. Fields are populated per type:
// status carries Status/Error/SessionID/ReviewSessionID, progress carries
// Step, result carries Data, error carries Message.
type Event struct {
	Type            string  `json:"type"`
	Status          string  `json:"status,omitempty"`
	SessionID       *string `json:"session_id,omitempty"`
	ReviewSessionID *string `json:"review_session_id,omitempty"`
	Error           *string `json:"error,omitempty"`
	Step            string  `json:"step,omitempty"`
	Data            any     `json:"data,omitempty"`
	Message         string  `json:"message,omitempty"`
}

// Broker fans events out to channel subscribers. Delivery is best-effort and
// at-most-once; publishing must never block the caller.
type Broker interface {
	Publish(key string, event Event)
	Subscribe(key string) (<-chan Event, func())
}
