package domain

import "time"

// EventType names a real-time event sent to a connected party.
type EventType string

const (
	EventNewRequest         EventType = "new_request"
	EventNewOffer           EventType = "new_offer"
	EventRequestSelected    EventType = "request_selected"
	EventRequestUnavailable EventType = "request_unavailable"
	EventRequestCancelled   EventType = "request_cancelled"
	EventRequestRejected    EventType = "request_rejected"
)

// Event is one logical notification. Data holds the event-specific fields a
// client needs to update local state; Title and Body are the push texts.
type Event struct {
	Type       EventType         `json:"type"`
	RequestID  string            `json:"request_id"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`

	Title string `json:"-"`
	Body  string `json:"-"`
}

// PushData flattens the event into the string map carried by a push message.
// It always contains type and request_id.
func (e Event) PushData() map[string]string {
	out := make(map[string]string, len(e.Data)+2)
	for k, v := range e.Data {
		out[k] = v
	}
	out["type"] = string(e.Type)
	out["request_id"] = e.RequestID
	return out
}
