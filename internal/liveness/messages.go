package liveness

import "time"

const (
	TypePresenceQuery    = "presence_query"
	TypePresenceResponse = "presence_response"
	TypeReading          = "reading"
	TypeNotification     = "notification"
	TypeError            = "error"
)

// Message is the single envelope exchanged over device and dashboard sockets.
// The device id never travels in a message; it comes from the authenticated
// connection.
type Message struct {
	Type      string     `json:"type"`
	RoundID   string     `json:"round_id,omitempty"`
	Parameter string     `json:"parameter,omitempty"`
	Value     *float64   `json:"value,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Message   string     `json:"message,omitempty"`
}
