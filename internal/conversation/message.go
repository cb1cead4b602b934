package conversation

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message represents a single chat message
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Clock renders the timestamp as shown next to a bubble, e.g. "09:41".
func (m Message) Clock() string {
	return m.Timestamp.Format("15:04")
}

// EventKind distinguishes the two things listeners are told about.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventTyping  EventKind = "typing"
)

// Event is delivered to listeners after each state change.
type Event struct {
	Kind    EventKind
	Message Message // set for EventMessage
	Typing  bool    // set for EventTyping
}
