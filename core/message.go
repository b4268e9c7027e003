package core

import "fmt"

// MessageKind distinguishes requests from responses.
type MessageKind int

const (
	// KindRequest is a call or a notification.
	KindRequest MessageKind = iota
	// KindResponse answers an earlier request carrying the same ID.
	KindResponse
)

// String returns the string representation of the message kind.
func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}
}

// Message is the protocol-level view of one unit of agent traffic. The
// payload is opaque to the concurrency core.
type Message struct {
	// ID correlates a request with its response. Notifications may leave it empty.
	ID     string
	Kind   MessageKind
	Method string
	// Sync marks a request whose sender blocks until the response arrives.
	Sync    bool
	Payload any
}

// IsRequest reports whether m is a request.
func (m Message) IsRequest() bool { return m.Kind == KindRequest }

// IsResponse reports whether m is a response.
func (m Message) IsResponse() bool { return m.Kind == KindResponse }

// Direction tells whether a Meta travels into or out of an agent.
type Direction int

const (
	// Inbound traffic arrives from a transport.
	Inbound Direction = iota
	// Outbound traffic leaves towards a transport.
	Outbound
)

// Meta wraps a message with its protocol-pipeline continuation.
type Meta struct {
	Message   Message
	Direction Direction
	// Next forwards the message to the next stage of the pipeline and
	// reports whether it was accepted.
	Next func() bool
}

// NewMeta builds a Meta for msg. A nil next is replaced by a stage that
// accepts everything.
func NewMeta(msg Message, dir Direction, next func() bool) *Meta {
	if next == nil {
		next = func() bool { return true }
	}
	return &Meta{Message: msg, Direction: dir, Next: next}
}

// Proceed runs the next stage.
func (m *Meta) Proceed() bool {
	if m.Next == nil {
		return true
	}
	return m.Next()
}
