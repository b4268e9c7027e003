package testutil

import (
	"github.com/hupe1980/eve/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	meta := NewMessageBuilder().Request("ping").ID("42").Sync().Outbound(next)
//
// Chain only the parts you need; a notification request is the default.
type MessageBuilder struct {
	msg core.Message
}

// NewMessageBuilder creates a builder for a plain request.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{msg: core.Message{Kind: core.KindRequest}}
}

// Request makes the message a request for method (chainable).
func (b *MessageBuilder) Request(method string) *MessageBuilder {
	b.msg.Kind = core.KindRequest
	b.msg.Method = method
	return b
}

// Response makes the message a response to the request with the given id (chainable).
func (b *MessageBuilder) Response(id string) *MessageBuilder {
	b.msg.Kind = core.KindResponse
	b.msg.ID = id
	return b
}

// ID sets the correlation id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.msg.ID = id; return b }

// Sync marks the request as a blocking call (chainable).
func (b *MessageBuilder) Sync() *MessageBuilder { b.msg.Sync = true; return b }

// Payload sets the opaque payload (chainable).
func (b *MessageBuilder) Payload(p any) *MessageBuilder { b.msg.Payload = p; return b }

// Build returns the message.
func (b *MessageBuilder) Build() core.Message { return b.msg }

// Inbound wraps the message into an inbound Meta with the given continuation.
func (b *MessageBuilder) Inbound(next func() bool) *core.Meta {
	return core.NewMeta(b.msg, core.Inbound, next)
}

// Outbound wraps the message into an outbound Meta with the given continuation.
func (b *MessageBuilder) Outbound(next func() bool) *core.Meta {
	return core.NewMeta(b.msg, core.Outbound, next)
}
