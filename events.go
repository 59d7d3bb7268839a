package iotmqtt

import (
	"fmt"
	"time"
)

// EventKind identifies what an Event reports.
type EventKind int

// Session events. The *Success, *Timeout and *Nack kinds resolve exactly one
// pending operation identified by Event.PacketID.
const (
	EventUndefined EventKind = iota

	// EventConnected: CONNACK accepted. Reconnected is set after a reconnect.
	EventConnected
	// EventDisconnect: the transport was lost or the connect attempt failed. Err holds the cause.
	EventDisconnect
	// EventReconnect: a reconnect attempt was scheduled. Attempt and Delay describe it.
	EventReconnect
	// EventReconnectFailed: the retry cap was reached. Err is ErrReconnectExhausted.
	EventReconnectFailed

	// EventPublishReceived: a message matched no subscription.
	EventPublishReceived

	EventSubscribeSuccess
	EventSubscribeTimeout
	EventSubscribeNack

	EventUnsubscribeSuccess
	EventUnsubscribeTimeout
	EventUnsubscribeNack

	EventPublishSuccess
	EventPublishTimeout
	EventPublishNack
)

var eventKindNames = map[EventKind]string{
	EventUndefined:          "undefined",
	EventConnected:          "connected",
	EventDisconnect:         "disconnect",
	EventReconnect:          "reconnect",
	EventReconnectFailed:    "reconnect_failed",
	EventPublishReceived:    "publish_received",
	EventSubscribeSuccess:   "subscribe_success",
	EventSubscribeTimeout:   "subscribe_timeout",
	EventSubscribeNack:      "subscribe_nack",
	EventUnsubscribeSuccess: "unsubscribe_success",
	EventUnsubscribeTimeout: "unsubscribe_timeout",
	EventUnsubscribeNack:    "unsubscribe_nack",
	EventPublishSuccess:     "publish_success",
	EventPublishTimeout:     "publish_timeout",
	EventPublishNack:        "publish_nack",
}

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is an immutable record of a session state change or an operation
// outcome. Fields not relevant to Kind are zero.
type Event struct {
	Kind EventKind

	// PacketID of the resolved operation; zero when none.
	PacketID uint16

	// Topic is the publish topic or (un)subscribe filter.
	Topic string

	// Message is set for EventPublishReceived.
	Message *Message

	// Err is the failure cause for disconnect, timeout and nack events.
	Err error

	// Attempt and Delay describe a scheduled reconnect.
	Attempt int
	Delay   time.Duration

	SessionPresent bool
	Reconnected    bool
}

func (e Event) String() string {
	s := e.Kind.String()
	if e.PacketID != 0 {
		s += fmt.Sprintf(" packet-id=%d", e.PacketID)
	}
	if e.Topic != "" {
		s += " topic=" + e.Topic
	}
	if e.Err != nil {
		s += " err=" + e.Err.Error()
	}
	return s
}

// outcomeKinds maps an operation to its success, timeout and nack events.
func outcomeKinds(op OpKind) (success, timeout, nack EventKind) {
	switch op {
	case OpSubscribe:
		return EventSubscribeSuccess, EventSubscribeTimeout, EventSubscribeNack
	case OpUnsubscribe:
		return EventUnsubscribeSuccess, EventUnsubscribeTimeout, EventUnsubscribeNack
	default:
		return EventPublishSuccess, EventPublishTimeout, EventPublishNack
	}
}

// MessageHandler receives messages for a subscription.
type MessageHandler func(s *Session, msg *Message)

// EventHandler consumes session events. A returned error is logged by the
// dispatcher and never reaches the yield loop.
type EventHandler interface {
	HandleEvent(s *Session, ev Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(s *Session, ev Event) error

// HandleEvent calls f(s, ev).
func (f EventHandlerFunc) HandleEvent(s *Session, ev Event) error {
	return f(s, ev)
}
