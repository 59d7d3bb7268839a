package iotmqtt

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned synchronously or carried by events - check with errors.Is().
var (
	// ErrNotConnected is returned when an operation requires an active connection.
	ErrNotConnected = errors.New("not connected")

	// ErrSessionDestroyed is returned for any call after Destroy.
	ErrSessionDestroyed = errors.New("session destroyed")

	// ErrCanceled fails operations still pending when the session is destroyed.
	ErrCanceled = errors.New("operation canceled")

	// ErrConnectionLost fails operations still pending when the transport drops.
	ErrConnectionLost = errors.New("connection lost")

	// ErrKeepAliveTimeout is the cause when the broker does not answer PINGREQ.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")

	// ErrConnackTimeout is the cause when CONNACK does not arrive in time.
	ErrConnackTimeout = errors.New("connack timeout")

	// ErrOperationTimeout is wrapped by every TimeoutError.
	ErrOperationTimeout = errors.New("operation timeout")

	// ErrReconnectExhausted is fatal: the retry cap was reached and the
	// session settled in Disconnected. Construct a new session to continue.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrConnectionRefused is wrapped by ConnectError.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrAuthFailed is wrapped by ConnectError for credential rejections.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotSubscribed is returned when unsubscribing an unknown filter.
	ErrNotSubscribed = errors.New("topic filter not subscribed")

	// ErrRateLimited is returned when the publish rate limit is exceeded.
	ErrRateLimited = errors.New("publish rate limit exceeded")

	// ErrPacketIDExhausted is returned when all 65535 ids are pending.
	ErrPacketIDExhausted = errors.New("no available packet IDs")

	// ErrSubscriptionRefused is carried by EventSubscribeNack.
	ErrSubscriptionRefused = errors.New("subscription refused")

	// ErrUnexpectedPacket is the cause when the broker sends a packet
	// a client never receives.
	ErrUnexpectedPacket = errors.New("unexpected packet")
)

// ConfigError reports an invalid or missing configuration value.
// It is returned before any connection attempt.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// TransportError wraps a network-level failure. It is recovered through
// the reconnect policy and surfaces only as an event cause.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or unexpected packet from the broker.
// The session handles it like a TransportError.
type ProtocolError struct {
	PacketType PacketType
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.PacketType.Valid() {
		return "protocol error on " + e.PacketType.String() + ": " + e.Err.Error()
	}
	return "protocol error: " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError resolves one pending operation whose ack did not arrive
// within the command timeout. The session itself stays up.
type TimeoutError struct {
	Op       OpKind
	PacketID uint16
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s packet-id=%d: no ack within %s", e.Op, e.PacketID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrOperationTimeout }

// ConnectError carries a CONNACK refusal.
type ConnectError struct {
	Code ConnackCode
}

func (e *ConnectError) Error() string {
	return "connect failed: " + e.Code.String()
}

func (e *ConnectError) Unwrap() error {
	if e.Code == ConnackBadUsernamePassword || e.Code == ConnackNotAuthorized {
		return ErrAuthFailed
	}
	return ErrConnectionRefused
}
