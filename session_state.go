package iotmqtt

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateDestroyed is terminal.
	StateDestroyed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// The methods below are called with s.mu held.

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.logger.Debug("state change", LogFields{
		LogFieldState: state.String(),
		"previous":    s.state.String(),
	})
	s.state = state
	s.metrics.setState(s.clientID, state)
}

// open dials the broker and sends CONNECT. The CONNACK is awaited by Yield.
func (s *Session) open(ctx context.Context) error {
	now := s.clock.Now()

	creds, err := DeviceCredentials(&s.cfg, now, newConnID())
	if err != nil {
		return err
	}

	t, err := s.opts.dialer.Dial(ctx, s.endpoint, s.tlsConfig)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	s.transport = t
	s.connGen++
	s.rbuf = s.rbuf[:0]
	s.setState(StateConnecting)
	s.connackDeadline = now.Add(s.commandTimeout)

	s.logger.Info("connecting", LogFields{LogFieldEndpoint: s.endpoint})

	return s.send(&ConnectPacket{
		ClientID:     creds.ClientID,
		Username:     creds.Username,
		Password:     creds.Password,
		CleanSession: s.cfg.CleanSession,
		KeepAlive:    keepAliveSeconds(s.keepAlive.interval),
	})
}

// reconnect runs one scheduled attempt. The dial is bounded by end.
func (s *Session) reconnect(end time.Time) {
	s.logger.Info("reconnecting", LogFields{LogFieldAttempt: s.backoff.attempts})
	s.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), end.Sub(s.clock.Now()))
	defer cancel()

	if err := s.open(ctx); err != nil {
		s.dropConnection(err)
	}
}

func (s *Session) closeTransport() {
	if s.transport == nil {
		return
	}
	if err := s.transport.Close(); err != nil {
		s.logger.Debug("transport close failed", LogFields{LogFieldError: err.Error()})
	}
	s.transport = nil
	s.connGen++
	s.rbuf = s.rbuf[:0]
}

// failPending resolves every pending operation with cause. Replayed
// subscriptions are dropped silently; they are sent again after the next
// reconnect.
func (s *Session) failPending(cause error) {
	for _, op := range s.pending.drain() {
		s.ids.release(op.PacketID)
		if op.resubscribe {
			continue
		}
		_, _, nack := outcomeKinds(op.Kind)
		s.metrics.operationResolved(s.clientID, op.Kind, outcomeNack, 0)
		s.emit(Event{Kind: nack, PacketID: op.PacketID, Topic: op.Topic, Err: cause})
	}
	s.metrics.setPending(s.clientID, 0)
}

// dropConnection handles any failure of the current or pending connection:
// transport and protocol errors, keep-alive and CONNACK timeouts, refusals.
func (s *Session) dropConnection(cause error) {
	s.logger.Warn("connection dropped", LogFields{
		LogFieldState: s.state.String(),
		LogFieldError: cause.Error(),
	})

	s.closeTransport()
	s.lastErr = cause
	s.failPending(ErrConnectionLost)
	s.emit(Event{Kind: EventDisconnect, Err: cause})

	if s.cfg.AutoConnectEnable {
		s.scheduleReconnect(cause)
		return
	}
	s.fatal = fmt.Errorf("%w: %w", ErrNotConnected, cause)
	s.setState(StateDisconnected)
}

// scheduleReconnect arms the next attempt or gives up once MaxRetryCount
// consecutive attempts have failed.
func (s *Session) scheduleReconnect(cause error) {
	s.reconnecting = true

	if limit := s.cfg.MaxRetryCount; limit > 0 && s.backoff.attempts >= limit {
		s.logger.Error("reconnect attempts exhausted", LogFields{LogFieldAttempt: s.backoff.attempts})
		s.fatal = ErrReconnectExhausted
		s.setState(StateDisconnected)
		s.emit(Event{Kind: EventReconnectFailed, Err: ErrReconnectExhausted, Attempt: s.backoff.attempts})
		return
	}

	attempt, delay := s.backoff.next(cause)
	s.reconnectAt = s.clock.Now().Add(delay)
	s.setState(StateReconnecting)
	s.metrics.reconnectAttempt(s.clientID)

	s.logger.Info("reconnect scheduled", LogFields{
		LogFieldAttempt:  attempt,
		LogFieldDuration: delay.String(),
	})
	s.emit(Event{Kind: EventReconnect, Attempt: attempt, Delay: delay, Err: cause})
}

func (s *Session) handleConnack(p *ConnackPacket) {
	if s.state != StateConnecting {
		s.logger.Debug("ignoring unexpected CONNACK", LogFields{LogFieldState: s.state.String()})
		return
	}

	if p.ReturnCode != ConnackAccepted {
		s.dropConnection(&ConnectError{Code: p.ReturnCode})
		return
	}

	now := s.clock.Now()
	reconnected := s.reconnecting

	s.reconnecting = false
	s.backoff.reset()
	s.keepAlive.reset(now)
	s.fatal = nil
	s.lastErr = nil
	s.setState(StateConnected)

	s.logger.Info("connected", LogFields{
		"session_present": p.SessionPresent,
		"reconnected":     reconnected,
	})
	s.emit(Event{Kind: EventConnected, SessionPresent: p.SessionPresent, Reconnected: reconnected})

	if reconnected {
		s.reconnectedInYield = true
		s.resubscribe()
	}
}

// resubscribe replays every subscription on a fresh connection.
func (s *Session) resubscribe() {
	filters := make([]string, 0, len(s.subs))
	for f := range s.subs {
		filters = append(filters, f)
	}
	slices.Sort(filters)

	for _, f := range filters {
		sub := s.subs[f]
		if _, err := s.sendSubscribe(sub.Filter, sub.QoS, sub.Handler, true); err != nil {
			s.logger.Warn("resubscribe failed", LogFields{
				LogFieldTopic: sub.Filter,
				LogFieldError: err.Error(),
			})
		}
		if s.state != StateConnected {
			return
		}
	}
}
