package iotmqtt

import (
	"errors"
	"slices"
	"time"
)

// YieldStatus tells the caller how to continue after Yield.
type YieldStatus int

const (
	// YieldSuccess: the session is connected or still awaiting its first CONNACK.
	YieldSuccess YieldStatus = iota
	// YieldReconnected: a reconnect completed during this call and the session is still connected.
	YieldReconnected
	// YieldReconnecting: the connection is down and will be retried; call again soon.
	YieldReconnecting
	// YieldFatal: stop calling Yield and destroy the session. The error says why.
	YieldFatal
)

func (y YieldStatus) String() string {
	switch y {
	case YieldSuccess:
		return "success"
	case YieldReconnected:
		return "reconnected"
	case YieldReconnecting:
		return "reconnecting"
	case YieldFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Yield drives the session for at most timeout. It reads and resolves every
// complete packet that arrives, expires pending operations, keeps the
// connection alive and runs a reconnect attempt when its backoff elapses.
// Events and messages produced are delivered before Yield returns.
//
// Fatal errors are ErrSessionDestroyed, ErrReconnectExhausted and
// ErrNotConnected (wrapping the cause) when the session is disconnected
// without auto reconnect.
func (s *Session) Yield(timeout time.Duration) (YieldStatus, error) {
	s.yieldMu.Lock()
	defer s.yieldMu.Unlock()

	if timeout < 0 {
		timeout = 0
	}

	s.mu.Lock()
	end := s.clock.Now().Add(timeout)
	s.reconnectedInYield = false
	s.mu.Unlock()

	for {
		done, sleep := s.step(end)
		s.flush()
		if done {
			break
		}
		if sleep > 0 {
			s.clock.Sleep(sleep)
		}
	}

	return s.yieldStatus()
}

func (s *Session) yieldStatus() (YieldStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateDestroyed:
		return YieldFatal, ErrSessionDestroyed
	case StateDisconnected:
		if s.fatal != nil {
			return YieldFatal, s.fatal
		}
		return YieldFatal, ErrNotConnected
	}

	switch {
	case s.reconnectedInYield && s.state == StateConnected:
		return YieldReconnected, nil
	case s.state == StateReconnecting, s.state == StateConnecting && s.reconnecting:
		return YieldReconnecting, nil
	}
	return YieldSuccess, nil
}

// step performs one bounded unit of work. It reports whether Yield is done
// and how long to sleep before the next step when no transport is open.
func (s *Session) step(end time.Time) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	switch s.state {
	case StateConnecting, StateConnected:
		s.poll(now, end)
		if s.state == StateConnecting || s.state == StateConnected {
			s.checkDeadlines(s.clock.Now())
		}

	case StateReconnecting:
		if !now.Before(end) {
			return true, 0
		}
		if now.Before(s.reconnectAt) {
			return false, earliest(s.reconnectAt, end).Sub(now)
		}
		s.reconnect(end)

	default:
		return true, 0
	}

	return !s.clock.Now().Before(end), 0
}

// nextWakeup is the earliest instant the session must act again.
func (s *Session) nextWakeup(end time.Time) time.Time {
	wake := end
	if s.state == StateConnecting {
		wake = earliest(wake, s.connackDeadline)
	}
	if d, ok := s.pending.nextDeadline(); ok {
		wake = earliest(wake, d)
	}
	if s.state == StateConnected {
		if d, ok := s.keepAlive.nextDeadline(); ok {
			wake = earliest(wake, d)
		}
	}
	return wake
}

// poll waits for input until the next wakeup and handles every complete
// packet received. s.mu is released during the wait.
func (s *Session) poll(now, end time.Time) {
	wait := s.nextWakeup(end).Sub(now)
	if wait < 0 {
		wait = 0
	}

	t, gen := s.transport, s.connGen
	s.mu.Unlock()
	n, err := t.TryReceive(s.readBuf, wait)
	s.mu.Lock()

	if gen != s.connGen {
		return
	}
	if err != nil {
		s.dropConnection(&TransportError{Op: "read", Err: err})
		return
	}
	if n == 0 {
		return
	}

	s.rbuf = append(s.rbuf, s.readBuf[:n]...)

	off := 0
	for off < len(s.rbuf) {
		pkt, used, err := DecodePacket(s.rbuf[off:], s.opts.maxPacketSize)
		if err != nil {
			if errors.Is(err, ErrIncomplete) {
				break
			}
			var de *DecodeError
			pt := PacketType(0)
			if errors.As(err, &de) {
				pt = de.PacketType
			}
			s.dropConnection(&ProtocolError{PacketType: pt, Err: err})
			return
		}
		off += used

		s.handlePacket(pkt)
		if gen != s.connGen {
			return
		}
	}

	s.rbuf = s.rbuf[:copy(s.rbuf, s.rbuf[off:])]
}

func (s *Session) checkDeadlines(now time.Time) {
	if s.state == StateConnecting {
		if !now.Before(s.connackDeadline) {
			s.dropConnection(ErrConnackTimeout)
		}
		return
	}

	for _, op := range s.pending.takeExpired(now) {
		s.ids.release(op.PacketID)
		if op.Kind == OpSubscribe && op.resubscribe {
			delete(s.subs, op.Topic)
		}
		_, timeout, _ := outcomeKinds(op.Kind)
		s.metrics.operationResolved(s.clientID, op.Kind, outcomeTimeout, 0)
		s.logger.Warn("operation timed out", LogFields{
			LogFieldPacketID: op.PacketID,
			LogFieldTopic:    op.Topic,
		})
		s.emit(Event{
			Kind:     timeout,
			PacketID: op.PacketID,
			Topic:    op.Topic,
			Err:      &TimeoutError{Op: op.Kind, PacketID: op.PacketID, Timeout: s.commandTimeout},
		})
	}
	s.metrics.setPending(s.clientID, s.pending.len())

	switch {
	case s.keepAlive.timedOut(now):
		s.dropConnection(ErrKeepAliveTimeout)
	case s.keepAlive.pingDue(now):
		if err := s.send(&PingreqPacket{}); err != nil {
			s.dropConnection(err)
			return
		}
		s.keepAlive.onPingSent(now)
	}
}

func (s *Session) handlePacket(pkt Packet) {
	s.metrics.packetReceived(s.clientID, pkt.Type())

	switch p := pkt.(type) {
	case *ConnackPacket:
		s.handleConnack(p)
	case *PublishPacket:
		s.handlePublish(p)
	case *PubackPacket:
		s.resolveAck(p.PacketID, PacketPUBACK, nil)
	case *SubackPacket:
		s.resolveAck(p.PacketID, PacketSUBACK, p)
	case *UnsubackPacket:
		s.resolveAck(p.PacketID, PacketUNSUBACK, nil)
	case *PingrespPacket:
		s.keepAlive.onPingResp()
	default:
		s.dropConnection(&ProtocolError{PacketType: pkt.Type(), Err: ErrUnexpectedPacket})
	}
}

func (s *Session) handlePublish(p *PublishPacket) {
	if s.state != StateConnected {
		s.dropConnection(&ProtocolError{PacketType: PacketPUBLISH, Err: ErrUnexpectedPacket})
		return
	}

	if p.QoS == QoS1 {
		if err := s.send(&PubackPacket{PacketID: p.PacketID}); err != nil {
			s.dropConnection(err)
			return
		}
	}

	msg := p.ToMessage()

	filters := make([]string, 0, len(s.subs))
	for f := range s.subs {
		if TopicMatch(f, msg.Topic) {
			filters = append(filters, f)
		}
	}
	slices.Sort(filters)

	if len(filters) == 0 {
		s.emit(Event{Kind: EventPublishReceived, Topic: msg.Topic, Message: msg})
		return
	}
	for i, f := range filters {
		m := msg
		if i > 0 {
			m = msg.Clone()
		}
		s.deliverMessage(s.subs[f].Handler, m)
	}
}

// resolveAck completes the pending operation waiting on an ack. Duplicate
// and unknown acks are ignored.
func (s *Session) resolveAck(id uint16, ack PacketType, suback *SubackPacket) {
	op, ok := s.pending.resolve(id, ack)
	if !ok {
		s.logger.Debug("ignoring unknown ack", LogFields{
			LogFieldPacketType: ack.String(),
			LogFieldPacketID:   id,
		})
		return
	}
	s.ids.release(id)
	s.metrics.setPending(s.clientID, s.pending.len())

	success, _, nack := outcomeKinds(op.Kind)
	latency := s.clock.Now().Sub(op.IssuedAt)

	switch op.Kind {
	case OpSubscribe:
		if !suback.Granted(0) {
			s.metrics.operationResolved(s.clientID, op.Kind, outcomeNack, 0)
			if op.resubscribe {
				delete(s.subs, op.Topic)
			}
			s.logger.Warn("subscription refused", LogFields{LogFieldTopic: op.Topic})
			s.emit(Event{Kind: nack, PacketID: id, Topic: op.Topic, Err: ErrSubscriptionRefused})
			return
		}
		granted := suback.ReturnCodes[0]
		if existing, ok := s.subs[op.Topic]; ok && op.resubscribe {
			existing.QoS = granted
			s.metrics.operationResolved(s.clientID, op.Kind, outcomeSuccess, latency)
			return
		}
		s.subs[op.Topic] = &Subscription{Filter: op.Topic, QoS: granted, Handler: op.Handler}

	case OpUnsubscribe:
		delete(s.subs, op.Topic)
	}

	s.metrics.operationResolved(s.clientID, op.Kind, outcomeSuccess, latency)
	s.emit(Event{Kind: success, PacketID: id, Topic: op.Topic})
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
