package iotmqtt

import (
	"cmp"
	"context"
	"crypto/tls"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription is an installed topic filter and its message handler.
type Subscription struct {
	Filter  string
	QoS     byte
	Handler MessageHandler
}

// delivery is one queued event or message handler invocation.
type delivery struct {
	event   Event
	handler MessageHandler
	msg     *Message
}

const (
	readBufferSize   = 4096
	dialPollInterval = 100 * time.Millisecond
)

// Session is one device connection to the broker.
//
// A Session is cooperative: nothing happens in the background. The caller
// drives it by calling Yield periodically, and every state change, ack,
// timeout and reconnect happens inside a call the caller made. All methods
// are safe for concurrent use; events and messages are delivered on the
// goroutine that produced them, after the session lock is released, so
// handlers may call Publish, Subscribe and Unsubscribe.
type Session struct {
	mu      sync.Mutex
	yieldMu sync.Mutex

	cfg        Config
	opts       *sessionOptions
	logger     Logger
	clock      Clock
	dispatcher Dispatcher
	metrics    *Metrics

	id             string
	clientID       string
	endpoint       string
	tlsConfig      *tls.Config
	commandTimeout time.Duration

	state     State
	transport Transport
	connGen   uint64
	rbuf      []byte
	readBuf   []byte

	connackDeadline time.Time
	reconnectAt     time.Time
	reconnecting    bool
	lastErr         error
	fatal           error

	ids       *packetIDAllocator
	pending   *pendingTable
	subs      map[string]*Subscription
	keepAlive *keepAlive
	backoff   *reconnectBackoff

	reconnectedInYield bool

	outbox   []delivery
	flushing bool
}

// New validates cfg and creates a disconnected session.
func New(cfg *Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, &ConfigError{Field: "config", Reason: "required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := applyOptions(opts...)

	tlsConfig := options.tlsConfig
	if tlsConfig == nil {
		var err error
		if tlsConfig, err = cfg.TLSConfig(); err != nil {
			return nil, err
		}
	}

	for _, h := range options.handlers {
		options.dispatcher.Register(h)
	}

	s := &Session{
		cfg:            *cfg,
		opts:           options,
		clock:          options.clock,
		dispatcher:     options.dispatcher,
		metrics:        options.metrics,
		id:             uuid.NewString(),
		clientID:       cfg.ClientID(),
		endpoint:       cfg.BrokerEndpoint(),
		tlsConfig:      tlsConfig,
		commandTimeout: cfg.commandTimeout(),
		state:          StateDisconnected,
		readBuf:        make([]byte, readBufferSize),
		ids:            newPacketIDAllocator(),
		pending:        newPendingTable(),
		subs:           make(map[string]*Subscription),
		keepAlive:      newKeepAlive(cfg.keepAliveInterval()),
		backoff:        newReconnectBackoff(options.backoffStrategy, options.maxBackoff),
	}
	s.logger = options.logger.WithFields(LogFields{
		LogFieldSessionID: s.id,
		LogFieldClientID:  s.clientID,
	})
	s.metrics.setState(s.clientID, StateDisconnected)

	return s, nil
}

// Dial creates a session, connects it and waits for the broker to accept
// the connection. The wait is bounded by ctx and the command timeout. On
// failure the session is destroyed.
func Dial(ctx context.Context, cfg *Config, opts ...Option) (*Session, error) {
	s, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	if err := s.Connect(ctx); err != nil {
		_ = s.Destroy()
		return nil, err
	}

	for {
		switch s.State() {
		case StateConnected:
			return s, nil
		case StateConnecting:
		default:
			err := s.lastError()
			_ = s.Destroy()
			return nil, err
		}

		if err := ctx.Err(); err != nil {
			_ = s.Destroy()
			return nil, err
		}
		_, _ = s.Yield(dialPollInterval)
	}
}

// Connect dials the broker and sends CONNECT. It returns once the request
// is on the wire; the CONNACK is processed by Yield. Calling Connect on a
// session that is already connecting or connected does nothing.
//
// If the dial fails and auto reconnect is enabled, the error is returned
// and Yield keeps retrying.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()

	switch s.state {
	case StateDestroyed:
		s.mu.Unlock()
		return ErrSessionDestroyed
	case StateDisconnected:
	default:
		s.mu.Unlock()
		return nil
	}

	s.fatal = nil
	s.reconnecting = false
	s.backoff.reset()

	err := s.open(ctx)
	if err != nil {
		s.dropConnection(err)
	}
	s.mu.Unlock()

	s.flush()
	return err
}

// Publish sends a message. At QoS 0 the publish resolves immediately with
// EventPublishSuccess and packet id 0. At QoS 1 the returned packet id is
// resolved later by EventPublishSuccess, EventPublishTimeout or
// EventPublishNack.
func (s *Session) Publish(topic string, payload []byte, qos byte) (uint16, error) {
	if err := ValidateTopicName(topic); err != nil {
		return 0, err
	}
	if qos > QoS1 {
		return 0, ErrInvalidQoS
	}

	s.mu.Lock()
	defer s.flush()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}
	if lim := s.opts.publishLimiter; lim != nil && !lim.AllowN(s.clock.Now(), 1) {
		return 0, ErrRateLimited
	}

	if qos == QoS0 {
		pkt := &PublishPacket{Topic: topic, Payload: payload}
		data, err := EncodePacket(pkt, s.opts.maxPacketSize)
		if err != nil {
			return 0, err
		}
		if err := s.write(PacketPUBLISH, data); err != nil {
			s.emit(Event{Kind: EventPublishNack, Topic: topic, Err: ErrConnectionLost})
			s.dropConnection(err)
			return 0, nil
		}
		s.metrics.operationResolved(s.clientID, OpPublish, outcomeSuccess, 0)
		s.emit(Event{Kind: EventPublishSuccess, Topic: topic})
		return 0, nil
	}

	return s.request(&PendingOperation{Kind: OpPublish, Topic: topic, QoS: qos}, func(id uint16) Packet {
		return &PublishPacket{Topic: topic, Payload: payload, QoS: qos, PacketID: id}
	})
}

// Subscribe requests a subscription. The handler is installed when the
// broker grants it (EventSubscribeSuccess) and replaces any handler already
// registered for the same filter.
func (s *Session) Subscribe(filter string, qos byte, handler MessageHandler) (uint16, error) {
	if err := ValidateTopicFilter(filter); err != nil {
		return 0, err
	}
	if qos > QoS1 {
		return 0, ErrInvalidQoS
	}

	s.mu.Lock()
	defer s.flush()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.sendSubscribe(filter, qos, handler, false)
}

// Unsubscribe removes an installed subscription once the broker acknowledges.
func (s *Session) Unsubscribe(filter string) (uint16, error) {
	if err := ValidateTopicFilter(filter); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.flush()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}
	if _, ok := s.subs[filter]; !ok {
		return 0, ErrNotSubscribed
	}

	return s.request(&PendingOperation{Kind: OpUnsubscribe, Topic: filter}, func(id uint16) Packet {
		return &UnsubscribePacket{PacketID: id, TopicFilters: []string{filter}}
	})
}

// Destroy disconnects, closes the transport and fails every pending
// operation with ErrCanceled before returning. Calling it again is a no-op.
func (s *Session) Destroy() error {
	s.mu.Lock()

	if s.state == StateDestroyed {
		s.mu.Unlock()
		return nil
	}

	if s.state == StateConnected {
		if err := s.send(&DisconnectPacket{}); err != nil {
			s.logger.Debug("failed to send DISCONNECT", LogFields{LogFieldError: err.Error()})
		}
	}

	var closeErr error
	if s.transport != nil {
		closeErr = s.transport.Close()
		s.transport = nil
		s.connGen++
	}

	s.failPending(ErrCanceled)
	clear(s.subs)
	s.setState(StateDestroyed)
	s.logger.Info("session destroyed", nil)
	s.mu.Unlock()

	s.flush()
	return closeErr
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the broker has accepted the connection.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// ID is the random identifier the session logs under.
func (s *Session) ID() string {
	return s.id
}

// ClientID returns the MQTT client identifier.
func (s *Session) ClientID() string {
	return s.clientID
}

// Subscriptions returns the installed subscriptions ordered by filter.
func (s *Session) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, *sub)
	}
	slices.SortFunc(out, func(a, b Subscription) int {
		return cmp.Compare(a.Filter, b.Filter)
	})
	return out
}

// PendingCount returns the number of operations awaiting an ack.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.len()
}

func (s *Session) lastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr != nil {
		return s.lastErr
	}
	return ErrNotConnected
}

// ready checks that requests can be sent. Called with s.mu held.
func (s *Session) ready() error {
	switch s.state {
	case StateDestroyed:
		return ErrSessionDestroyed
	case StateConnected:
		return nil
	default:
		return ErrNotConnected
	}
}

func (s *Session) sendSubscribe(filter string, qos byte, handler MessageHandler, resubscribe bool) (uint16, error) {
	op := &PendingOperation{
		Kind:        OpSubscribe,
		Topic:       filter,
		QoS:         qos,
		Handler:     handler,
		resubscribe: resubscribe,
	}
	return s.request(op, func(id uint16) Packet {
		return &SubscribePacket{PacketID: id, Topics: []TopicRequest{{Filter: filter, QoS: qos}}}
	})
}

// request allocates a packet id, registers op and sends the packet built
// for that id. A write failure drops the connection, which resolves op with
// a nack event; it is not returned to the caller.
func (s *Session) request(op *PendingOperation, build func(id uint16) Packet) (uint16, error) {
	id, err := s.ids.allocate()
	if err != nil {
		return 0, err
	}

	pkt := build(id)
	data, err := EncodePacket(pkt, s.opts.maxPacketSize)
	if err != nil {
		s.ids.release(id)
		return 0, err
	}

	now := s.clock.Now()
	op.PacketID = id
	op.IssuedAt = now
	op.Deadline = now.Add(s.commandTimeout)
	s.pending.add(op)
	s.metrics.setPending(s.clientID, s.pending.len())

	s.logger.Debug("request sent", LogFields{
		LogFieldPacketType: pkt.Type().String(),
		LogFieldPacketID:   id,
		LogFieldTopic:      op.Topic,
	})

	if err := s.write(pkt.Type(), data); err != nil {
		s.dropConnection(err)
	}
	return id, nil
}

// send encodes and writes a packet that expects no ack.
func (s *Session) send(pkt Packet) error {
	data, err := EncodePacket(pkt, s.opts.maxPacketSize)
	if err != nil {
		return err
	}
	return s.write(pkt.Type(), data)
}

func (s *Session) write(pt PacketType, data []byte) error {
	if s.transport == nil {
		return &TransportError{Op: "write", Err: ErrNotConnected}
	}
	if err := s.transport.Send(data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	s.keepAlive.onSend(s.clock.Now())
	s.metrics.packetSent(s.clientID, pt)
	return nil
}

// emit queues an event. Called with s.mu held.
func (s *Session) emit(ev Event) {
	s.logger.Debug("event", LogFields{LogFieldEvent: ev.String()})
	s.outbox = append(s.outbox, delivery{event: ev})
}

// deliverMessage queues a message for a subscription handler.
func (s *Session) deliverMessage(h MessageHandler, msg *Message) {
	s.outbox = append(s.outbox, delivery{handler: h, msg: msg})
}

// flush delivers queued events and messages in order with s.mu released.
// A flush started from inside a handler leaves the work to the outer one.
func (s *Session) flush() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true

	for len(s.outbox) > 0 {
		batch := s.outbox
		s.outbox = nil
		s.mu.Unlock()

		for _, d := range batch {
			s.dispatch(d)
		}

		s.mu.Lock()
	}

	s.flushing = false
	s.mu.Unlock()
}

func (s *Session) dispatch(d delivery) {
	if d.handler == nil {
		s.dispatcher.Dispatch(s, d.event)
		return
	}

	err := contain(s.logger, "message", func() error {
		d.handler(s, d.msg)
		return nil
	})
	if err != nil {
		s.logger.Error("message handler failed", LogFields{
			LogFieldTopic: d.msg.Topic,
			LogFieldError: err.Error(),
		})
	}
}
