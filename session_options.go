package iotmqtt

import (
	"crypto/tls"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// MaxPacketSizeDefault bounds packets in both directions unless
// WithMaxPacketSize overrides it.
const MaxPacketSizeDefault uint32 = 256 * 1024

// maxPacketSizeProtocol is the largest size the remaining length can express
// plus the fixed header.
const maxPacketSizeProtocol uint32 = maxVarint + 5

// sessionOptions holds code-level knobs that do not belong in a config file.
type sessionOptions struct {
	logger     Logger
	dialer     Dialer
	clock      Clock
	metrics    *Metrics
	dispatcher Dispatcher
	handlers   []EventHandler

	tlsConfig *tls.Config

	initialBackoff  time.Duration
	maxBackoff      time.Duration
	backoffStrategy BackoffStrategy

	maxPacketSize  uint32
	publishLimiter *rate.Limiter
}

func defaultSessionOptions() *sessionOptions {
	return &sessionOptions{
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		maxPacketSize:  MaxPacketSizeDefault,
	}
}

// Option configures a Session.
type Option func(*sessionOptions)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger Logger) Option {
	return func(o *sessionOptions) {
		o.logger = logger
	}
}

// WithDialer replaces the transport dialer, e.g. to route through a proxy.
func WithDialer(d Dialer) Option {
	return func(o *sessionOptions) {
		o.dialer = d
	}
}

// WithClock replaces the time source.
func WithClock(c Clock) Option {
	return func(o *sessionOptions) {
		o.clock = c
	}
}

// WithMetrics records session activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *sessionOptions) {
		o.metrics = m
	}
}

// WithDispatcher replaces the default event dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(o *sessionOptions) {
		o.dispatcher = d
	}
}

// WithEventHandler registers h with the session's dispatcher.
// Multiple calls register handlers in order.
func WithEventHandler(h EventHandler) Option {
	return func(o *sessionOptions) {
		if h != nil {
			o.handlers = append(o.handlers, h)
		}
	}
}

// OnEvent registers a plain function as an event handler.
func OnEvent(fn func(s *Session, ev Event)) Option {
	return WithEventHandler(EventHandlerFunc(func(s *Session, ev Event) error {
		fn(s, ev)
		return nil
	}))
}

// WithTLSConfig overrides the TLS configuration derived from the config
// (CA file and device certificate).
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *sessionOptions) {
		o.tlsConfig = cfg
	}
}

// WithReconnectBackoff sets the first reconnect delay and the cap.
func WithReconnectBackoff(initial, maxDelay time.Duration) Option {
	return func(o *sessionOptions) {
		if initial > 0 {
			o.initialBackoff = initial
		}
		if maxDelay > 0 {
			o.maxBackoff = maxDelay
		}
	}
}

// WithBackoffStrategy sets a custom reconnect delay strategy. The result is
// still capped by the maximum backoff.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(o *sessionOptions) {
		o.backoffStrategy = strategy
	}
}

// WithMaxPacketSize limits the size of packets sent and received.
// Values exceeding the protocol maximum are clamped.
func WithMaxPacketSize(size uint32) Option {
	return func(o *sessionOptions) {
		if size > maxPacketSizeProtocol {
			size = maxPacketSizeProtocol
		}
		o.maxPacketSize = size
	}
}

// WithPublishRateLimit caps outbound publishes at limit per second with the
// given burst. Publish returns ErrRateLimited when the budget is spent.
func WithPublishRateLimit(limit float64, burst int) Option {
	return func(o *sessionOptions) {
		if limit <= 0 {
			o.publishLimiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.publishLimiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

func applyOptions(opts ...Option) *sessionOptions {
	options := defaultSessionOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.logger == nil {
		options.logger = NewNoOpLogger()
	}
	if options.clock == nil {
		options.clock = clock.RealClock{}
	}
	if options.dialer == nil {
		options.dialer = &NetDialer{}
	}
	if options.dispatcher == nil {
		options.dispatcher = NewDispatcher(options.logger)
	}
	if options.backoffStrategy == nil {
		options.backoffStrategy = ExponentialBackoff(options.initialBackoff, options.maxBackoff)
	}
	return options
}
