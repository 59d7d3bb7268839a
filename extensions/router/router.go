// Package router fans messages from one device subscription out to
// handlers selected by topic and message attributes.
package router

import (
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/iotmqtt"
)

// Condition defines filtering criteria for message routing.
type Condition struct {
	topicFilter   *string
	qos           *byte
	retain        *bool
	duplicate     *bool
	payloadRegexp *regexp.Regexp
}

// ConditionOption configures a Condition.
type ConditionOption func(*Condition)

// WithTopic sets the topic filter for message matching.
// Supports MQTT wildcards: + (single level) and # (multi level).
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) {
		c.topicFilter = &filter
	}
}

// WithDeviceTopic matches "<productID>/<deviceName>/<suffix>".
func WithDeviceTopic(productID, deviceName, suffix string) ConditionOption {
	return WithTopic(iotmqtt.DeviceTopic(productID, deviceName, suffix))
}

// WithQoS filters messages by QoS level.
func WithQoS(qos byte) ConditionOption {
	return func(c *Condition) {
		c.qos = &qos
	}
}

// WithRetain filters messages by the retain flag.
func WithRetain(retain bool) ConditionOption {
	return func(c *Condition) {
		c.retain = &retain
	}
}

// WithDuplicate filters messages by the redelivery flag.
func WithDuplicate(dup bool) ConditionOption {
	return func(c *Condition) {
		c.duplicate = &dup
	}
}

// WithPayload filters messages whose payload matches pattern.
func WithPayload(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.payloadRegexp = pattern
	}
}

type registration struct {
	handler   iotmqtt.MessageHandler
	condition Condition
}

// Router dispatches messages to handlers based on conditions.
type Router struct {
	mu       sync.RWMutex
	handlers []registration
}

// New creates a new Router.
func New() *Router {
	return &Router{
		handlers: make([]registration, 0),
	}
}

// Handle registers a handler with optional conditions. A handler without
// conditions receives every routed message.
//
//	r.Handle(onControl, WithDeviceTopic("QWERTY1234", "sensor-01", "control"))
//	r.Handle(onAlarm, WithTopic("QWERTY1234/+/alarm"), WithQoS(iotmqtt.QoS1))
func (r *Router) Handle(handler iotmqtt.MessageHandler, opts ...ConditionOption) {
	if handler == nil {
		return
	}

	var cond Condition
	for _, opt := range opts {
		opt(&cond)
	}

	r.mu.Lock()
	r.handlers = append(r.handlers, registration{
		handler:   handler,
		condition: cond,
	})
	r.mu.Unlock()
}

func (c *Condition) matches(msg *iotmqtt.Message) bool {
	if c.topicFilter != nil && !iotmqtt.TopicMatch(*c.topicFilter, msg.Topic) {
		return false
	}
	if c.qos != nil && *c.qos != msg.QoS {
		return false
	}
	if c.retain != nil && *c.retain != msg.Retain {
		return false
	}
	if c.duplicate != nil && *c.duplicate != msg.Duplicate {
		return false
	}
	if c.payloadRegexp != nil && !c.payloadRegexp.Match(msg.Payload) {
		return false
	}
	return true
}

// Route dispatches a message to all matching handlers in registration order.
// It has the iotmqtt.MessageHandler signature, so it can be passed to
// Session.Subscribe directly. Handlers run outside the router lock and may
// register further handlers.
func (r *Router) Route(s *iotmqtt.Session, msg *iotmqtt.Message) {
	if msg == nil {
		return
	}

	r.mu.RLock()
	var matched []iotmqtt.MessageHandler
	for _, reg := range r.handlers {
		if reg.condition.matches(msg) {
			matched = append(matched, reg.handler)
		}
	}
	r.mu.RUnlock()

	for _, handler := range matched {
		handler(s, msg)
	}
}

// Filters returns the unique registered topic filters, sorted.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filters []string
	for _, reg := range r.handlers {
		if f := reg.condition.topicFilter; f != nil && !slices.Contains(filters, *f) {
			filters = append(filters, *f)
		}
	}
	slices.Sort(filters)
	return filters
}

// Subscribe subscribes s to every registered topic filter with Route as the
// handler and returns the packet ids in Filters order. It stops at the
// first error.
func (r *Router) Subscribe(s *iotmqtt.Session, qos byte) ([]uint16, error) {
	filters := r.Filters()
	ids := make([]uint16, 0, len(filters))
	for _, filter := range filters {
		id, err := s.Subscribe(filter, qos, r.Route)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Clear removes all handlers.
func (r *Router) Clear() {
	r.mu.Lock()
	r.handlers = r.handlers[:0]
	r.mu.Unlock()
}
