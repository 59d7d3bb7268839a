// Package rpc provides request/response on top of an iotmqtt session.
//
// MQTT 3.1.1 carries no response topic or correlation data, so both travel
// in a JSON envelope: requests name the topic the reply must go to and a
// correlation id that the reply echoes back.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitalvas/iotmqtt"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("rpc: request timeout")

	// ErrClosed is returned by calls on a closed handler and by calls
	// still waiting when the handler is closed.
	ErrClosed = errors.New("rpc: handler closed")

	// ErrRemote wraps the error string a responder returned.
	ErrRemote = errors.New("rpc: remote error")
)

// pollInterval bounds each Yield a waiting call performs.
const pollInterval = 50 * time.Millisecond

// Headers are request or response metadata.
type Headers map[string]string

// Request represents an RPC request with optional headers.
type Request struct {
	Payload []byte  `json:"payload,omitempty"`
	Headers Headers `json:"headers,omitempty"`

	// ID and ReplyTo are filled in by Call.
	ID      string `json:"id"`
	ReplyTo string `json:"reply_to"`
}

// Response represents an RPC response with headers.
type Response struct {
	Payload []byte  `json:"payload,omitempty"`
	Headers Headers `json:"headers,omitempty"`

	// ID echoes the request id.
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// ServeFunc answers a request. A returned error is sent to the caller,
// which receives it wrapped in ErrRemote.
type ServeFunc func(req *Request) (*Response, error)

// Handler correlates requests sent on a session with their responses.
type Handler struct {
	session       *iotmqtt.Session
	responseTopic string
	qos           byte

	mu      sync.Mutex
	waiting map[string]*Response
	closed  bool
}

// HandlerOptions configures the RPC handler.
type HandlerOptions struct {
	// ResponseTopic is the topic where responses will be received.
	// If empty, defaults to "rpc/response/{clientID}".
	ResponseTopic string

	// QoS is the quality of service level for requests and subscriptions.
	// Defaults to 0.
	QoS byte
}

// NewHandler creates a handler and subscribes to the response topic. The
// subscription completes on a later Yield; Call yields until it has.
func NewHandler(s *iotmqtt.Session, opts *HandlerOptions) (*Handler, error) {
	if s == nil {
		return nil, errors.New("rpc: session is required")
	}

	if opts == nil {
		opts = &HandlerOptions{}
	}

	responseTopic := opts.ResponseTopic
	if responseTopic == "" {
		responseTopic = "rpc/response/" + s.ClientID()
	}

	h := &Handler{
		session:       s,
		responseTopic: responseTopic,
		qos:           opts.QoS,
		waiting:       make(map[string]*Response),
	}

	if _, err := s.Subscribe(responseTopic, opts.QoS, h.handleResponse); err != nil {
		return nil, fmt.Errorf("rpc: failed to subscribe to response topic: %w", err)
	}

	return h, nil
}

// ResponseTopic returns the configured response topic.
func (h *Handler) ResponseTopic() string {
	return h.responseTopic
}

// Call publishes req to topic and drives the session with Yield until the
// matching response arrives or ctx ends. It must not be called from a
// message handler or event handler of the same session.
func (h *Handler) Call(ctx context.Context, topic string, req *Request) (*Response, error) {
	if req == nil {
		req = &Request{}
	}

	req.ID = uuid.NewString()
	req.ReplyTo = h.responseTopic

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode request: %w", err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.waiting[req.ID] = nil
	h.mu.Unlock()
	defer h.forget(req.ID)

	if _, err := h.session.Publish(topic, data, h.qos); err != nil {
		return nil, fmt.Errorf("rpc: failed to publish request: %w", err)
	}

	for {
		if resp, done := h.result(req.ID); done {
			if resp == nil {
				return nil, ErrClosed
			}
			if resp.Error != "" {
				return resp, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
			}
			return resp, nil
		}

		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, err
		}

		wait := pollInterval
		if deadline, ok := ctx.Deadline(); ok {
			wait = min(wait, max(time.Until(deadline), 0))
		}
		if status, err := h.session.Yield(wait); status == iotmqtt.YieldFatal {
			return nil, fmt.Errorf("rpc: session: %w", err)
		}
	}
}

// CallWithTimeout is a convenience method that creates a context with timeout.
func (h *Handler) CallWithTimeout(topic string, req *Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Call(ctx, topic, req)
}

// Request sends a payload without headers and waits for a response.
func (h *Handler) Request(ctx context.Context, topic string, payload []byte) (*Response, error) {
	return h.Call(ctx, topic, &Request{Payload: payload})
}

// Close fails waiting calls with ErrClosed and unsubscribes from the
// response topic.
func (h *Handler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clear(h.waiting)
	h.mu.Unlock()

	// The response subscription may still be awaiting its SUBACK.
	if _, err := h.session.Unsubscribe(h.responseTopic); err != nil && !errors.Is(err, iotmqtt.ErrNotSubscribed) {
		return err
	}
	return nil
}

// result reports whether the call with id has finished. A finished call
// with a nil response was removed by Close.
func (h *Handler) result(id string) (*Response, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	resp, ok := h.waiting[id]
	if !ok {
		return nil, true
	}
	return resp, resp != nil
}

func (h *Handler) forget(id string) {
	h.mu.Lock()
	delete(h.waiting, id)
	h.mu.Unlock()
}

func (h *Handler) handleResponse(_ *iotmqtt.Session, msg *iotmqtt.Message) {
	var resp Response
	if err := json.Unmarshal(msg.Payload, &resp); err != nil || resp.ID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.waiting[resp.ID]; ok && prev == nil {
		h.waiting[resp.ID] = &resp
	}
}

// Serve subscribes s to filter and answers every request with fn. Replies
// are published at qos to the topic each request names. Malformed
// requests are dropped.
func Serve(s *iotmqtt.Session, filter string, qos byte, fn ServeFunc) (uint16, error) {
	if fn == nil {
		return 0, errors.New("rpc: serve func is required")
	}

	return s.Subscribe(filter, qos, func(s *iotmqtt.Session, msg *iotmqtt.Message) {
		var req Request
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.ID == "" || req.ReplyTo == "" {
			return
		}

		resp, err := fn(&req)
		if resp == nil {
			resp = &Response{}
		}
		resp.ID = req.ID
		if err != nil {
			resp.Error = err.Error()
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return
		}
		_, _ = s.Publish(req.ReplyTo, data, qos)
	})
}
