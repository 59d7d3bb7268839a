package iotmqtt

import (
	"fmt"
	"runtime/debug"
)

// Dispatcher delivers events to registered handlers on the caller's goroutine.
type Dispatcher interface {
	// Register adds a handler. Handlers are called in registration order.
	Register(h EventHandler)

	// Dispatch delivers ev to every handler. Handler errors and panics are
	// contained.
	Dispatch(s *Session, ev Event)
}

type eventDispatcher struct {
	handlers []EventHandler
	logger   Logger
}

// NewDispatcher creates the default dispatcher. Failures of handlers are
// reported to logger.
func NewDispatcher(logger Logger) Dispatcher {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &eventDispatcher{logger: logger}
}

func (d *eventDispatcher) Register(h EventHandler) {
	if h != nil {
		d.handlers = append(d.handlers, h)
	}
}

func (d *eventDispatcher) Dispatch(s *Session, ev Event) {
	for _, h := range d.handlers {
		if err := contain(d.logger, ev.Kind.String(), func() error { return h.HandleEvent(s, ev) }); err != nil {
			d.logger.Error("event handler failed", LogFields{
				LogFieldEvent: ev.Kind.String(),
				LogFieldError: err.Error(),
			})
		}
	}
}

// contain runs fn and turns a panic into an error.
func contain(logger Logger, what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("recovered handler panic", LogFields{
				LogFieldEvent: what,
				"stack":       string(debug.Stack()),
			})
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn()
}
