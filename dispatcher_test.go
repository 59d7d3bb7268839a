package iotmqtt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherOrder(t *testing.T) {
	d := NewDispatcher(nil)
	var calls []string

	d.Register(EventHandlerFunc(func(_ *Session, ev Event) error {
		calls = append(calls, "first:"+ev.Kind.String())
		return nil
	}))
	d.Register(nil)
	d.Register(EventHandlerFunc(func(_ *Session, ev Event) error {
		calls = append(calls, "second:"+ev.Kind.String())
		return nil
	}))

	d.Dispatch(nil, Event{Kind: EventConnected})
	d.Dispatch(nil, Event{Kind: EventDisconnect})

	assert.Equal(t, []string{
		"first:connected", "second:connected",
		"first:disconnect", "second:disconnect",
	}, calls)
}

func TestDispatcherContainsFailures(t *testing.T) {
	buf := &bytes.Buffer{}
	d := NewDispatcher(NewStdLogger(buf, LogLevelError))
	reached := 0

	d.Register(EventHandlerFunc(func(*Session, Event) error {
		return errors.New("handler broke")
	}))
	d.Register(EventHandlerFunc(func(*Session, Event) error {
		panic("boom")
	}))
	d.Register(EventHandlerFunc(func(*Session, Event) error {
		reached++
		return nil
	}))

	require.NotPanics(t, func() {
		d.Dispatch(nil, Event{Kind: EventPublishSuccess, PacketID: 1})
	})

	assert.Equal(t, 1, reached)
	assert.Contains(t, buf.String(), "handler broke")
	assert.Contains(t, buf.String(), "handler panic: boom")
}

func TestContain(t *testing.T) {
	err := contain(NewNoOpLogger(), "test", func() error { panic(errors.New("inner")) })
	require.Error(t, err)
	assert.Equal(t, "handler panic: inner", err.Error())

	assert.NoError(t, contain(NewNoOpLogger(), "test", func() error { return nil }))
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "publish_success", EventPublishSuccess.String())
	assert.Equal(t, "event(99)", EventKind(99).String())

	ev := Event{Kind: EventSubscribeTimeout, PacketID: 4, Topic: "dev/#", Err: ErrOperationTimeout}
	assert.Equal(t, "subscribe_timeout packet-id=4 topic=dev/# err=operation timeout", ev.String())

	success, timeout, nack := outcomeKinds(OpUnsubscribe)
	assert.Equal(t, []EventKind{EventUnsubscribeSuccess, EventUnsubscribeTimeout, EventUnsubscribeNack},
		[]EventKind{success, timeout, nack})
}
