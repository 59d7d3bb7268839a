package iotmqtt

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYieldStatusString(t *testing.T) {
	assert.Equal(t, "success", YieldSuccess.String())
	assert.Equal(t, "reconnected", YieldReconnected.String())
	assert.Equal(t, "reconnecting", YieldReconnecting.String())
	assert.Equal(t, "fatal", YieldFatal.String())
	assert.Equal(t, "unknown", YieldStatus(9).String())
}

func TestYieldRespectsBudget(t *testing.T) {
	h := newHarness(t, nil)

	status, err := h.s.Yield(time.Second)
	assert.Equal(t, YieldFatal, status, "never connected")
	assert.ErrorIs(t, err, ErrNotConnected)

	h.connect(t)
	start := h.clock.Now()

	status, err = h.s.Yield(250 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, YieldSuccess, status)
	assert.Equal(t, start.Add(250*time.Millisecond), h.clock.Now())

	_, err = h.s.Yield(-time.Second)
	require.NoError(t, err)
	assert.Equal(t, start.Add(250*time.Millisecond), h.clock.Now())
}

func TestOperationTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.CommandTimeout = 500 })
	tr := h.connect(t)

	var resolvedAt time.Time
	h.s.dispatcher.Register(EventHandlerFunc(func(_ *Session, ev Event) error {
		if ev.Kind == EventPublishTimeout {
			resolvedAt = h.clock.Now()
		}
		return nil
	}))

	issued := h.clock.Now()
	id, err := h.s.Publish("dev/data", nil, QoS1)
	require.NoError(t, err)

	_, err = h.s.Yield(499 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, h.events.all(), "not before the deadline")
	assert.Equal(t, 1, h.s.PendingCount())

	status, err := h.s.Yield(time.Second)
	require.NoError(t, err)
	assert.Equal(t, YieldSuccess, status, "a timeout does not drop the session")

	timeouts := h.events.ofKind(EventPublishTimeout)
	require.Len(t, timeouts, 1)
	assert.Equal(t, id, timeouts[0].PacketID)
	assert.False(t, resolvedAt.Before(issued.Add(500*time.Millisecond)))

	var te *TimeoutError
	require.ErrorAs(t, timeouts[0].Err, &te)
	assert.Equal(t, OpPublish, te.Op)
	assert.Equal(t, 500*time.Millisecond, te.Timeout)
	assert.ErrorIs(t, timeouts[0].Err, ErrOperationTimeout)

	// A late ack is a no-op.
	tr.push(&PubackPacket{PacketID: id})
	_, err = h.s.Yield(0)
	require.NoError(t, err)
	assert.Len(t, h.events.all(), 1)
	assert.True(t, h.s.IsConnected())
}

func TestSubscribeTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	_, err := h.s.Subscribe("dev/data", QoS1, func(*Session, *Message) {})
	require.NoError(t, err)

	_, err = h.s.Yield(time.Second)
	require.NoError(t, err)

	assert.Len(t, h.events.ofKind(EventSubscribeTimeout), 1)
	assert.Empty(t, h.s.Subscriptions())
}

func TestKeepAlivePingAndTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.KeepAliveIntervalMs = 1000 })
	tr := h.connect(t)
	start := h.clock.Now()

	status, err := h.s.Yield(3 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, YieldReconnecting, status)

	pkts := tr.packets(t)
	require.Len(t, pkts, 2)
	assert.IsType(t, &ConnectPacket{}, pkts[0])
	assert.IsType(t, &PingreqPacket{}, pkts[1])

	events := h.events.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventDisconnect, events[0].Kind)
	assert.ErrorIs(t, events[0].Err, ErrKeepAliveTimeout)
	assert.Equal(t, EventReconnect, events[1].Kind)
	assert.Equal(t, 1, events[1].Attempt)
	assert.Equal(t, time.Second, events[1].Delay)

	assert.Equal(t, StateReconnecting, h.s.State())
	assert.True(t, tr.isClosed())
	assert.Equal(t, start.Add(3*time.Second), h.clock.Now())
}

func TestKeepAlivePingAnswered(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.KeepAliveIntervalMs = 1000 })
	tr := h.connect(t)

	// The first ping goes out after one idle second.
	_, err := h.s.Yield(time.Second)
	require.NoError(t, err)
	require.IsType(t, &PingreqPacket{}, tr.lastPacket(t))

	tr.push(&PingrespPacket{})
	_, err = h.s.Yield(1500 * time.Millisecond)
	require.NoError(t, err)

	assert.True(t, h.s.IsConnected())
	assert.Empty(t, h.events.all())
	assert.Len(t, tr.packets(t), 3, "CONNECT and two pings")
}

func TestKeepAliveDeferredByTraffic(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.KeepAliveIntervalMs = 1000 })
	tr := h.connect(t)

	_, err := h.s.Yield(800 * time.Millisecond)
	require.NoError(t, err)
	_, err = h.s.Publish("dev/data", nil, QoS0)
	require.NoError(t, err)

	_, err = h.s.Yield(900 * time.Millisecond)
	require.NoError(t, err)
	assert.IsType(t, &PublishPacket{}, tr.lastPacket(t), "no ping within an interval of the publish")
}

func TestReconnectExhausted(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxRetryCount = 2 })
	tr := h.connect(t)

	h.dialer.setErr(errors.New("connection refused"))
	tr.failReads(io.EOF)

	status, err := h.s.Yield(time.Minute)
	assert.Equal(t, YieldFatal, status)
	assert.ErrorIs(t, err, ErrReconnectExhausted)

	assert.Equal(t, []EventKind{
		EventDisconnect, EventReconnect,
		EventDisconnect, EventReconnect,
		EventDisconnect, EventReconnectFailed,
	}, h.events.kinds())

	reconnects := h.events.ofKind(EventReconnect)
	assert.Equal(t, 1, reconnects[0].Attempt)
	assert.Equal(t, time.Second, reconnects[0].Delay)
	assert.Equal(t, 2, reconnects[1].Attempt)
	assert.Equal(t, 2*time.Second, reconnects[1].Delay)

	failed := h.events.ofKind(EventReconnectFailed)[0]
	assert.ErrorIs(t, failed.Err, ErrReconnectExhausted)
	assert.Equal(t, StateDisconnected, h.s.State())
	assert.Equal(t, 3, h.dialer.dials(), "initial connect and two retries")

	status, err = h.s.Yield(time.Minute)
	assert.Equal(t, YieldFatal, status)
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, 3, h.dialer.dials(), "no further attempt")
}

func TestReconnectUnlimited(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxRetryCount = 0 })
	tr := h.connect(t)

	h.dialer.setErr(errors.New("connection refused"))
	tr.failReads(io.EOF)

	status, err := h.s.Yield(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, YieldReconnecting, status)

	reconnects := h.events.ofKind(EventReconnect)
	require.Greater(t, len(reconnects), 10)
	assert.Equal(t, 60*time.Second, reconnects[len(reconnects)-1].Delay, "capped")
	assert.Empty(t, h.events.ofKind(EventReconnectFailed))
}

func TestReconnectWaitsForBackoff(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)
	tr.failReads(io.EOF)

	status, err := h.s.Yield(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, YieldReconnecting, status)
	assert.Equal(t, 1, h.dialer.dials())

	status, err = h.s.Yield(500 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, YieldReconnecting, status)
	assert.Equal(t, 1, h.dialer.dials(), "backoff has not elapsed")
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	var got []string
	h.subscribe(t, tr, "dev/data", func(_ *Session, msg *Message) {
		got = append(got, string(msg.Payload))
	})

	pubID, err := h.s.Publish("dev/data", nil, QoS1)
	require.NoError(t, err)

	h.dialer.onDial = acceptConnect
	tr.failReads(io.EOF)

	// Reconnect at 1s; the replayed SUBSCRIBE would expire at 1.5s.
	status, err := h.s.Yield(1200 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, YieldReconnected, status)

	events := h.events.all()
	require.Len(t, events, 4)
	assert.Equal(t, EventPublishNack, events[0].Kind)
	assert.Equal(t, pubID, events[0].PacketID)
	assert.ErrorIs(t, events[0].Err, ErrConnectionLost)
	assert.Equal(t, EventDisconnect, events[1].Kind)
	assert.Equal(t, EventReconnect, events[2].Kind)
	assert.Equal(t, EventConnected, events[3].Kind)
	assert.True(t, events[3].Reconnected)

	tr2 := h.dialer.last()
	require.NotSame(t, tr, tr2)
	pkts := tr2.packets(t)
	require.Len(t, pkts, 2)
	assert.IsType(t, &ConnectPacket{}, pkts[0])
	resub, ok := pkts[1].(*SubscribePacket)
	require.True(t, ok)
	assert.Equal(t, "dev/data", resub.Topics[0].Filter)

	// The replayed subscription resolves silently.
	h.events.reset()
	tr2.push(&SubackPacket{PacketID: resub.PacketID, ReturnCodes: []byte{QoS1}})
	status, err = h.s.Yield(0)
	require.NoError(t, err)
	assert.Equal(t, YieldSuccess, status)
	assert.Empty(t, h.events.all())

	tr2.push(&PublishPacket{Topic: "dev/data", Payload: []byte("after")})
	_, err = h.s.Yield(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"after"}, got)

	// The backoff starts over after a successful reconnect.
	tr2.failReads(io.EOF)
	_, err = h.s.Yield(0)
	require.NoError(t, err)
	reconnects := h.events.ofKind(EventReconnect)
	require.Len(t, reconnects, 1)
	assert.Equal(t, 1, reconnects[0].Attempt)
}

func TestResubscribeRefused(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)
	h.subscribe(t, tr, "dev/data", func(*Session, *Message) {})

	h.dialer.onDial = acceptConnect
	tr.failReads(io.EOF)
	_, err := h.s.Yield(1200 * time.Millisecond)
	require.NoError(t, err)
	h.events.reset()

	tr2 := h.dialer.last()
	resub := tr2.lastPacket(t).(*SubscribePacket)
	tr2.push(&SubackPacket{PacketID: resub.PacketID, ReturnCodes: []byte{SubackFailure}})
	_, err = h.s.Yield(0)
	require.NoError(t, err)

	assert.Len(t, h.events.ofKind(EventSubscribeNack), 1)
	assert.Empty(t, h.s.Subscriptions())
}

func TestResubscribeTimeout(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	var got int
	h.subscribe(t, tr, "dev/data", func(*Session, *Message) { got++ })

	h.dialer.onDial = acceptConnect
	tr.failReads(io.EOF)
	_, err := h.s.Yield(1200 * time.Millisecond)
	require.NoError(t, err)
	h.events.reset()

	tr2 := h.dialer.last()
	resub := tr2.lastPacket(t).(*SubscribePacket)

	// The replayed SUBSCRIBE was sent at 1s and is never answered.
	_, err = h.s.Yield(time.Second)
	require.NoError(t, err)

	timeouts := h.events.ofKind(EventSubscribeTimeout)
	require.Len(t, timeouts, 1)
	assert.Equal(t, resub.PacketID, timeouts[0].PacketID)
	assert.Equal(t, "dev/data", timeouts[0].Topic)
	assert.Empty(t, h.s.Subscriptions())

	h.events.reset()
	tr2.push(&PublishPacket{Topic: "dev/data", Payload: []byte("late")})
	_, err = h.s.Yield(0)
	require.NoError(t, err)
	assert.Zero(t, got)
	assert.Len(t, h.events.ofKind(EventPublishReceived), 1)

	// Nothing is replayed on the next reconnect.
	tr2.failReads(io.EOF)
	_, err = h.s.Yield(1200 * time.Millisecond)
	require.NoError(t, err)
	tr3 := h.dialer.last()
	require.NotSame(t, tr2, tr3)
	for _, p := range tr3.packets(t) {
		assert.NotEqual(t, PacketSUBSCRIBE, p.Type())
	}
}

func TestReconnectDroppedInSameYield(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	h.dialer.onDial = func(tr *fakeTransport) {
		tr.push(&ConnackPacket{ReturnCode: ConnackAccepted})
		tr.failReads(io.EOF)
	}
	tr.failReads(io.EOF)

	status, err := h.s.Yield(1200 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, YieldReconnecting, status)
	assert.Equal(t, StateReconnecting, h.s.State())

	connected := h.events.ofKind(EventConnected)
	require.Len(t, connected, 1)
	assert.True(t, connected[0].Reconnected)
	assert.Len(t, h.events.ofKind(EventDisconnect), 2)
}

func TestConnectionLostWithoutAutoReconnect(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AutoConnectEnable = false })
	tr := h.connect(t)
	h.subscribe(t, tr, "dev/data", func(*Session, *Message) {})

	tr.failReads(io.EOF)
	status, err := h.s.Yield(time.Second)
	assert.Equal(t, YieldFatal, status)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, []EventKind{EventDisconnect}, h.events.kinds())
	assert.Equal(t, StateDisconnected, h.s.State())
	assert.Len(t, h.s.Subscriptions(), 1, "subscriptions survive the disconnect")

	// Connect starts over.
	require.NoError(t, h.s.Connect(t.Context()))
	assert.Equal(t, StateConnecting, h.s.State())
	assert.Equal(t, 2, h.dialer.dials())
}

func TestConnackRefused(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AutoConnectEnable = false })
	require.NoError(t, h.s.Connect(t.Context()))
	h.dialer.last().push(&ConnackPacket{ReturnCode: ConnackNotAuthorized})

	status, err := h.s.Yield(0)
	assert.Equal(t, YieldFatal, status)
	assert.ErrorIs(t, err, ErrAuthFailed)

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConnackNotAuthorized, ce.Code)

	disconnect := h.events.ofKind(EventDisconnect)
	require.Len(t, disconnect, 1)
	assert.ErrorIs(t, disconnect[0].Err, ErrAuthFailed)
}

func TestConnackTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.CommandTimeout = 500 })
	require.NoError(t, h.s.Connect(t.Context()))

	status, err := h.s.Yield(499 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, YieldSuccess, status, "still awaiting CONNACK")
	assert.Empty(t, h.events.all())

	status, err = h.s.Yield(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, YieldReconnecting, status)

	disconnect := h.events.ofKind(EventDisconnect)
	require.Len(t, disconnect, 1)
	assert.ErrorIs(t, disconnect[0].Err, ErrConnackTimeout)
	assert.True(t, h.dialer.last().isClosed())
}

func TestMalformedPacketDropsConnection(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	tr.pushRaw([]byte{0x40, 0x02, 0x00, 0x00})
	status, err := h.s.Yield(0)
	require.NoError(t, err)
	assert.Equal(t, YieldReconnecting, status)

	disconnect := h.events.ofKind(EventDisconnect)
	require.Len(t, disconnect, 1)
	var pe *ProtocolError
	require.ErrorAs(t, disconnect[0].Err, &pe)
	assert.Equal(t, PacketPUBACK, pe.PacketType)
	assert.ErrorIs(t, pe, ErrMalformed)
	assert.True(t, tr.isClosed())
}

func TestUnexpectedPacketDropsConnection(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	tr.push(&PingreqPacket{})
	_, err := h.s.Yield(0)
	require.NoError(t, err)

	disconnect := h.events.ofKind(EventDisconnect)
	require.Len(t, disconnect, 1)
	assert.ErrorIs(t, disconnect[0].Err, ErrUnexpectedPacket)
}

func TestPartialPacket(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	id, err := h.s.Publish("dev/data", nil, QoS1)
	require.NoError(t, err)

	data, err := EncodePacket(&PubackPacket{PacketID: id}, 0)
	require.NoError(t, err)

	tr.pushRaw(data[:1])
	_, err = h.s.Yield(0)
	require.NoError(t, err)
	assert.Empty(t, h.events.all())
	assert.True(t, h.s.IsConnected(), "incomplete input is kept, not rejected")

	tr.pushRaw(data[1:])
	_, err = h.s.Yield(0)
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventPublishSuccess}, h.events.kinds())
}

func TestOversizedInboundPacket(t *testing.T) {
	h := newHarness(t, nil, WithMaxPacketSize(200))
	tr := h.connect(t)

	tr.push(&PublishPacket{Topic: "dev/data", Payload: make([]byte, 300)})
	_, err := h.s.Yield(0)
	require.NoError(t, err)

	disconnect := h.events.ofKind(EventDisconnect)
	require.Len(t, disconnect, 1)
	assert.ErrorIs(t, disconnect[0].Err, ErrPacketTooLarge)
}
