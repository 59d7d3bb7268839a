package iotmqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubprotocol is the MQTT WebSocket subprotocol.
const WebSocketSubprotocol = "mqtt"

var errNonBinaryFrame = errors.New("websocket: non-binary frame")

// wsTransport carries MQTT over binary WebSocket frames. A gorilla
// connection cannot be read again after a read deadline fires, so a reader
// goroutine pumps frames into a channel and TryReceive waits on it.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	frames  chan []byte
	readErr error
	done    chan struct{}

	pending []byte

	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	t := &wsTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
		frames:       make(chan []byte, 16),
		done:         make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *wsTransport) readLoop() {
	defer close(t.frames)
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.readErr = err
			return
		}
		if messageType != websocket.BinaryMessage {
			t.readErr = errNonBinaryFrame
			return
		}
		select {
		case t.frames <- data:
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) Send(b []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (t *wsTransport) TryReceive(buf []byte, wait time.Duration) (int, error) {
	if len(t.pending) == 0 {
		var timeout <-chan time.Time
		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case frame, ok := <-t.frames:
			if !ok {
				return 0, t.readErr
			}
			t.pending = frame
		default:
			if timeout == nil {
				return 0, nil
			}
			select {
			case frame, ok := <-t.frames:
				if !ok {
					return 0, t.readErr
				}
				t.pending = frame
			case <-timeout:
				return 0, nil
			}
		}
	}

	n := copy(buf, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

func dialWebSocket(ctx context.Context, u *url.URL, tlsConfig *tls.Config, proxyDialer *ProxyDialer, writeTimeout time.Duration) (Transport, error) {
	dialer := &websocket.Dialer{
		Subprotocols:     []string{WebSocketSubprotocol},
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  tlsConfig,
	}
	if proxyDialer != nil {
		dialer.NetDialContext = proxyDialer.DialContext
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &TransportError{Op: "websocket dial", Err: err}
	}
	return newWSTransport(conn, writeTimeout), nil
}
