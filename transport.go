package iotmqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

// Transport is a byte channel to the broker. The session drives it from the
// caller's goroutine only.
type Transport interface {
	// Send writes b completely or fails.
	Send(b []byte) error

	// TryReceive waits up to wait for input and copies it into buf.
	// It returns 0 and a nil error when nothing arrived in time.
	TryReceive(buf []byte, wait time.Duration) (int, error)

	Close() error
}

// Dialer opens transports. Endpoints are URLs such as tcp://host:1883,
// tls://host:8883, wss://host/mqtt, quic://host:14567 or unix:///run/mqtt.sock.
// A bare host:port uses tls when tlsConfig is set and tcp otherwise.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, tlsConfig *tls.Config) (Transport, error)
}

var ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")

const defaultWriteTimeout = 5 * time.Second

// connTransport adapts a net.Conn. Reads are bounded with read deadlines.
type connTransport struct {
	conn         net.Conn
	writeTimeout time.Duration
}

func newConnTransport(conn net.Conn, writeTimeout time.Duration) *connTransport {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &connTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *connTransport) Send(b []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	for len(b) > 0 {
		n, err := t.conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (t *connTransport) TryReceive(buf []byte, wait time.Duration) (int, error) {
	if wait < 0 {
		wait = 0
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}

// NetDialer is the default Dialer.
type NetDialer struct {
	// Proxy routes tcp, tls and ws connections through an HTTP CONNECT or
	// SOCKS5 proxy.
	Proxy *ProxyConfig

	// ProxyFromEnvironment consults HTTP_PROXY, HTTPS_PROXY and NO_PROXY
	// when Proxy is nil.
	ProxyFromEnvironment bool

	// WriteTimeout bounds each Send. Zero means 5 seconds.
	WriteTimeout time.Duration
}

// endpointURL normalises an endpoint and fills in the scheme's default port.
func endpointURL(endpoint string, tlsConfig *tls.Config) (*url.URL, string, error) {
	if !strings.Contains(endpoint, "://") {
		if tlsConfig != nil {
			endpoint = "tls://" + endpoint
		} else {
			endpoint = "tcp://" + endpoint
		}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, "", fmt.Errorf("invalid endpoint: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "tcp", "mqtt":
			host = net.JoinHostPort(u.Hostname(), "1883")
		case "ssl", "tls", "mqtts", "quic":
			host = net.JoinHostPort(u.Hostname(), "8883")
		case "ws":
			host = net.JoinHostPort(u.Hostname(), "80")
		case "wss":
			host = net.JoinHostPort(u.Hostname(), "443")
		}
	}
	return u, host, nil
}

// Dial opens a transport for endpoint.
func (d *NetDialer) Dial(ctx context.Context, endpoint string, tlsConfig *tls.Config) (Transport, error) {
	u, host, err := endpointURL(endpoint, tlsConfig)
	if err != nil {
		return nil, err
	}

	proxyDialer, err := d.resolveProxy(u)
	if err != nil {
		return nil, fmt.Errorf("proxy configuration error: %w", err)
	}

	var conn net.Conn
	dialer := &net.Dialer{}

	switch u.Scheme {
	case "tcp", "mqtt":
		if proxyDialer != nil {
			conn, err = proxyDialer.DialContext(ctx, "tcp", host)
		} else {
			conn, err = dialer.DialContext(ctx, "tcp", host)
		}
	case "ssl", "tls", "mqtts":
		cfg := tlsConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if cfg.ServerName == "" {
			cfg = cfg.Clone()
			cfg.ServerName = u.Hostname()
		}
		if proxyDialer != nil {
			conn, err = proxyDialer.DialContext(ctx, "tcp", host)
			if err == nil {
				tlsConn := tls.Client(conn, cfg)
				if err = tlsConn.HandshakeContext(ctx); err != nil {
					conn.Close()
					return nil, fmt.Errorf("TLS handshake failed: %w", err)
				}
				conn = tlsConn
			}
		} else {
			tlsDialer := &tls.Dialer{NetDialer: dialer, Config: cfg}
			conn, err = tlsDialer.DialContext(ctx, "tcp", host)
		}
	case "ws", "wss":
		return dialWebSocket(ctx, u, tlsConfig, proxyDialer, d.WriteTimeout)
	case "unix":
		socketPath := u.Path
		if socketPath == "" {
			socketPath = u.Host + u.Path
		}
		conn, err = dialer.DialContext(ctx, "unix", socketPath)
	case "quic":
		conn, err = dialQUIC(ctx, host, tlsConfig)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return newConnTransport(conn, d.WriteTimeout), nil
}

func (d *NetDialer) resolveProxy(target *url.URL) (*ProxyDialer, error) {
	switch target.Scheme {
	case "unix", "quic":
		return nil, nil
	}

	if d.Proxy != nil {
		return NewProxyDialer(d.Proxy.URL, d.Proxy.Username, d.Proxy.Password)
	}

	if d.ProxyFromEnvironment {
		proxyURL, err := ProxyFromEnvironment(target.String())
		if err != nil {
			return nil, err
		}
		if proxyURL != nil {
			return NewProxyDialer(proxyURL.String(), "", "")
		}
	}
	return nil, nil
}

// envLookup is replaced in tests.
var envLookup = os.LookupEnv
