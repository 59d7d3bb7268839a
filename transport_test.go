package iotmqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoListener accepts connections on ln and echoes everything back.
func echoListener(t *testing.T, ln net.Listener) {
	t.Helper()
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
}

func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	echoListener(t, ln)
	return ln.Addr().String()
}

// testTLSConfigs returns a server config and a client config trusting it.
func testTLSConfigs(t *testing.T) (server, client *tls.Config) {
	t.Helper()
	certFile, keyFile := writeKeyPair(t)

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)

	pem, err := os.ReadFile(certFile)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(pem))

	server = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	client = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return server, client
}

// receiveAll reads from tr until want bytes arrived or the deadline passes.
func receiveAll(t *testing.T, tr Transport, want int) []byte {
	t.Helper()
	var got []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < want && time.Now().Before(deadline) {
		n, err := tr.TryReceive(buf, 100*time.Millisecond)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	return got
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		endpoint string
		tls      bool
		scheme   string
		host     string
	}{
		{"broker.local", false, "tcp", "broker.local:1883"},
		{"broker.local", true, "tls", "broker.local:8883"},
		{"broker.local:1999", false, "tcp", "broker.local:1999"},
		{"mqtt://broker.local", false, "mqtt", "broker.local:1883"},
		{"mqtts://broker.local", false, "mqtts", "broker.local:8883"},
		{"ssl://broker.local", false, "ssl", "broker.local:8883"},
		{"quic://broker.local", false, "quic", "broker.local:8883"},
		{"ws://broker.local/mqtt", false, "ws", "broker.local:80"},
		{"wss://broker.local/mqtt", false, "wss", "broker.local:443"},
		{"wss://broker.local:8443/mqtt", false, "wss", "broker.local:8443"},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			var cfg *tls.Config
			if tt.tls {
				cfg = &tls.Config{}
			}
			u, host, err := endpointURL(tt.endpoint, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, u.Scheme)
			assert.Equal(t, tt.host, host)
		})
	}

	_, _, err := endpointURL("tcp://%zz", nil)
	assert.Error(t, err)
}

func TestNetDialerTCP(t *testing.T) {
	addr := startEchoServer(t)

	tr, err := (&NetDialer{}).Dial(context.Background(), "tcp://"+addr, nil)
	require.NoError(t, err)
	defer tr.Close()

	n, err := tr.TryReceive(make([]byte, 16), 20*time.Millisecond)
	require.NoError(t, err, "timeout is not an error")
	assert.Zero(t, n)

	require.NoError(t, tr.Send([]byte{0xC0, 0x00}))
	assert.Equal(t, []byte{0xC0, 0x00}, receiveAll(t, tr, 2))
}

func TestNetDialerTLS(t *testing.T) {
	serverCfg, clientCfg := testTLSConfigs(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	echoListener(t, ln)

	tr, err := (&NetDialer{}).Dial(context.Background(), "tls://"+ln.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Send([]byte("ping")))
	assert.Equal(t, []byte("ping"), receiveAll(t, tr, 4))

	_, err = (&NetDialer{}).Dial(context.Background(), "tls://"+ln.Addr().String(), nil)
	assert.Error(t, err, "untrusted certificate")
}

func TestNetDialerUnix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mqtt.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	echoListener(t, ln)

	tr, err := (&NetDialer{}).Dial(context.Background(), "unix://"+path, nil)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Send([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, receiveAll(t, tr, 3))
}

func TestNetDialerErrors(t *testing.T) {
	_, err := (&NetDialer{}).Dial(context.Background(), "coap://broker.local", nil)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = (&NetDialer{}).Dial(context.Background(), "tcp://"+addr, nil)
	assert.Error(t, err)

	_, err = (&NetDialer{Proxy: &ProxyConfig{URL: "ftp://proxy"}}).Dial(context.Background(), "tcp://"+addr, nil)
	assert.ErrorContains(t, err, "proxy configuration error")
}

func TestConnTransportPeerClosed(t *testing.T) {
	client, server := net.Pipe()
	tr := newConnTransport(client, 0)
	assert.Equal(t, defaultWriteTimeout, tr.writeTimeout)

	server.Close()
	_, err := tr.TryReceive(make([]byte, 8), time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe))
	assert.NoError(t, tr.Close())
}
