package iotmqtt

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyConfig describes an outbound proxy.
type ProxyConfig struct {
	// URL is http://host:port, https://host:port or socks5://host:port.
	URL      string
	Username string
	Password string
}

// ProxyDialer dials through an HTTP CONNECT or SOCKS5 proxy.
type ProxyDialer struct {
	proxyURL *url.URL
	auth     *proxy.Auth
	forward  net.Dialer
}

// NewProxyDialer parses proxyURL. Credentials embedded in the URL are used
// when username is empty.
func NewProxyDialer(proxyURL, username, password string) (*ProxyDialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %q", u.Scheme)
	}

	if username == "" && u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	d := &ProxyDialer{proxyURL: u}
	if username != "" {
		d.auth = &proxy.Auth{User: username, Password: password}
	}
	return d, nil
}

// DialContext connects to addr through the proxy.
func (d *ProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if strings.HasPrefix(d.proxyURL.Scheme, "socks5") {
		return d.dialSOCKS5(ctx, network, addr)
	}
	return d.dialHTTPConnect(ctx, addr)
}

func (d *ProxyDialer) proxyAddr() string {
	if d.proxyURL.Port() != "" {
		return d.proxyURL.Host
	}
	port := "8080"
	switch d.proxyURL.Scheme {
	case "https":
		port = "443"
	case "socks5", "socks5h":
		port = "1080"
	}
	return net.JoinHostPort(d.proxyURL.Hostname(), port)
}

func (d *ProxyDialer) dialHTTPConnect(ctx context.Context, target string) (net.Conn, error) {
	conn, err := d.forward.DialContext(ctx, "tcp", d.proxyAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if d.auth != nil {
		token := base64.StdEncoding.EncodeToString([]byte(d.auth.User + ":" + d.auth.Password))
		req.Header.Set("Proxy-Authorization", "Basic "+token)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send CONNECT request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func (d *ProxyDialer) dialSOCKS5(ctx context.Context, network, target string) (net.Conn, error) {
	dialer, err := proxy.SOCKS5("tcp", d.proxyAddr(), d.auth, &d.forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
	}

	conn, err := cd.DialContext(ctx, network, target)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 dial failed: %w", err)
	}
	return conn, nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v, ok := envLookup(name); ok && v != "" {
			return v
		}
	}
	return ""
}

// noProxyMatch reports whether host is excluded by a NO_PROXY list.
func noProxyMatch(noProxy, host string) bool {
	for pattern := range strings.SplitSeq(noProxy, ",") {
		pattern = strings.TrimSpace(pattern)
		switch {
		case pattern == "":
			continue
		case pattern == "*":
			return true
		case strings.HasPrefix(pattern, "."):
			if strings.HasSuffix(host, pattern) || host == pattern[1:] {
				return true
			}
		case host == pattern || strings.HasSuffix(host, "."+pattern):
			return true
		}
	}
	return false
}

// ProxyFromEnvironment returns the proxy to use for endpoint according to
// HTTP_PROXY, HTTPS_PROXY and NO_PROXY, or nil for a direct connection.
// Secure schemes prefer HTTPS_PROXY and fall back to HTTP_PROXY.
func ProxyFromEnvironment(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, nil
	}

	if noProxyMatch(firstEnv("NO_PROXY", "no_proxy"), u.Hostname()) {
		return nil, nil
	}

	var raw string
	switch u.Scheme {
	case "https", "tls", "ssl", "mqtts", "wss":
		raw = firstEnv("HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy")
	default:
		raw = firstEnv("HTTP_PROXY", "http_proxy")
	}
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}
