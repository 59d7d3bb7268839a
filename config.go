package iotmqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Command timeout bounds, in milliseconds.
const (
	MinCommandTimeout = 500
	MaxCommandTimeout = 20000
)

// maxKeepAliveMs is the largest interval the CONNECT keep-alive field holds.
const maxKeepAliveMs = 0xFFFF * 1000

// AuthMode selects how the device authenticates.
type AuthMode int

const (
	AuthModeSecret AuthMode = iota
	AuthModeCert
)

func (m AuthMode) String() string {
	if m == AuthModeCert {
		return "cert"
	}
	return "secret"
}

// Config is the device identity and session policy.
type Config struct {
	DeviceName string `yaml:"device_name"`
	ProductID  string `yaml:"product_id"`

	// DeviceSecret is the base64 device key. Set either it or CertFile and KeyFile.
	DeviceSecret string `yaml:"device_secret"`
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`

	// CAFile optionally pins the broker CA for TLS endpoints.
	CAFile string `yaml:"ca_file"`

	// Endpoint overrides the broker address derived from the product id.
	Endpoint string `yaml:"endpoint"`

	// CommandTimeout is the ack deadline for connect, publish and
	// (un)subscribe, in milliseconds.
	CommandTimeout int `yaml:"command_timeout"`

	// KeepAliveIntervalMs is the ping interval. 0 disables keep-alive.
	KeepAliveIntervalMs int `yaml:"keep_alive_interval_ms"`

	AutoConnectEnable bool `yaml:"auto_connect_enable"`

	// MaxRetryCount caps consecutive reconnect attempts. 0 means unlimited.
	MaxRetryCount int `yaml:"max_retry_count"`

	CleanSession bool   `yaml:"clean_session"`
	LogLevel     string `yaml:"log_level"`
}

// DefaultConfig returns a Config with every policy field set to its default.
func DefaultConfig() *Config {
	return &Config{
		CommandTimeout:      5000,
		KeepAliveIntervalMs: 240 * 1000,
		AutoConnectEnable:   true,
		MaxRetryCount:       10,
		CleanSession:        true,
		LogLevel:            "info",
	}
}

// LoadConfig reads a YAML file over the defaults, applies IOT_* environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Field: path, Reason: err.Error()}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"IOT_DEVICE_NAME":   &cfg.DeviceName,
		"IOT_PRODUCT_ID":    &cfg.ProductID,
		"IOT_DEVICE_SECRET": &cfg.DeviceSecret,
		"IOT_CERT_FILE":     &cfg.CertFile,
		"IOT_KEY_FILE":      &cfg.KeyFile,
		"IOT_CA_FILE":       &cfg.CAFile,
		"IOT_ENDPOINT":      &cfg.Endpoint,
		"IOT_LOG_LEVEL":     &cfg.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := envLookup(name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"IOT_COMMAND_TIMEOUT":        &cfg.CommandTimeout,
		"IOT_KEEP_ALIVE_INTERVAL_MS": &cfg.KeepAliveIntervalMs,
		"IOT_MAX_RETRY_COUNT":        &cfg.MaxRetryCount,
	}
	for name, dst := range ints {
		v, ok := envLookup(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: name, Reason: "not an integer"}
		}
		*dst = n
	}

	bools := map[string]*bool{
		"IOT_AUTO_CONNECT_ENABLE": &cfg.AutoConnectEnable,
		"IOT_CLEAN_SESSION":       &cfg.CleanSession,
	}
	for name, dst := range bools {
		v, ok := envLookup(name)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Field: name, Reason: "not a boolean"}
		}
		*dst = b
	}
	return nil
}

// Validate checks every field and joins all problems found.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, reason string) {
		errs = append(errs, &ConfigError{Field: field, Reason: reason})
	}

	if c.ProductID == "" {
		add("product_id", "required")
	}
	if c.DeviceName == "" {
		add("device_name", "required")
	}

	switch {
	case c.DeviceSecret != "" && (c.CertFile != "" || c.KeyFile != ""):
		add("device_secret", "set either device_secret or cert_file and key_file")
	case c.DeviceSecret != "":
		if _, err := base64.StdEncoding.DecodeString(c.DeviceSecret); err != nil {
			add("device_secret", "not valid base64")
		}
	case c.CertFile == "" && c.KeyFile == "":
		add("device_secret", "device_secret or cert_file and key_file required")
	case c.CertFile == "":
		add("cert_file", "required with key_file")
	case c.KeyFile == "":
		add("key_file", "required with cert_file")
	}

	if c.CommandTimeout < MinCommandTimeout || c.CommandTimeout > MaxCommandTimeout {
		add("command_timeout", fmt.Sprintf("must be between %d and %d ms", MinCommandTimeout, MaxCommandTimeout))
	}
	if c.KeepAliveIntervalMs < 0 || c.KeepAliveIntervalMs > maxKeepAliveMs {
		add("keep_alive_interval_ms", fmt.Sprintf("must be between 0 and %d", maxKeepAliveMs))
	}
	if c.MaxRetryCount < 0 {
		add("max_retry_count", "must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		add("log_level", err.Error())
	}

	return errors.Join(errs...)
}

// Mode reports the configured authentication mode.
func (c *Config) Mode() AuthMode {
	if c.DeviceSecret == "" && c.CertFile != "" {
		return AuthModeCert
	}
	return AuthModeSecret
}

// ClientID is the product id followed by the device name.
func (c *Config) ClientID() string {
	return c.ProductID + c.DeviceName
}

// BrokerEndpoint returns Endpoint, or the product's hub address: plain TCP
// for secret mode and TLS for certificate mode.
func (c *Config) BrokerEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	host := strings.ToLower(c.ProductID) + ".iotcloud.tencentdevices.com"
	if c.Mode() == AuthModeCert {
		return "tls://" + host + ":8883"
	}
	return "tcp://" + host + ":1883"
}

func (c *Config) commandTimeout() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Millisecond
}

func (c *Config) keepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveIntervalMs) * time.Millisecond
}

// TLSConfig builds the client TLS configuration from CAFile and, in
// certificate mode, the device key pair. It returns nil when neither is set.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if c.CAFile == "" && c.Mode() != AuthModeCert {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, &ConfigError{Field: "ca_file", Reason: err.Error()}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &ConfigError{Field: "ca_file", Reason: "no certificates found"}
		}
		cfg.RootCAs = pool
	}

	if c.Mode() == AuthModeCert {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, &ConfigError{Field: "cert_file", Reason: err.Error()}
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
