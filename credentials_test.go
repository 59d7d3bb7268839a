package iotmqtt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceCredentials(t *testing.T) {
	now := time.Unix(1700000000, 0)

	t.Run("secret mode", func(t *testing.T) {
		creds, err := DeviceCredentials(validConfig(), now, "a1b2c")
		require.NoError(t, err)

		assert.Equal(t, "QWERTY1234sensor-01", creds.ClientID)
		assert.Equal(t, "QWERTY1234sensor-01;21010406;a1b2c;1700003600", creds.Username)
		assert.Equal(t, "fe6cec3fd529f7f03e863df6206b48024efa5381a7a9e13ec7bc3289be909781;hmacsha256", string(creds.Password))
	})

	t.Run("cert mode has no password", func(t *testing.T) {
		cfg := validConfig()
		cfg.DeviceSecret = ""
		cfg.CertFile, cfg.KeyFile = "c.pem", "k.pem"

		creds, err := DeviceCredentials(cfg, now, "a1b2c")
		require.NoError(t, err)
		assert.Equal(t, "QWERTY1234sensor-01;21010406;a1b2c;1700003600", creds.Username)
		assert.Nil(t, creds.Password)
	})

	t.Run("bad secret", func(t *testing.T) {
		cfg := validConfig()
		cfg.DeviceSecret = "%%%"

		_, err := DeviceCredentials(cfg, now, "a1b2c")
		var ce *ConfigError
		assert.ErrorAs(t, err, &ce)
	})
}

func TestNewConnID(t *testing.T) {
	a, b := newConnID(), newConnID()
	assert.Len(t, a, 5)
	assert.Equal(t, strings.ToLower(a), a)
	assert.NotEqual(t, a, b)
}
