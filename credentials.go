package iotmqtt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// hubAppID identifies this client library to the device hub.
	hubAppID = "21010406"

	// credentialLifetime is how long a signed username stays valid.
	credentialLifetime = time.Hour

	signMethod = "hmacsha256"
)

// Credentials are the CONNECT identity fields for one connection attempt.
type Credentials struct {
	ClientID string
	Username string
	Password []byte
}

// newConnID returns the short random connection id embedded in the username.
func newConnID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
}

// DeviceCredentials derives the CONNECT identity for cfg. The username is
// "<clientid>;<appid>;<connid>;<expiry>". In secret mode the password is the
// hex HMAC-SHA256 of the username keyed with the decoded device secret,
// followed by ";hmacsha256". Certificate mode sends no password.
func DeviceCredentials(cfg *Config, now time.Time, connID string) (Credentials, error) {
	clientID := cfg.ClientID()
	username := fmt.Sprintf("%s;%s;%s;%d", clientID, hubAppID, connID, now.Add(credentialLifetime).Unix())

	creds := Credentials{ClientID: clientID, Username: username}
	if cfg.Mode() == AuthModeCert {
		return creds, nil
	}

	key, err := base64.StdEncoding.DecodeString(cfg.DeviceSecret)
	if err != nil {
		return Credentials{}, &ConfigError{Field: "device_secret", Reason: "not valid base64"}
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(username))
	creds.Password = []byte(hex.EncodeToString(mac.Sum(nil)) + ";" + signMethod)
	return creds, nil
}
