package iotmqtt

import (
	"errors"
	"fmt"
)

const (
	protocolName  = "MQTT"
	protocolLevel = 4 // MQTT 3.1.1
)

// CONNECT packet errors.
var (
	ErrInvalidProtocol     = errors.New("invalid protocol name or level")
	ErrInvalidConnectFlags = errors.New("invalid connect flags")
	ErrClientIDRequired    = errors.New("client identifier required without clean session")
)

// ConnectPacket represents an MQTT CONNECT packet.
type ConnectPacket struct {
	ClientID     string
	Username     string
	Password     []byte
	CleanSession bool
	KeepAlive    uint16
}

// Type returns the packet type.
func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

func (p *ConnectPacket) flags() byte { return 0 }

func (p *ConnectPacket) connectFlags() byte {
	var f byte
	if p.Username != "" {
		f |= 0x80
	}
	if len(p.Password) > 0 {
		f |= 0x40
	}
	if p.CleanSession {
		f |= 0x02
	}
	return f
}

func (p *ConnectPacket) appendBody(dst []byte) ([]byte, error) {
	dst, _ = appendString(dst, protocolName)
	dst = append(dst, protocolLevel, p.connectFlags())
	dst = encodePacketID(dst, p.KeepAlive)

	var err error
	if dst, err = appendString(dst, p.ClientID); err != nil {
		return nil, fmt.Errorf("client id: %w", err)
	}
	if p.Username != "" {
		if dst, err = appendString(dst, p.Username); err != nil {
			return nil, fmt.Errorf("username: %w", err)
		}
	}
	if len(p.Password) > 0 {
		if dst, err = appendBinary(dst, p.Password); err != nil {
			return nil, fmt.Errorf("password: %w", err)
		}
	}
	return dst, nil
}

func (p *ConnectPacket) decodeBody(r *packetReader, _ byte) error {
	name, err := r.readString()
	if err != nil {
		return err
	}
	level, err := r.readByte()
	if err != nil {
		return err
	}
	if name != protocolName || level != protocolLevel {
		return ErrInvalidProtocol
	}

	flags, err := r.readByte()
	if err != nil {
		return err
	}
	// Reserved bit and will flags are not supported.
	if flags&0x01 != 0 || flags&0x3C != 0 {
		return ErrInvalidConnectFlags
	}
	p.CleanSession = flags&0x02 != 0

	if p.KeepAlive, err = r.readUint16(); err != nil {
		return err
	}
	if p.ClientID, err = r.readString(); err != nil {
		return err
	}
	if flags&0x80 != 0 {
		if p.Username, err = r.readString(); err != nil {
			return err
		}
	}
	if flags&0x40 != 0 {
		if p.Password, err = r.readBinary(); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the packet contents.
func (p *ConnectPacket) Validate() error {
	if p.ClientID == "" && !p.CleanSession {
		return ErrClientIDRequired
	}
	if len(p.Password) > 0 && p.Username == "" {
		return ErrInvalidConnectFlags
	}
	return validateString(p.ClientID)
}

// ConnackCode is the CONNACK return code.
type ConnackCode byte

// CONNACK return codes.
const (
	ConnackAccepted            ConnackCode = 0x00
	ConnackBadProtocolVersion  ConnackCode = 0x01
	ConnackIdentifierRejected  ConnackCode = 0x02
	ConnackServerUnavailable   ConnackCode = 0x03
	ConnackBadUsernamePassword ConnackCode = 0x04
	ConnackNotAuthorized       ConnackCode = 0x05
)

// String returns the description of the return code.
func (c ConnackCode) String() string {
	switch c {
	case ConnackAccepted:
		return "connection accepted"
	case ConnackBadProtocolVersion:
		return "unacceptable protocol version"
	case ConnackIdentifierRejected:
		return "identifier rejected"
	case ConnackServerUnavailable:
		return "server unavailable"
	case ConnackBadUsernamePassword:
		return "bad user name or password"
	case ConnackNotAuthorized:
		return "not authorized"
	default:
		return fmt.Sprintf("unknown return code 0x%02x", byte(c))
	}
}

// ConnackPacket represents an MQTT CONNACK packet.
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     ConnackCode
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

func (p *ConnackPacket) flags() byte { return 0 }

func (p *ConnackPacket) appendBody(dst []byte) ([]byte, error) {
	var ack byte
	if p.SessionPresent {
		ack = 0x01
	}
	return append(dst, ack, byte(p.ReturnCode)), nil
}

func (p *ConnackPacket) decodeBody(r *packetReader, _ byte) error {
	ack, err := r.readByte()
	if err != nil {
		return err
	}
	if ack&0xFE != 0 {
		return ErrInvalidConnectFlags
	}
	code, err := r.readByte()
	if err != nil {
		return err
	}
	p.SessionPresent = ack == 0x01
	p.ReturnCode = ConnackCode(code)
	return nil
}

// Validate validates the packet contents.
func (p *ConnackPacket) Validate() error {
	if p.SessionPresent && p.ReturnCode != ConnackAccepted {
		return ErrInvalidConnectFlags
	}
	return nil
}
