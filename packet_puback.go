package iotmqtt

import "errors"

// ErrInvalidPacketID is returned for a zero packet identifier.
var ErrInvalidPacketID = errors.New("invalid packet identifier")

// PubackPacket represents an MQTT PUBACK packet.
type PubackPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *PubackPacket) Type() PacketType { return PacketPUBACK }

func (p *PubackPacket) flags() byte { return 0 }

func (p *PubackPacket) appendBody(dst []byte) ([]byte, error) {
	return encodePacketID(dst, p.PacketID), nil
}

func (p *PubackPacket) decodeBody(r *packetReader, _ byte) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	return p.Validate()
}

// Validate validates the packet contents.
func (p *PubackPacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	return nil
}
