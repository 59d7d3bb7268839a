package iotmqtt

import "errors"

// PUBLISH packet errors.
var (
	ErrTopicNameEmpty   = errors.New("topic name cannot be empty")
	ErrInvalidQoS       = errors.New("invalid QoS level")
	ErrPacketIDRequired = errors.New("packet identifier required for QoS > 0")
)

// PublishPacket represents an MQTT PUBLISH packet.
type PublishPacket struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	DUP      bool
	PacketID uint16
}

// Type returns the packet type.
func (p *PublishPacket) Type() PacketType { return PacketPUBLISH }

func (p *PublishPacket) flags() byte {
	var flags byte
	if p.DUP {
		flags |= 0x08
	}
	flags |= (p.QoS & 0x03) << 1
	if p.Retain {
		flags |= 0x01
	}
	return flags
}

func (p *PublishPacket) appendBody(dst []byte) ([]byte, error) {
	dst, err := appendString(dst, p.Topic)
	if err != nil {
		return nil, err
	}
	if p.QoS > QoS0 {
		dst = encodePacketID(dst, p.PacketID)
	}
	return append(dst, p.Payload...), nil
}

func (p *PublishPacket) decodeBody(r *packetReader, flags byte) error {
	p.DUP = flags&0x08 != 0
	p.QoS = (flags >> 1) & 0x03
	p.Retain = flags&0x01 != 0

	var err error
	if p.Topic, err = r.readString(); err != nil {
		return err
	}
	if p.QoS > QoS0 {
		if p.PacketID, err = r.readUint16(); err != nil {
			return err
		}
	}
	p.Payload = r.rest()
	return p.Validate()
}

// Validate validates the packet contents.
func (p *PublishPacket) Validate() error {
	if p.Topic == "" {
		return ErrTopicNameEmpty
	}
	if p.QoS > QoS1 {
		return ErrInvalidQoS
	}
	if p.QoS > QoS0 && p.PacketID == 0 {
		return ErrPacketIDRequired
	}
	if p.QoS == QoS0 && p.DUP {
		return ErrInvalidPacketFlags
	}
	return nil
}

// ToMessage converts the packet to an application message.
func (p *PublishPacket) ToMessage() *Message {
	return &Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       p.QoS,
		Retain:    p.Retain,
		Duplicate: p.DUP,
		PacketID:  p.PacketID,
	}
}
