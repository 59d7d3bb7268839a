package iotmqtt

// SubackFailure is the SUBACK return code for a rejected subscription.
const SubackFailure byte = 0x80

// SubackPacket represents an MQTT SUBACK packet.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []byte
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

func (p *SubackPacket) flags() byte { return 0 }

func (p *SubackPacket) appendBody(dst []byte) ([]byte, error) {
	dst = encodePacketID(dst, p.PacketID)
	return append(dst, p.ReturnCodes...), nil
}

func (p *SubackPacket) decodeBody(r *packetReader, _ byte) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	p.ReturnCodes = r.rest()
	return p.Validate()
}

// Validate validates the packet contents.
func (p *SubackPacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.ReturnCodes) == 0 {
		return ErrNoTopicFilters
	}
	for _, code := range p.ReturnCodes {
		if code > 2 && code != SubackFailure {
			return ErrInvalidQoS
		}
	}
	return nil
}

// Granted reports whether the i-th subscription was accepted.
func (p *SubackPacket) Granted(i int) bool {
	return i < len(p.ReturnCodes) && p.ReturnCodes[i] != SubackFailure
}
