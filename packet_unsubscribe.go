package iotmqtt

// UnsubscribePacket represents an MQTT UNSUBSCRIBE packet.
type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
}

// Type returns the packet type.
func (p *UnsubscribePacket) Type() PacketType { return PacketUNSUBSCRIBE }

func (p *UnsubscribePacket) flags() byte { return 0x02 }

func (p *UnsubscribePacket) appendBody(dst []byte) ([]byte, error) {
	dst = encodePacketID(dst, p.PacketID)
	for _, filter := range p.TopicFilters {
		var err error
		if dst, err = appendString(dst, filter); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func (p *UnsubscribePacket) decodeBody(r *packetReader, _ byte) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	for r.remaining() > 0 {
		filter, err := r.readString()
		if err != nil {
			return err
		}
		p.TopicFilters = append(p.TopicFilters, filter)
	}
	return p.Validate()
}

// Validate validates the packet contents.
func (p *UnsubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.TopicFilters) == 0 {
		return ErrNoTopicFilters
	}
	for _, filter := range p.TopicFilters {
		if err := ValidateTopicFilter(filter); err != nil {
			return err
		}
	}
	return nil
}

// UnsubackPacket represents an MQTT UNSUBACK packet.
type UnsubackPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

func (p *UnsubackPacket) flags() byte { return 0 }

func (p *UnsubackPacket) appendBody(dst []byte) ([]byte, error) {
	return encodePacketID(dst, p.PacketID), nil
}

func (p *UnsubackPacket) decodeBody(r *packetReader, _ byte) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	return p.Validate()
}

// Validate validates the packet contents.
func (p *UnsubackPacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	return nil
}
