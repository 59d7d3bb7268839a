package iotmqtt

import "errors"

// SUBSCRIBE packet errors.
var ErrNoTopicFilters = errors.New("at least one topic filter required")

// TopicRequest is one topic filter of a SUBSCRIBE packet.
type TopicRequest struct {
	Filter string
	QoS    byte
}

// SubscribePacket represents an MQTT SUBSCRIBE packet.
type SubscribePacket struct {
	PacketID uint16
	Topics   []TopicRequest
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

func (p *SubscribePacket) flags() byte { return 0x02 }

func (p *SubscribePacket) appendBody(dst []byte) ([]byte, error) {
	dst = encodePacketID(dst, p.PacketID)
	for _, t := range p.Topics {
		var err error
		if dst, err = appendString(dst, t.Filter); err != nil {
			return nil, err
		}
		dst = append(dst, t.QoS)
	}
	return dst, nil
}

func (p *SubscribePacket) decodeBody(r *packetReader, _ byte) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	for r.remaining() > 0 {
		filter, err := r.readString()
		if err != nil {
			return err
		}
		qos, err := r.readByte()
		if err != nil {
			return err
		}
		if qos&0xFC != 0 {
			return ErrInvalidQoS
		}
		p.Topics = append(p.Topics, TopicRequest{Filter: filter, QoS: qos})
	}
	return p.Validate()
}

// Validate validates the packet contents.
func (p *SubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.Topics) == 0 {
		return ErrNoTopicFilters
	}
	for _, t := range p.Topics {
		if err := ValidateTopicFilter(t.Filter); err != nil {
			return err
		}
		if t.QoS > 2 {
			return ErrInvalidQoS
		}
	}
	return nil
}
