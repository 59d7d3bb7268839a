package iotmqtt

// Packet is the interface that all MQTT control packets implement.
// Packets are encoded with EncodePacket and decoded with DecodePacket.
type Packet interface {
	// Type returns the packet type.
	Type() PacketType

	// Validate validates the packet contents.
	Validate() error

	flags() byte
	appendBody(dst []byte) ([]byte, error)
	decodeBody(r *packetReader, flags byte) error
}

// QoS levels supported by the session.
const (
	QoS0 byte = 0
	QoS1 byte = 1
)

// Message represents an application message received from or sent to the broker.
type Message struct {
	// Topic is the topic name.
	Topic string

	// Payload is the application payload.
	Payload []byte

	// QoS is the delivery level (0 or 1).
	QoS byte

	// Retain indicates a retained message.
	Retain bool

	// Duplicate is set on redelivery of a QoS 1 message.
	Duplicate bool

	// PacketID identifies a QoS 1 message; zero for QoS 0.
	PacketID uint16
}

// Clone creates a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}

	clone := *m
	if m.Payload != nil {
		clone.Payload = make([]byte, len(m.Payload))
		copy(clone.Payload, m.Payload)
	}

	return &clone
}

func encodePacketID(dst []byte, id uint16) []byte {
	return append(dst, byte(id>>8), byte(id))
}
