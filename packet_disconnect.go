package iotmqtt

// DisconnectPacket represents an MQTT DISCONNECT packet.
type DisconnectPacket struct{}

// Type returns the packet type.
func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

func (p *DisconnectPacket) flags() byte { return 0 }

func (p *DisconnectPacket) appendBody(dst []byte) ([]byte, error) { return dst, nil }

func (p *DisconnectPacket) decodeBody(_ *packetReader, _ byte) error { return nil }

// Validate validates the packet contents.
func (p *DisconnectPacket) Validate() error { return nil }
