package iotmqtt

// PingreqPacket represents an MQTT PINGREQ packet.
type PingreqPacket struct{}

// Type returns the packet type.
func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

func (p *PingreqPacket) flags() byte { return 0 }

func (p *PingreqPacket) appendBody(dst []byte) ([]byte, error) { return dst, nil }

func (p *PingreqPacket) decodeBody(_ *packetReader, _ byte) error { return nil }

// Validate validates the packet contents.
func (p *PingreqPacket) Validate() error { return nil }

// PingrespPacket represents an MQTT PINGRESP packet.
type PingrespPacket struct{}

// Type returns the packet type.
func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

func (p *PingrespPacket) flags() byte { return 0 }

func (p *PingrespPacket) appendBody(dst []byte) ([]byte, error) { return dst, nil }

func (p *PingrespPacket) decodeBody(_ *packetReader, _ byte) error { return nil }

// Validate validates the packet contents.
func (p *PingrespPacket) Validate() error { return nil }
