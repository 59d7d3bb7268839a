package iotmqtt

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete reports that more bytes are needed before a packet can
	// be decoded. The caller keeps its buffer and retries.
	ErrIncomplete = errors.New("iotmqtt: incomplete packet")

	// ErrMalformed reports a frame that can never be decoded. The caller
	// drops the connection.
	ErrMalformed = errors.New("iotmqtt: malformed packet")

	ErrPacketTooLarge    = errors.New("iotmqtt: packet exceeds maximum size")
	ErrUnsupportedPacket = errors.New("iotmqtt: unsupported packet type")
)

// DecodeError describes why DecodePacket could not produce a packet.
// Kind is ErrIncomplete or ErrMalformed; check with errors.Is.
type DecodeError struct {
	Kind       error
	PacketType PacketType
	Cause      error
}

func (e *DecodeError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	if e.PacketType.Valid() {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.PacketType, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *DecodeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func malformed(pt PacketType, cause error) *DecodeError {
	return &DecodeError{Kind: ErrMalformed, PacketType: pt, Cause: cause}
}

// DecodePacket decodes one control packet from the front of buf and returns
// the number of bytes it occupied. If maxSize is greater than 0, packets
// with a larger remaining length are malformed. DecodePacket has no side
// effects; on error buf is left for the caller to keep or discard.
func DecodePacket(buf []byte, maxSize uint32) (Packet, int, error) {
	header, n, err := decodeFixedHeader(buf)
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			return nil, 0, &DecodeError{Kind: ErrIncomplete}
		}
		return nil, 0, malformed(header.PacketType, err)
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, 0, malformed(header.PacketType, ErrPacketTooLarge)
	}

	total := n + int(header.RemainingLength)
	if len(buf) < total {
		return nil, 0, &DecodeError{Kind: ErrIncomplete, PacketType: header.PacketType}
	}

	if err := header.validateFlags(); err != nil {
		return nil, 0, malformed(header.PacketType, err)
	}

	var packet Packet
	switch header.PacketType {
	case PacketCONNECT:
		packet = &ConnectPacket{}
	case PacketCONNACK:
		packet = &ConnackPacket{}
	case PacketPUBLISH:
		packet = &PublishPacket{}
	case PacketPUBACK:
		packet = &PubackPacket{}
	case PacketSUBSCRIBE:
		packet = &SubscribePacket{}
	case PacketSUBACK:
		packet = &SubackPacket{}
	case PacketUNSUBSCRIBE:
		packet = &UnsubscribePacket{}
	case PacketUNSUBACK:
		packet = &UnsubackPacket{}
	case PacketPINGREQ:
		packet = &PingreqPacket{}
	case PacketPINGRESP:
		packet = &PingrespPacket{}
	case PacketDISCONNECT:
		packet = &DisconnectPacket{}
	default:
		return nil, 0, malformed(header.PacketType, ErrUnsupportedPacket)
	}

	r := &packetReader{buf: buf[n:total]}
	if err := packet.decodeBody(r, header.Flags); err != nil {
		return nil, 0, malformed(header.PacketType, err)
	}
	if r.remaining() != 0 {
		return nil, 0, malformed(header.PacketType, errors.New("trailing bytes after packet"))
	}

	return packet, total, nil
}

// EncodePacket validates and encodes a control packet.
// If maxSize is greater than 0, packets larger than maxSize return ErrPacketTooLarge.
func EncodePacket(packet Packet, maxSize uint32) ([]byte, error) {
	if err := packet.Validate(); err != nil {
		return nil, err
	}

	body, err := packet.appendBody(nil)
	if err != nil {
		return nil, err
	}

	header := FixedHeader{
		PacketType:      packet.Type(),
		Flags:           packet.flags(),
		RemainingLength: uint32(len(body)),
	}

	if maxSize > 0 && uint32(header.Size()+len(body)) > maxSize {
		return nil, ErrPacketTooLarge
	}

	out := make([]byte, 0, header.Size()+len(body))
	out, err = header.appendTo(out)
	if err != nil {
		return nil, err
	}

	return append(out, body...), nil
}
