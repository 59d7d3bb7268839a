package iotmqtt

import "errors"

// PacketType represents an MQTT control packet type.
type PacketType byte

// MQTT 3.1.1 control packet types.
const (
	PacketCONNECT     PacketType = 1
	PacketCONNACK     PacketType = 2
	PacketPUBLISH     PacketType = 3
	PacketPUBACK      PacketType = 4
	PacketPUBREC      PacketType = 5
	PacketPUBREL      PacketType = 6
	PacketPUBCOMP     PacketType = 7
	PacketSUBSCRIBE   PacketType = 8
	PacketSUBACK      PacketType = 9
	PacketUNSUBSCRIBE PacketType = 10
	PacketUNSUBACK    PacketType = 11
	PacketPINGREQ     PacketType = 12
	PacketPINGRESP    PacketType = 13
	PacketDISCONNECT  PacketType = 14
)

// String returns the string representation of the packet type.
func (p PacketType) String() string {
	switch p {
	case PacketCONNECT:
		return "CONNECT"
	case PacketCONNACK:
		return "CONNACK"
	case PacketPUBLISH:
		return "PUBLISH"
	case PacketPUBACK:
		return "PUBACK"
	case PacketPUBREC:
		return "PUBREC"
	case PacketPUBREL:
		return "PUBREL"
	case PacketPUBCOMP:
		return "PUBCOMP"
	case PacketSUBSCRIBE:
		return "SUBSCRIBE"
	case PacketSUBACK:
		return "SUBACK"
	case PacketUNSUBSCRIBE:
		return "UNSUBSCRIBE"
	case PacketUNSUBACK:
		return "UNSUBACK"
	case PacketPINGREQ:
		return "PINGREQ"
	case PacketPINGRESP:
		return "PINGRESP"
	case PacketDISCONNECT:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Valid returns true if the packet type is defined by MQTT 3.1.1.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketDISCONNECT
}

// Fixed header errors.
var (
	ErrInvalidPacketType  = errors.New("invalid packet type")
	ErrInvalidPacketFlags = errors.New("invalid packet flags")
)

// FixedHeader represents the fixed header of an MQTT control packet.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// appendTo appends the encoded header to dst.
func (h FixedHeader) appendTo(dst []byte) ([]byte, error) {
	if !h.PacketType.Valid() {
		return dst, ErrInvalidPacketType
	}

	dst = append(dst, byte(h.PacketType)<<4|(h.Flags&0x0F))
	return appendVarint(dst, h.RemainingLength)
}

// Size returns the encoded size of the fixed header in bytes.
func (h FixedHeader) Size() int {
	return 1 + varintSize(h.RemainingLength)
}

// decodeFixedHeader parses the fixed header at the front of buf and returns
// the number of header bytes consumed.
func decodeFixedHeader(buf []byte) (FixedHeader, int, error) {
	var h FixedHeader
	if len(buf) < 1 {
		return h, 0, ErrIncomplete
	}

	h.PacketType = PacketType(buf[0] >> 4)
	h.Flags = buf[0] & 0x0F

	if !h.PacketType.Valid() {
		return h, 1, ErrInvalidPacketType
	}

	length, n, err := decodeVarint(buf[1:])
	if err != nil {
		return h, 1 + n, err
	}

	h.RemainingLength = length
	return h, 1 + n, nil
}

// validateFlags checks the reserved flag bits for the packet type.
func (h FixedHeader) validateFlags() error {
	switch h.PacketType {
	case PacketPUBLISH:
		// QoS 3 is reserved
		if (h.Flags>>1)&0x03 > 2 {
			return ErrInvalidPacketFlags
		}
		return nil

	case PacketPUBREL, PacketSUBSCRIBE, PacketUNSUBSCRIBE:
		if h.Flags != 0x02 {
			return ErrInvalidPacketFlags
		}
		return nil

	default:
		if h.Flags != 0x00 {
			return ErrInvalidPacketFlags
		}
		return nil
	}
}
