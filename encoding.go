package iotmqtt

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// Encoding errors.
var (
	ErrStringTooLong      = errors.New("string exceeds maximum length of 65535 bytes")
	ErrInvalidUTF8        = errors.New("invalid UTF-8 string")
	ErrStringContainsNull = errors.New("string contains null character")
	ErrVarintTooLarge     = errors.New("variable byte integer exceeds maximum value")
	ErrVarintMalformed    = errors.New("malformed variable byte integer")
)

const (
	maxUint16         = 65535
	maxVarint         = 268435455 // 0x0FFFFFFF
	varintContinueBit = 0x80
	varintValueMask   = 0x7F
)

// validateString checks the MQTT UTF-8 string rules without encoding.
func validateString(s string) error {
	if len(s) > maxUint16 {
		return ErrStringTooLong
	}

	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}

	for i := range len(s) {
		if s[i] == 0 {
			return ErrStringContainsNull
		}
	}

	return nil
}

// appendString appends a UTF-8 string with a 2-byte length prefix.
func appendString(dst []byte, s string) ([]byte, error) {
	if err := validateString(s); err != nil {
		return dst, err
	}

	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...), nil
}

// appendBinary appends binary data with a 2-byte length prefix.
func appendBinary(dst []byte, data []byte) ([]byte, error) {
	if len(data) > maxUint16 {
		return dst, ErrStringTooLong
	}

	dst = binary.BigEndian.AppendUint16(dst, uint16(len(data)))
	return append(dst, data...), nil
}

// appendVarint appends a variable byte integer.
func appendVarint(dst []byte, value uint32) ([]byte, error) {
	if value > maxVarint {
		return dst, ErrVarintTooLarge
	}

	for {
		encodedByte := byte(value & varintValueMask)
		value >>= 7

		if value > 0 {
			encodedByte |= varintContinueBit
		}

		dst = append(dst, encodedByte)

		if value == 0 {
			return dst, nil
		}
	}
}

// decodeVarint reads a variable byte integer from the front of buf.
// It reports ErrIncomplete when buf ends before the last length byte.
func decodeVarint(buf []byte) (uint32, int, error) {
	var value uint32
	var multiplier uint32 = 1

	for i := range 4 {
		if i >= len(buf) {
			return 0, i, ErrIncomplete
		}

		encodedByte := buf[i]
		value += uint32(encodedByte&varintValueMask) * multiplier

		if encodedByte&varintContinueBit == 0 {
			return value, i + 1, nil
		}

		multiplier *= 128
	}

	return 0, 4, ErrVarintMalformed
}

// varintSize returns the number of bytes needed to encode a variable byte integer.
func varintSize(value uint32) int {
	switch {
	case value < 128:
		return 1
	case value < 16384:
		return 2
	case value < 2097152:
		return 3
	default:
		return 4
	}
}

// packetReader walks the variable header and payload of one complete packet.
// Running past the end is a malformed packet, never an incomplete one, since
// the remaining length has already been satisfied.
type packetReader struct {
	buf []byte
	pos int
}

var errShortPacket = errors.New("packet shorter than its fields")

func (r *packetReader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *packetReader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, errShortPacket
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *packetReader) readUint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, errShortPacket
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *packetReader) readBinary() ([]byte, error) {
	length, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(length) {
		return nil, errShortPacket
	}
	data := make([]byte, length)
	copy(data, r.buf[r.pos:])
	r.pos += int(length)
	return data, nil
}

func (r *packetReader) readString() (string, error) {
	data, err := r.readBinary()
	if err != nil {
		return "", err
	}

	s := string(data)
	if err := validateString(s); err != nil {
		return "", err
	}
	return s, nil
}

// rest returns a copy of the unread bytes.
func (r *packetReader) rest() []byte {
	if r.remaining() == 0 {
		return nil
	}
	out := make([]byte, r.remaining())
	copy(out, r.buf[r.pos:])
	r.pos = len(r.buf)
	return out
}
