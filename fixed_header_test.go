package iotmqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "CONNECT", PacketCONNECT.String())
	assert.Equal(t, "PUBACK", PacketPUBACK.String())
	assert.Equal(t, "DISCONNECT", PacketDISCONNECT.String())
	assert.False(t, PacketType(0).Valid())
	assert.False(t, PacketType(15).Valid())
}

func TestFixedHeaderRoundTrip(t *testing.T) {
	tests := []FixedHeader{
		{PacketType: PacketPINGREQ},
		{PacketType: PacketPUBLISH, Flags: 0x0B, RemainingLength: 321},
		{PacketType: PacketSUBSCRIBE, Flags: 0x02, RemainingLength: 20000},
	}

	for _, h := range tests {
		t.Run(h.PacketType.String(), func(t *testing.T) {
			buf, err := h.appendTo(nil)
			require.NoError(t, err)
			assert.Len(t, buf, h.Size())

			got, n, err := decodeFixedHeader(buf)
			require.NoError(t, err)
			assert.Equal(t, len(buf), n)
			assert.Equal(t, h, got)
		})
	}
}

func TestDecodeFixedHeaderErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, _, err := decodeFixedHeader(nil)
		assert.ErrorIs(t, err, ErrIncomplete)
	})

	t.Run("length continues past buffer", func(t *testing.T) {
		_, _, err := decodeFixedHeader([]byte{0x30, 0x80})
		assert.ErrorIs(t, err, ErrIncomplete)
	})

	t.Run("reserved type", func(t *testing.T) {
		_, _, err := decodeFixedHeader([]byte{0x00, 0x00})
		assert.ErrorIs(t, err, ErrInvalidPacketType)
	})
}

func TestFixedHeaderFlags(t *testing.T) {
	tests := []struct {
		name  string
		h     FixedHeader
		valid bool
	}{
		{"publish qos1 retain", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x03}, true},
		{"publish qos3", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x06}, false},
		{"subscribe", FixedHeader{PacketType: PacketSUBSCRIBE, Flags: 0x02}, true},
		{"subscribe without reserved bit", FixedHeader{PacketType: PacketSUBSCRIBE}, false},
		{"unsubscribe", FixedHeader{PacketType: PacketUNSUBSCRIBE, Flags: 0x02}, true},
		{"puback with flags", FixedHeader{PacketType: PacketPUBACK, Flags: 0x01}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.h.validateFlags()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPacketFlags)
			}
		})
	}
}
