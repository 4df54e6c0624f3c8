package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPacketMarshalLayout checks the header bytes against the wire layout.
func TestPacketMarshalLayout(t *testing.T) {
	packet := Packet{
		Type:     PacketAudio,
		Sequence: 0x01020304,
		Payload:  []byte{0xAA, 0xBB},
	}

	data := packet.Marshal()

	assert.Equal(t, []byte{'W', 'M', ProtocolVersion, 0, 1, 2, 3, 4, 0xAA, 0xBB}, data)
}

func TestPacketMarshalDropsPayloadForControlTypes(t *testing.T) {
	for _, typ := range []PacketType{PacketKeepalive, PacketDisconnect, PacketAck} {
		t.Run(typ.String(), func(t *testing.T) {
			data := Packet{Type: typ, Sequence: 7, Payload: []byte{1, 2}}.Marshal()
			assert.Len(t, data, 8)
			assert.Equal(t, byte(typ), data[3])
		})
	}
}

func TestParsePacket(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
		want    Packet
	}{
		{
			name:    "empty",
			data:    nil,
			wantErr: ErrShortPacket,
		},
		{
			name:    "seven bytes",
			data:    []byte{'W', 'M', 1, 0, 0, 0, 0},
			wantErr: ErrShortPacket,
		},
		{
			name:    "bad magic",
			data:    []byte{'X', 'M', 1, 0, 0, 0, 0, 1},
			wantErr: ErrBadMagic,
		},
		{
			name:    "unknown type",
			data:    []byte{'W', 'M', 1, 9, 0, 0, 0, 1},
			wantErr: ErrUnknownType,
		},
		{
			name: "audio without payload",
			data: []byte{'W', 'M', 1, 0, 0, 0, 0, 5},
			want: Packet{Version: 1, Type: PacketAudio, Sequence: 5},
		},
		{
			name: "audio with payload",
			data: []byte{'W', 'M', 1, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0x10, 0x00},
			want: Packet{Version: 1, Type: PacketAudio, Sequence: 0xFFFFFFFF, Payload: []byte{0x10, 0x00}},
		},
		{
			name: "keepalive ignores trailing bytes",
			data: []byte{'W', 'M', 2, 1, 0, 0, 1, 0, 0xDE, 0xAD},
			want: Packet{Version: 2, Type: PacketKeepalive, Sequence: 256},
		},
		{
			name: "disconnect",
			data: []byte{'W', 'M', 1, 2, 0, 0, 0, 3},
			want: Packet{Version: 1, Type: PacketDisconnect, Sequence: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePacket(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePacketCopiesPayload(t *testing.T) {
	data := Packet{Type: PacketAudio, Sequence: 1, Payload: []byte{1, 2, 3, 4}}.Marshal()

	packet, err := ParsePacket(data)
	require.NoError(t, err)

	data[8] = 99
	assert.Equal(t, byte(1), packet.Payload[0])
}

func TestPacketRoundTrip(t *testing.T) {
	original := Packet{Version: ProtocolVersion, Type: PacketAudio, Sequence: 42, Payload: []byte{9, 8, 7, 6}}

	parsed, err := ParsePacket(original.Marshal())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "AUDIO", PacketAudio.String())
	assert.Equal(t, "ACK", PacketAck.String())
	assert.Equal(t, "PacketType(200)", PacketType(200).String())
}
