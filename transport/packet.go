package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/meomic/meomic/limits"
)

// PacketType identifies the type of a MeoMic packet.
type PacketType byte

const (
	// PacketAudio carries raw PCM samples.
	PacketAudio PacketType = iota
	// PacketKeepalive solicits an ACK and carries no audio.
	PacketKeepalive
	// PacketDisconnect ends the sender's connection.
	PacketDisconnect
	// PacketAck is sent by the receiver as a liveness signal.
	PacketAck
)

// ProtocolVersion is the version byte written into outgoing headers.
const ProtocolVersion byte = 1

// Magic is the fixed 2-byte tag that starts every packet.
var Magic = [2]byte{'W', 'M'}

// String returns a readable name for the packet type.
func (t PacketType) String() string {
	switch t {
	case PacketAudio:
		return "AUDIO"
	case PacketKeepalive:
		return "KEEPALIVE"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketAck:
		return "ACK"
	default:
		return fmt.Sprintf("PacketType(%d)", byte(t))
	}
}

// Valid reports whether t is one of the protocol packet types.
func (t PacketType) Valid() bool {
	return t <= PacketAck
}

// Packet represents a decoded MeoMic datagram.
type Packet struct {
	Version  byte
	Type     PacketType
	Sequence uint32
	// Payload holds PCM bytes for AUDIO packets and is nil for every other type.
	Payload []byte
}

// ParsePacket decodes a datagram. The returned payload is a copy, so data may
// be reused by the caller.
//
// Errors are ErrShortPacket, ErrBadMagic or ErrUnknownType; all of them mean
// the datagram is noise.
func ParsePacket(data []byte) (Packet, error) {
	if len(data) < limits.HeaderSize {
		return Packet{}, ErrShortPacket
	}
	if data[0] != Magic[0] || data[1] != Magic[1] {
		return Packet{}, ErrBadMagic
	}

	packet := Packet{
		Version:  data[2],
		Type:     PacketType(data[3]),
		Sequence: binary.BigEndian.Uint32(data[4:8]),
	}
	if !packet.Type.Valid() {
		return Packet{}, fmt.Errorf("%w: %d", ErrUnknownType, data[3])
	}

	if packet.Type == PacketAudio && len(data) > limits.HeaderSize {
		packet.Payload = make([]byte, len(data)-limits.HeaderSize)
		copy(packet.Payload, data[limits.HeaderSize:])
	}

	return packet, nil
}

// AppendTo appends the encoded packet to dst and returns the extended slice.
// The payload is only written for AUDIO packets.
func (p Packet) AppendTo(dst []byte) []byte {
	version := p.Version
	if version == 0 {
		version = ProtocolVersion
	}

	dst = append(dst, Magic[0], Magic[1], version, byte(p.Type))
	dst = binary.BigEndian.AppendUint32(dst, p.Sequence)
	if p.Type == PacketAudio {
		dst = append(dst, p.Payload...)
	}
	return dst
}

// Marshal encodes the packet for transmission.
func (p Packet) Marshal() []byte {
	size := limits.HeaderSize
	if p.Type == PacketAudio {
		size += len(p.Payload)
	}
	return p.AppendTo(make([]byte, 0, size))
}
