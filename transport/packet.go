package transport

import (
	"errors"
)

// PacketType identifies the type of a streaming protocol datagram.
type PacketType byte

const (
	// PacketHandshake carries hello/negotiation messages exchanged before
	// the session reaches the streaming state.
	PacketHandshake PacketType = iota + 1

	// PacketControl carries one reliable control-channel frame.
	PacketControl

	// PacketData carries one media/telemetry fragment with a stream header.
	PacketData
)

// Packet represents a single protocol datagram.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	// Format: [packet type (1 byte)][data (variable length)]
	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.New("packet too short")
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}
	copy(packet.Data, data[1:])

	return packet, nil
}
