package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtocolVersion is the version of the streaming protocol being spoken.
type ProtocolVersion uint16

// Version is the protocol version implemented by this package. Client and
// host must agree on it exactly; there is no cross-version compatibility.
const Version ProtocolVersion = 3

// Capability is one bit in the capability bitset advertised during the
// handshake. Session parameters are chosen from the intersection of the
// client's and host's sets.
type Capability uint64

const (
	CapVideoH264 Capability = 1 << iota
	CapVideoH265
	CapAudioPlayback
	CapMicrophone
	CapHaptics
	CapFoveatedEncoding
	CapSliceEncoding
)

// CapabilitySet is a bitset of capabilities.
type CapabilitySet uint64

// Has reports whether the set contains all bits of c.
func (s CapabilitySet) Has(c Capability) bool {
	return uint64(s)&uint64(c) == uint64(c)
}

// Add returns the set with c added.
func (s CapabilitySet) Add(c Capability) CapabilitySet {
	return CapabilitySet(uint64(s) | uint64(c))
}

// Intersect returns the capabilities present in both sets.
func (s CapabilitySet) Intersect(other CapabilitySet) CapabilitySet {
	return CapabilitySet(uint64(s) & uint64(other))
}

// Empty reports whether the set contains no capabilities.
func (s CapabilitySet) Empty() bool {
	return s == 0
}

// HandshakeKind discriminates handshake packet payloads.
type HandshakeKind uint8

const (
	KindClientHello HandshakeKind = iota + 1
	KindHostHello
	KindClientAccept
)

// StreamSettings are the negotiated stream parameters. They are fixed once
// the session is streaming and change only through an explicit settings
// push from the host.
type StreamSettings struct {
	VideoWidth      uint32
	VideoHeight     uint32
	RefreshRate     uint16 // Hz
	VideoBitrateKbps uint32
	AudioSampleRate uint32 // Hz
	AudioChannels   uint8
}

const streamSettingsSize = 19

func marshalStreamSettings(s *StreamSettings, data []byte) {
	binary.BigEndian.PutUint32(data[0:4], s.VideoWidth)
	binary.BigEndian.PutUint32(data[4:8], s.VideoHeight)
	binary.BigEndian.PutUint16(data[8:10], s.RefreshRate)
	binary.BigEndian.PutUint32(data[10:14], s.VideoBitrateKbps)
	binary.BigEndian.PutUint32(data[14:18], s.AudioSampleRate)
	data[18] = s.AudioChannels
}

func parseStreamSettings(data []byte) StreamSettings {
	return StreamSettings{
		VideoWidth:       binary.BigEndian.Uint32(data[0:4]),
		VideoHeight:      binary.BigEndian.Uint32(data[4:8]),
		RefreshRate:      binary.BigEndian.Uint16(data[8:10]),
		VideoBitrateKbps: binary.BigEndian.Uint32(data[10:14]),
		AudioSampleRate:  binary.BigEndian.Uint32(data[14:18]),
		AudioChannels:    data[18],
	}
}

// MarshalStreamSettings serializes settings alone, as carried by a
// TagSettingsChanged control message.
func MarshalStreamSettings(s *StreamSettings) ([]byte, error) {
	if s == nil {
		return nil, errors.New("settings cannot be nil")
	}
	data := make([]byte, streamSettingsSize)
	marshalStreamSettings(s, data)
	return data, nil
}

// ParseStreamSettings deserializes a settings blob.
func ParseStreamSettings(data []byte) (*StreamSettings, error) {
	if len(data) < streamSettingsSize {
		return nil, errors.New("stream settings too short")
	}
	s := parseStreamSettings(data)
	return &s, nil
}

// ClientHello advertises the client's protocol version, capabilities and
// display characteristics. It is the first packet of the handshake.
type ClientHello struct {
	Version       ProtocolVersion
	Capabilities  CapabilitySet
	DisplayWidth  uint32
	DisplayHeight uint32
	RefreshRate   uint16 // preferred, Hz
	MicSampleRate uint32 // Hz, zero when no microphone capability
}

// MarshalClientHello serializes a client hello.
//
// Format: [kind(1)][version(2)][caps(8)][width(4)][height(4)][refresh(2)][mic rate(4)]
func MarshalClientHello(h *ClientHello) ([]byte, error) {
	if h == nil {
		return nil, errors.New("hello cannot be nil")
	}

	data := make([]byte, 25)
	data[0] = byte(KindClientHello)
	binary.BigEndian.PutUint16(data[1:3], uint16(h.Version))
	binary.BigEndian.PutUint64(data[3:11], uint64(h.Capabilities))
	binary.BigEndian.PutUint32(data[11:15], h.DisplayWidth)
	binary.BigEndian.PutUint32(data[15:19], h.DisplayHeight)
	binary.BigEndian.PutUint16(data[19:21], h.RefreshRate)
	binary.BigEndian.PutUint32(data[21:25], h.MicSampleRate)

	return data, nil
}

// ParseClientHello deserializes a client hello.
func ParseClientHello(data []byte) (*ClientHello, error) {
	if len(data) < 25 {
		return nil, errors.New("client hello too short")
	}
	if HandshakeKind(data[0]) != KindClientHello {
		return nil, fmt.Errorf("not a client hello: kind %d", data[0])
	}

	return &ClientHello{
		Version:       ProtocolVersion(binary.BigEndian.Uint16(data[1:3])),
		Capabilities:  CapabilitySet(binary.BigEndian.Uint64(data[3:11])),
		DisplayWidth:  binary.BigEndian.Uint32(data[11:15]),
		DisplayHeight: binary.BigEndian.Uint32(data[15:19]),
		RefreshRate:   binary.BigEndian.Uint16(data[19:21]),
		MicSampleRate: binary.BigEndian.Uint32(data[21:25]),
	}, nil
}

// HostHello is the host's handshake response carrying its capability set
// and proposed stream settings.
type HostHello struct {
	Version      ProtocolVersion
	Capabilities CapabilitySet
	Settings     StreamSettings
}

// MarshalHostHello serializes a host hello.
//
// Format: [kind(1)][version(2)][caps(8)][settings(19)]
func MarshalHostHello(h *HostHello) ([]byte, error) {
	if h == nil {
		return nil, errors.New("hello cannot be nil")
	}

	data := make([]byte, 11+streamSettingsSize)
	data[0] = byte(KindHostHello)
	binary.BigEndian.PutUint16(data[1:3], uint16(h.Version))
	binary.BigEndian.PutUint64(data[3:11], uint64(h.Capabilities))
	marshalStreamSettings(&h.Settings, data[11:])

	return data, nil
}

// ParseHostHello deserializes a host hello.
func ParseHostHello(data []byte) (*HostHello, error) {
	if len(data) < 11+streamSettingsSize {
		return nil, errors.New("host hello too short")
	}
	if HandshakeKind(data[0]) != KindHostHello {
		return nil, fmt.Errorf("not a host hello: kind %d", data[0])
	}

	return &HostHello{
		Version:      ProtocolVersion(binary.BigEndian.Uint16(data[1:3])),
		Capabilities: CapabilitySet(binary.BigEndian.Uint64(data[3:11])),
		Settings:     parseStreamSettings(data[11:]),
	}, nil
}

// ClientAccept closes the negotiation: it carries the capability
// intersection the client settled on and the settings it will stream with.
type ClientAccept struct {
	Capabilities CapabilitySet
	Settings     StreamSettings
}

// MarshalClientAccept serializes a client accept.
//
// Format: [kind(1)][caps(8)][settings(19)]
func MarshalClientAccept(a *ClientAccept) ([]byte, error) {
	if a == nil {
		return nil, errors.New("accept cannot be nil")
	}

	data := make([]byte, 9+streamSettingsSize)
	data[0] = byte(KindClientAccept)
	binary.BigEndian.PutUint64(data[1:9], uint64(a.Capabilities))
	marshalStreamSettings(&a.Settings, data[9:])

	return data, nil
}

// ParseClientAccept deserializes a client accept.
func ParseClientAccept(data []byte) (*ClientAccept, error) {
	if len(data) < 9+streamSettingsSize {
		return nil, errors.New("client accept too short")
	}
	if HandshakeKind(data[0]) != KindClientAccept {
		return nil, fmt.Errorf("not a client accept: kind %d", data[0])
	}

	return &ClientAccept{
		Capabilities: CapabilitySet(binary.BigEndian.Uint64(data[1:9])),
		Settings:     parseStreamSettings(data[9:]),
	}, nil
}

// HandshakeKindOf peeks at the kind byte of a handshake payload.
func HandshakeKindOf(data []byte) (HandshakeKind, error) {
	if len(data) < 1 {
		return 0, errors.New("handshake payload empty")
	}
	return HandshakeKind(data[0]), nil
}
