package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// StreamID identifies one continuous flow on the data channel.
type StreamID uint8

const (
	// StreamTracking carries head/controller pose and input telemetry
	// (client to host).
	StreamTracking StreamID = iota + 1

	// StreamAudio carries game audio (host to client) and microphone
	// audio (client to host).
	StreamAudio

	// StreamVideo carries encoded video frames (host to client).
	StreamVideo

	// StreamHaptics carries haptic feedback pulses (host to client).
	StreamHaptics

	// StreamStatistics carries client frame statistics (client to host).
	StreamStatistics
)

// String returns the human-readable name of the stream.
func (s StreamID) String() string {
	switch s {
	case StreamTracking:
		return "tracking"
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	case StreamHaptics:
		return "haptics"
	case StreamStatistics:
		return "statistics"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// DataHeaderSize is the fixed size of the data packet header in bytes.
const DataHeaderSize = 13

// DataHeader is the fixed-size header preceding every data payload fragment.
//
// Payloads larger than the transport unit are split into FragmentCount
// fragments sharing one Sequence; FragmentIndex orders them. Timestamp is
// the sender's monotonic clock in nanoseconds at capture/encode time.
type DataHeader struct {
	Stream        StreamID
	Sequence      uint16
	FragmentIndex uint8
	FragmentCount uint8
	Timestamp     uint64
}

// MarshalDataPacket serializes a header and payload into one datagram body.
//
// Format: [stream(1)][sequence(2)][frag index(1)][frag count(1)][timestamp(8)][payload]
func MarshalDataPacket(header DataHeader, payload []byte) ([]byte, error) {
	if header.FragmentCount == 0 {
		return nil, errors.New("fragment count cannot be zero")
	}
	if header.FragmentIndex >= header.FragmentCount {
		return nil, fmt.Errorf("fragment index %d out of range (count %d)",
			header.FragmentIndex, header.FragmentCount)
	}

	data := make([]byte, DataHeaderSize+len(payload))
	data[0] = byte(header.Stream)
	binary.BigEndian.PutUint16(data[1:3], header.Sequence)
	data[3] = header.FragmentIndex
	data[4] = header.FragmentCount
	binary.BigEndian.PutUint64(data[5:13], header.Timestamp)
	copy(data[DataHeaderSize:], payload)

	return data, nil
}

// ParseDataPacket splits a datagram body into header and payload. The
// returned payload aliases data; callers that retain it must copy.
func ParseDataPacket(data []byte) (DataHeader, []byte, error) {
	if len(data) < DataHeaderSize {
		return DataHeader{}, nil, errors.New("data packet too short")
	}

	header := DataHeader{
		Stream:        StreamID(data[0]),
		Sequence:      binary.BigEndian.Uint16(data[1:3]),
		FragmentIndex: data[3],
		FragmentCount: data[4],
		Timestamp:     binary.BigEndian.Uint64(data[5:13]),
	}

	if header.FragmentCount == 0 {
		return DataHeader{}, nil, errors.New("fragment count cannot be zero")
	}
	if header.FragmentIndex >= header.FragmentCount {
		return DataHeader{}, nil, fmt.Errorf("fragment index %d out of range (count %d)",
			header.FragmentIndex, header.FragmentCount)
	}

	return header, data[DataHeaderSize:], nil
}
