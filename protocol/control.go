package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ControlTag discriminates control-channel message types.
type ControlTag uint8

const (
	// TagAck is a bare acknowledgment frame. Ack frames are unsequenced
	// (Seq is zero) and are never retransmitted or dispatched.
	TagAck ControlTag = iota + 1

	// TagKeepAlive is a liveness probe sent by both sides during streaming.
	TagKeepAlive

	// TagClockProbe carries the client's send timestamp for clock sync.
	TagClockProbe

	// TagClockProbeReply echoes a probe with the host's receive and send
	// timestamps.
	TagClockProbeReply

	// TagStartStream is the host's negotiation acknowledgment; receiving it
	// moves the session into the streaming state.
	TagStartStream

	// TagStreamReady is the client's confirmation that its stream pipeline
	// is running.
	TagStreamReady

	// TagSettingsChanged carries a dynamic settings update pushed by the
	// host mid-session.
	TagSettingsChanged

	// TagBattery reports client battery state to the host.
	TagBattery

	// TagViewsConfig reports per-eye field of view and IPD to the host.
	TagViewsConfig

	// TagButton reports a discrete input event on the control path.
	TagButton

	// TagRequestIDR asks the host encoder for a keyframe after decode loss.
	TagRequestIDR

	// TagStatistics carries an aggregate client statistics summary.
	TagStatistics

	// TagRestarting signals that the host is restarting the streamer.
	TagRestarting

	// TagGracefulClose announces an orderly session shutdown.
	TagGracefulClose
)

// String returns the human-readable name of the tag.
func (t ControlTag) String() string {
	switch t {
	case TagAck:
		return "Ack"
	case TagKeepAlive:
		return "KeepAlive"
	case TagClockProbe:
		return "ClockProbe"
	case TagClockProbeReply:
		return "ClockProbeReply"
	case TagStartStream:
		return "StartStream"
	case TagStreamReady:
		return "StreamReady"
	case TagSettingsChanged:
		return "SettingsChanged"
	case TagBattery:
		return "Battery"
	case TagViewsConfig:
		return "ViewsConfig"
	case TagButton:
		return "Button"
	case TagRequestIDR:
		return "RequestIDR"
	case TagStatistics:
		return "Statistics"
	case TagRestarting:
		return "Restarting"
	case TagGracefulClose:
		return "GracefulClose"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// ControlFrameHeaderSize is the fixed portion of a control frame in bytes.
const ControlFrameHeaderSize = 7

// MaxControlPayload bounds a control payload so a frame always fits in one
// datagram.
const MaxControlPayload = 1200

// ControlFrame is one control-channel frame on the wire.
//
// Seq orders sequenced frames; Ack acknowledges the highest sequence
// dispatched in order by the sender of this frame (piggybacked on every
// outgoing frame).
type ControlFrame struct {
	Tag     ControlTag
	Seq     uint16
	Ack     uint16
	Payload []byte
}

// MarshalControlFrame serializes a control frame.
//
// Format: [tag(1)][seq(2)][ack(2)][payload len(2)][payload]
func MarshalControlFrame(frame *ControlFrame) ([]byte, error) {
	if frame == nil {
		return nil, errors.New("frame cannot be nil")
	}
	if len(frame.Payload) > MaxControlPayload {
		return nil, fmt.Errorf("control payload too large: %d bytes", len(frame.Payload))
	}

	data := make([]byte, ControlFrameHeaderSize+len(frame.Payload))
	data[0] = byte(frame.Tag)
	binary.BigEndian.PutUint16(data[1:3], frame.Seq)
	binary.BigEndian.PutUint16(data[3:5], frame.Ack)
	binary.BigEndian.PutUint16(data[5:7], uint16(len(frame.Payload)))
	copy(data[ControlFrameHeaderSize:], frame.Payload)

	return data, nil
}

// ParseControlFrame deserializes a control frame, copying the payload.
func ParseControlFrame(data []byte) (*ControlFrame, error) {
	if len(data) < ControlFrameHeaderSize {
		return nil, errors.New("control frame too short")
	}

	payloadLen := int(binary.BigEndian.Uint16(data[5:7]))
	if len(data) != ControlFrameHeaderSize+payloadLen {
		return nil, fmt.Errorf("control frame length mismatch: header says %d, have %d",
			payloadLen, len(data)-ControlFrameHeaderSize)
	}

	frame := &ControlFrame{
		Tag:     ControlTag(data[0]),
		Seq:     binary.BigEndian.Uint16(data[1:3]),
		Ack:     binary.BigEndian.Uint16(data[3:5]),
		Payload: make([]byte, payloadLen),
	}
	copy(frame.Payload, data[ControlFrameHeaderSize:])

	return frame, nil
}

// ClockProbe is the payload of a TagClockProbe frame.
type ClockProbe struct {
	ClientSendTime uint64 // client monotonic nanoseconds
}

// ClockProbeReply is the payload of a TagClockProbeReply frame.
type ClockProbeReply struct {
	ClientSendTime uint64 // echoed from the probe
	HostRecvTime   uint64 // host monotonic nanoseconds at probe arrival
	HostSendTime   uint64 // host monotonic nanoseconds at reply send
}

// MarshalClockProbe serializes a clock probe payload.
func MarshalClockProbe(p *ClockProbe) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, p.ClientSendTime)
	return data
}

// ParseClockProbe deserializes a clock probe payload.
func ParseClockProbe(data []byte) (*ClockProbe, error) {
	if len(data) < 8 {
		return nil, errors.New("clock probe too short")
	}
	return &ClockProbe{ClientSendTime: binary.BigEndian.Uint64(data)}, nil
}

// MarshalClockProbeReply serializes a clock probe reply payload.
func MarshalClockProbeReply(r *ClockProbeReply) []byte {
	data := make([]byte, 24)
	binary.BigEndian.PutUint64(data[0:8], r.ClientSendTime)
	binary.BigEndian.PutUint64(data[8:16], r.HostRecvTime)
	binary.BigEndian.PutUint64(data[16:24], r.HostSendTime)
	return data
}

// ParseClockProbeReply deserializes a clock probe reply payload.
func ParseClockProbeReply(data []byte) (*ClockProbeReply, error) {
	if len(data) < 24 {
		return nil, errors.New("clock probe reply too short")
	}
	return &ClockProbeReply{
		ClientSendTime: binary.BigEndian.Uint64(data[0:8]),
		HostRecvTime:   binary.BigEndian.Uint64(data[8:16]),
		HostSendTime:   binary.BigEndian.Uint64(data[16:24]),
	}, nil
}
