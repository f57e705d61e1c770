package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalParseControlFrame(t *testing.T) {
	frame := &ControlFrame{
		Tag:     TagSettingsChanged,
		Seq:     301,
		Ack:     120,
		Payload: []byte{1, 2, 3, 4},
	}

	data, err := MarshalControlFrame(frame)
	require.NoError(t, err)
	assert.Len(t, data, ControlFrameHeaderSize+4)

	parsed, err := ParseControlFrame(data)
	require.NoError(t, err)
	assert.Equal(t, frame, parsed)
}

func TestMarshalControlFrameEmptyPayload(t *testing.T) {
	data, err := MarshalControlFrame(&ControlFrame{Tag: TagKeepAlive, Seq: 1, Ack: 0})
	require.NoError(t, err)

	parsed, err := ParseControlFrame(data)
	require.NoError(t, err)
	assert.Equal(t, TagKeepAlive, parsed.Tag)
	assert.Empty(t, parsed.Payload)
}

func TestMarshalControlFrameRejectsOversizedPayload(t *testing.T) {
	_, err := MarshalControlFrame(&ControlFrame{
		Tag:     TagStatistics,
		Payload: make([]byte, MaxControlPayload+1),
	})
	assert.Error(t, err)
}

func TestParseControlFrameLengthMismatch(t *testing.T) {
	data, err := MarshalControlFrame(&ControlFrame{Tag: TagButton, Seq: 9, Payload: []byte{1, 2}})
	require.NoError(t, err)

	// Truncate one payload byte; the declared length no longer matches.
	_, err = ParseControlFrame(data[:len(data)-1])
	assert.Error(t, err)

	_, err = ParseControlFrame(data[:3])
	assert.Error(t, err)
}

func TestClockProbeRoundTrip(t *testing.T) {
	probe := &ClockProbe{ClientSendTime: 987654321}
	parsed, err := ParseClockProbe(MarshalClockProbe(probe))
	require.NoError(t, err)
	assert.Equal(t, probe, parsed)

	_, err = ParseClockProbe([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestClockProbeReplyRoundTrip(t *testing.T) {
	reply := &ClockProbeReply{
		ClientSendTime: 1000,
		HostRecvTime:   500100,
		HostSendTime:   500200,
	}
	parsed, err := ParseClockProbeReply(MarshalClockProbeReply(reply))
	require.NoError(t, err)
	assert.Equal(t, reply, parsed)

	_, err = ParseClockProbeReply(make([]byte, 23))
	assert.Error(t, err)
}

func TestControlTagString(t *testing.T) {
	assert.Equal(t, "KeepAlive", TagKeepAlive.String())
	assert.Equal(t, "GracefulClose", TagGracefulClose.String())
	assert.Equal(t, "Unknown(200)", ControlTag(200).String())
}
