package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalParseDataPacket(t *testing.T) {
	header := DataHeader{
		Stream:        StreamVideo,
		Sequence:      42000,
		FragmentIndex: 2,
		FragmentCount: 5,
		Timestamp:     123456789012345,
	}
	payload := []byte("encoded slice bytes")

	data, err := MarshalDataPacket(header, payload)
	require.NoError(t, err)
	assert.Len(t, data, DataHeaderSize+len(payload))

	parsed, body, err := ParseDataPacket(data)
	require.NoError(t, err)
	assert.Equal(t, header, parsed)
	assert.Equal(t, payload, body)
}

func TestMarshalDataPacketValidation(t *testing.T) {
	tests := []struct {
		name   string
		header DataHeader
	}{
		{
			name:   "Zero fragment count",
			header: DataHeader{Stream: StreamAudio, FragmentCount: 0},
		},
		{
			name:   "Index beyond count",
			header: DataHeader{Stream: StreamAudio, FragmentIndex: 3, FragmentCount: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalDataPacket(tt.header, nil)
			assert.Error(t, err)
		})
	}
}

func TestParseDataPacketTooShort(t *testing.T) {
	_, _, err := ParseDataPacket(make([]byte, DataHeaderSize-1))
	assert.Error(t, err)
}

func TestParseDataPacketRejectsBadFragmentFields(t *testing.T) {
	header := DataHeader{Stream: StreamVideo, FragmentIndex: 0, FragmentCount: 1}
	data, err := MarshalDataPacket(header, []byte{0xAA})
	require.NoError(t, err)

	// Corrupt the fragment count on the wire.
	data[4] = 0
	_, _, err = ParseDataPacket(data)
	assert.Error(t, err)
}

func TestStreamIDString(t *testing.T) {
	assert.Equal(t, "tracking", StreamTracking.String())
	assert.Equal(t, "video", StreamVideo.String())
	assert.Equal(t, "unknown(99)", StreamID(99).String())
}
