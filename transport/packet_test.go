package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketSerializeParse(t *testing.T) {
	packet := &Packet{PacketType: PacketControl, Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}}

	data, err := packet.Serialize()
	require.NoError(t, err)
	assert.Equal(t, byte(PacketControl), data[0])

	parsed, err := ParsePacket(data)
	require.NoError(t, err)
	assert.Equal(t, packet.PacketType, parsed.PacketType)
	assert.Equal(t, packet.Data, parsed.Data)
}

func TestPacketSerializeNilData(t *testing.T) {
	packet := &Packet{PacketType: PacketData}
	_, err := packet.Serialize()
	assert.Error(t, err)
}

func TestParsePacketEmpty(t *testing.T) {
	_, err := ParsePacket(nil)
	assert.Error(t, err)
}

func TestParsePacketCopiesData(t *testing.T) {
	raw := []byte{byte(PacketHandshake), 1, 2, 3}
	parsed, err := ParsePacket(raw)
	require.NoError(t, err)

	raw[1] = 99
	assert.Equal(t, []byte{1, 2, 3}, parsed.Data)
}
