package transport

import (
	"net"
	"sync"
)

// MockTransport implements Transport for tests across the streaming engine.
// It records every sent packet and lets tests inject inbound packets through
// the registered handlers.
type MockTransport struct {
	packets   []MockPacketSend
	handlers  map[PacketType]PacketHandler
	localAddr net.Addr
	sendFunc  func(packet *Packet, addr net.Addr) error
	mu        sync.Mutex
}

// MockPacketSend represents a packet that was sent via the mock transport.
type MockPacketSend struct {
	Packet *Packet
	Addr   net.Addr
}

// MockAddr implements net.Addr for testing.
type MockAddr struct {
	network string
	address string
}

func (m MockAddr) Network() string { return m.network }
func (m MockAddr) String() string  { return m.address }

// NewMockAddr creates a mock address with the given string form.
func NewMockAddr(addr string) net.Addr {
	return &MockAddr{network: "mock", address: addr}
}

// NewMockTransport creates a new mock transport bound to a fake address.
func NewMockTransport(addr string) *MockTransport {
	return &MockTransport{
		packets:   make([]MockPacketSend, 0),
		handlers:  make(map[PacketType]PacketHandler),
		localAddr: &MockAddr{network: "mock", address: addr},
		sendFunc:  func(packet *Packet, addr net.Addr) error { return nil },
	}
}

// Send implements Transport.Send.
func (m *MockTransport) Send(packet *Packet, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets = append(m.packets, MockPacketSend{Packet: packet, Addr: addr})
	return m.sendFunc(packet, addr)
}

// Close implements Transport.Close.
func (m *MockTransport) Close() error {
	return nil
}

// LocalAddr implements Transport.LocalAddr.
func (m *MockTransport) LocalAddr() net.Addr {
	return m.localAddr
}

// RegisterHandler implements Transport.RegisterHandler.
func (m *MockTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[packetType] = handler
}

// SentPackets returns a copy of all packets sent via this transport.
func (m *MockTransport) SentPackets() []MockPacketSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockPacketSend, len(m.packets))
	copy(result, m.packets)
	return result
}

// SentPacketsOfType returns sent packets filtered by packet type.
func (m *MockTransport) SentPacketsOfType(packetType PacketType) []MockPacketSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []MockPacketSend
	for _, ps := range m.packets {
		if ps.Packet.PacketType == packetType {
			result = append(result, ps)
		}
	}
	return result
}

// ClearSentPackets discards the recorded send history.
func (m *MockTransport) ClearSentPackets() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets = m.packets[:0]
}

// SetSendFunc customizes the send behavior, e.g. to inject failures or to
// loop outbound packets back into a peer transport.
func (m *MockTransport) SetSendFunc(f func(packet *Packet, addr net.Addr) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = f
}

// SimulateReceive delivers a packet to the registered handler as if it had
// arrived from the network.
func (m *MockTransport) SimulateReceive(packet *Packet, addr net.Addr) error {
	m.mu.Lock()
	handler, exists := m.handlers[packet.PacketType]
	m.mu.Unlock()

	if !exists {
		return nil
	}
	return handler(packet, addr)
}
