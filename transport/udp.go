package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// readBufferSize bounds a single datagram. Fragmented payloads never exceed
// the path MTU, so anything larger is a foreign packet and is discarded.
const readBufferSize = 4096

// UDPTransport implements UDP-based communication with the streaming host.
// It satisfies the Transport interface.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr
	handlers   map[PacketType]PacketHandler
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewUDPTransport creates a new UDP transport bound to listenAddr and starts
// its receive loop.
func NewUDPTransport(listenAddr string) (Transport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
		handlers:   make(map[PacketType]PacketHandler),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go t.receiveLoop()

	return t, nil
}

// RegisterHandler registers a handler for a specific packet type.
func (t *UDPTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[packetType] = handler
}

// Send sends a packet to the specified address.
func (t *UDPTransport) Send(packet *Packet, addr net.Addr) error {
	data, err := packet.Serialize()
	if err != nil {
		return err
	}

	_, err = t.conn.WriteTo(data, addr)
	return err
}

// Close shuts down the transport and waits for the receive loop to exit, so
// no handler runs after Close returns.
func (t *UDPTransport) Close() error {
	t.cancel()
	err := t.conn.Close()
	<-t.done
	return err
}

// receiveLoop reads datagrams until the transport is closed. Handlers are
// invoked synchronously: arrival order on the socket is preserved through
// dispatch, which the control channel and jitter buffers rely on.
func (t *UDPTransport) receiveLoop() {
	defer close(t.done)

	buffer := make([]byte, readBufferSize)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		// Short deadline so the loop observes cancellation promptly.
		_ = t.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, addr, err := t.conn.ReadFrom(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			// Closed socket or fatal error; cancellation check above exits.
			continue
		}

		packet, err := ParsePacket(buffer[:n])
		if err != nil {
			continue // malformed datagram, drop
		}

		t.dispatch(packet, addr)
	}
}

// dispatch routes a parsed packet to its registered handler, if any.
func (t *UDPTransport) dispatch(packet *Packet, addr net.Addr) {
	t.mu.RLock()
	handler, exists := t.handlers[packet.PacketType]
	t.mu.RUnlock()

	if exists {
		_ = handler(packet, addr)
	}
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}
