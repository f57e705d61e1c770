package vrlink

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrlink/vrlink/config"
	"github.com/vrlink/vrlink/jitter"
	"github.com/vrlink/vrlink/protocol"
	"github.com/vrlink/vrlink/session"
	"github.com/vrlink/vrlink/transport"
)

func TestNewValidation(t *testing.T) {
	_, err := New(&Options{})
	assert.Error(t, err, "host address is required")

	bad := NewOptions()
	bad.HostAddress = "192.168.1.50:9943"
	bad.Config = config.Default()
	bad.Config.Data.MaxFragmentSize = -1
	_, err = New(bad)
	assert.Error(t, err)

	opts := NewOptions()
	opts.HostAddress = "192.168.1.50:9943"
	client, err := New(opts)
	require.NoError(t, err)
	assert.Equal(t, session.StateIdle, client.State())
}

func TestPollEventQueue(t *testing.T) {
	opts := NewOptions()
	opts.HostAddress = "192.168.1.50:9943"
	client, err := New(opts)
	require.NoError(t, err)

	_, ok := client.PollEvent()
	assert.False(t, ok)

	client.enqueueEvent(session.Event{Kind: session.EventConnected})
	client.enqueueEvent(session.Event{Kind: session.EventRestartRequested})

	first, ok := client.PollEvent()
	require.True(t, ok)
	assert.Equal(t, session.EventConnected, first.Kind)

	second, ok := client.PollEvent()
	require.True(t, ok)
	assert.Equal(t, session.EventRestartRequested, second.Kind)

	_, ok = client.PollEvent()
	assert.False(t, ok)
}

func TestOnEventBypassesQueue(t *testing.T) {
	opts := NewOptions()
	opts.HostAddress = "192.168.1.50:9943"
	client, err := New(opts)
	require.NoError(t, err)

	var pushed []session.EventKind
	client.OnEvent(func(ev session.Event) { pushed = append(pushed, ev.Kind) })

	client.enqueueEvent(session.Event{Kind: session.EventConnected})
	assert.Equal(t, []session.EventKind{session.EventConnected}, pushed)

	_, ok := client.PollEvent()
	assert.False(t, ok, "pushed events are not queued")
}

func TestSendersBeforeStart(t *testing.T) {
	opts := NewOptions()
	opts.HostAddress = "192.168.1.50:9943"
	client, err := New(opts)
	require.NoError(t, err)

	assert.ErrorIs(t, client.SendTracking([]byte{1}), session.ErrNotStreaming)
	assert.ErrorIs(t, client.SendMicrophoneFrame([]byte{1}), session.ErrNotStreaming)
	assert.ErrorIs(t, client.SendBattery(1, 0.5, false), session.ErrNotStreaming)
	assert.ErrorIs(t, client.RequestKeyframe(), session.ErrNotStreaming)
}

func TestEnqueueDropsOldest(t *testing.T) {
	opts := NewOptions()
	opts.HostAddress = "192.168.1.50:9943"
	client, err := New(opts)
	require.NoError(t, err)

	for i := 0; i < outboundQueueDepth+8; i++ {
		client.enqueue(client.trackingCh, []byte{byte(i)})
	}

	// The eight oldest samples were dropped to make room.
	first := <-client.trackingCh
	assert.Equal(t, byte(8), first[0])
	assert.Len(t, client.trackingCh, outboundQueueDepth-1)
}

func TestStopBeforeStart(t *testing.T) {
	opts := NewOptions()
	opts.HostAddress = "192.168.1.50:9943"
	client, err := New(opts)
	require.NoError(t, err)

	client.Stop() // no-op
	client.Stop()
}

// fakeHost is a minimal streaming host speaking just enough of the protocol
// for lifecycle tests: it answers the handshake, acks control frames and can
// push data packets at the connected client.
type fakeHost struct {
	t  *testing.T
	tr transport.Transport

	mu         sync.Mutex
	clientAddr net.Addr
	seq        uint16

	trackingReceived chan []byte
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()

	tr, err := transport.NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)

	h := &fakeHost{t: t, tr: tr, trackingReceived: make(chan []byte, 256)}
	tr.RegisterHandler(transport.PacketHandshake, h.onHandshake)
	tr.RegisterHandler(transport.PacketControl, h.onControl)
	tr.RegisterHandler(transport.PacketData, h.onData)
	t.Cleanup(func() { _ = tr.Close() })
	return h
}

func (h *fakeHost) addr() string { return h.tr.LocalAddr().String() }

func (h *fakeHost) onHandshake(p *transport.Packet, addr net.Addr) error {
	kind, err := protocol.HandshakeKindOf(p.Data)
	if err != nil {
		return err
	}

	switch kind {
	case protocol.KindClientHello:
		h.mu.Lock()
		h.clientAddr = addr
		h.mu.Unlock()

		reply, err := protocol.MarshalHostHello(&protocol.HostHello{
			Version: protocol.Version,
			Capabilities: protocol.CapabilitySet(0).
				Add(protocol.CapVideoH264).
				Add(protocol.CapAudioPlayback).
				Add(protocol.CapMicrophone).
				Add(protocol.CapHaptics),
			Settings: protocol.StreamSettings{
				VideoWidth:       1920,
				VideoHeight:      1824,
				RefreshRate:      72,
				VideoBitrateKbps: 30000,
				AudioSampleRate:  48000,
				AudioChannels:    2,
			},
		})
		if err != nil {
			return err
		}
		return h.tr.Send(&transport.Packet{PacketType: transport.PacketHandshake, Data: reply}, addr)

	case protocol.KindClientAccept:
		h.sendControl(protocol.TagStartStream, nil)
	}
	return nil
}

func (h *fakeHost) onControl(p *transport.Packet, addr net.Addr) error {
	frame, err := protocol.ParseControlFrame(p.Data)
	if err != nil {
		return err
	}
	if frame.Seq == 0 {
		return nil // bare ack
	}

	ack, err := protocol.MarshalControlFrame(&protocol.ControlFrame{Tag: protocol.TagAck, Ack: frame.Seq})
	if err != nil {
		return err
	}
	return h.tr.Send(&transport.Packet{PacketType: transport.PacketControl, Data: ack}, addr)
}

func (h *fakeHost) onData(p *transport.Packet, addr net.Addr) error {
	header, payload, err := protocol.ParseDataPacket(p.Data)
	if err != nil {
		return err
	}
	if header.Stream == protocol.StreamTracking {
		select {
		case h.trackingReceived <- payload:
		default:
		}
	}
	return nil
}

func (h *fakeHost) sendControl(tag protocol.ControlTag, payload []byte) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	addr := h.clientAddr
	h.mu.Unlock()
	require.NotNil(h.t, addr)

	data, err := protocol.MarshalControlFrame(&protocol.ControlFrame{Tag: tag, Seq: seq, Payload: payload})
	require.NoError(h.t, err)
	require.NoError(h.t, h.tr.Send(&transport.Packet{PacketType: transport.PacketControl, Data: data}, addr))
}

func (h *fakeHost) sendVideo(seq uint16, ts uint64, payload []byte) {
	h.mu.Lock()
	addr := h.clientAddr
	h.mu.Unlock()
	require.NotNil(h.t, addr)

	body, err := protocol.MarshalDataPacket(protocol.DataHeader{
		Stream: protocol.StreamVideo, Sequence: seq, FragmentIndex: 0, FragmentCount: 1, Timestamp: ts,
	}, payload)
	require.NoError(h.t, err)
	require.NoError(h.t, h.tr.Send(&transport.Packet{PacketType: transport.PacketData, Data: body}, addr))
}

func TestClientLifecycleAgainstFakeHost(t *testing.T) {
	host := newFakeHost(t)

	opts := NewOptions()
	opts.HostAddress = host.addr()
	opts.ListenAddress = "127.0.0.1:0"

	client, err := New(opts)
	require.NoError(t, err)

	var frames atomic.Int64
	var stopped atomic.Bool
	client.SetVideoFrameHandler(func(frame *jitter.Frame) {
		if stopped.Load() {
			t.Error("video callback after Stop returned")
		}
		frames.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Start(ctx))
	defer client.Stop()

	assert.Equal(t, session.StateStreaming, client.State())
	assert.Equal(t, uint32(1920), client.Settings().VideoWidth)

	// The connected event is queued for polling.
	deadline := time.Now().Add(2 * time.Second)
	var connected bool
	for time.Now().Before(deadline) {
		if ev, ok := client.PollEvent(); ok && ev.Kind == session.EventConnected {
			connected = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, connected, "connected event was not delivered")

	// Host-to-client video flows through the jitter buffer to the handler.
	for seq := uint16(0); seq < 8; seq++ {
		host.sendVideo(seq, uint64(seq)*1000, []byte{byte(seq)})
		time.Sleep(2 * time.Millisecond)
	}
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && frames.Load() < 8 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, frames.Load(), int64(5), "video frames did not reach the handler")

	// Client-to-host tracking arrives on the data channel.
	require.NoError(t, client.SendTracking([]byte{1, 2, 3}))
	select {
	case payload := <-host.trackingReceived:
		assert.Equal(t, []byte{1, 2, 3}, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("tracking sample did not reach the host")
	}

	client.Stop()
	stopped.Store(true)
	assert.Equal(t, session.StateClosed, client.State())

	// Nothing the host sends now may reach a callback.
	final := frames.Load()
	for seq := uint16(50); seq < 58; seq++ {
		host.sendVideo(seq, 0, []byte{byte(seq)})
	}
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, final, frames.Load())

	// Stop stays idempotent after the fact.
	client.Stop()
}

func TestClientStartFailsWithoutHost(t *testing.T) {
	// A socket with nothing behind it: the handshake must time out.
	dead, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer dead.Close()

	cfg := config.Default()
	cfg.Handshake.Timeout = 100 * time.Millisecond
	cfg.Handshake.Retries = 1
	cfg.Handshake.BackoffBase = 20 * time.Millisecond

	opts := NewOptions()
	opts.HostAddress = dead.LocalAddr().String()
	opts.ListenAddress = "127.0.0.1:0"
	opts.Config = cfg

	client, err := New(opts)
	require.NoError(t, err)

	err = client.Start(context.Background())
	assert.ErrorIs(t, err, session.ErrHandshakeTimeout)

	// The failed session was never installed; the facade stays idle so a
	// fresh Start can be attempted.
	assert.Equal(t, session.StateIdle, client.State())
}
