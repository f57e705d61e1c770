// Package data implements the unreliable, low-latency data channel carrying
// tracking telemetry, audio and video fragments.
//
// Payloads larger than the transport unit are split into numbered fragments
// sharing one sequence number. Reassembly is all-or-nothing: a sequence is
// delivered only when every fragment arrives before the reassembly timeout,
// otherwise the whole set is discarded so no malformed frame reaches the
// decoder. There is no retransmission; loss tolerance lives downstream in
// the jitter buffers.
package data

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vrlink/vrlink/internal/timeutil"
	"github.com/vrlink/vrlink/metrics"
	"github.com/vrlink/vrlink/protocol"
	"github.com/vrlink/vrlink/transport"
)

// FrameHandler consumes one fully reassembled payload from a stream.
type FrameHandler func(header protocol.DataHeader, payload []byte)

// Config are the channel's tuning parameters.
type Config struct {
	// MaxFragmentSize bounds one fragment's payload bytes.
	MaxFragmentSize int

	// ReassemblyTimeout evicts incomplete fragment sets.
	ReassemblyTimeout time.Duration
}

type assemblyKey struct {
	stream protocol.StreamID
	seq    uint16
}

type assembly struct {
	fragments [][]byte
	received  int
	senderTS  uint64
	started   time.Time
}

// Channel is the client end of the data channel.
type Channel struct {
	mu  sync.Mutex
	cfg Config

	tr     transport.Transport
	remote net.Addr

	outSeq     map[protocol.StreamID]uint16
	audioPacer *rate.Limiter

	handlers   map[protocol.StreamID]FrameHandler
	assemblies map[assemblyKey]*assembly

	collector *metrics.Collector
	time      timeutil.Provider
	log       *logrus.Entry
}

// New creates a data channel talking to remote over tr.
func New(cfg Config, tr transport.Transport, remote net.Addr, collector *metrics.Collector, tp timeutil.Provider) (*Channel, error) {
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote address cannot be nil")
	}
	if cfg.MaxFragmentSize <= 0 {
		return nil, fmt.Errorf("max fragment size must be positive")
	}

	return &Channel{
		cfg:        cfg,
		tr:         tr,
		remote:     remote,
		outSeq:     make(map[protocol.StreamID]uint16),
		handlers:   make(map[protocol.StreamID]FrameHandler),
		assemblies: make(map[assemblyKey]*assembly),
		collector:  collector,
		time:       timeutil.Or(tp),
		log:        logrus.WithField("component", "data"),
	}, nil
}

// Start registers the transport handler for inbound data packets.
func (c *Channel) Start() {
	c.tr.RegisterHandler(transport.PacketData, func(p *transport.Packet, addr net.Addr) error {
		return c.handlePacket(p)
	})
}

// OnFrame registers the consumer for one inbound stream. Must be called
// before the first packet of that stream arrives.
func (c *Channel) OnFrame(stream protocol.StreamID, handler FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[stream] = handler
}

// SetAudioPacing configures the microphone send rate in frames per second.
// Zero disables pacing.
func (c *Channel) SetAudioPacing(framesPerSecond float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if framesPerSecond <= 0 {
		c.audioPacer = nil
		return
	}
	// A burst of two absorbs capture-thread scheduling wobble without
	// letting the queue run ahead of the capture rate.
	c.audioPacer = rate.NewLimiter(rate.Limit(framesPerSecond), 2)
}

// SendTracking sends one tracking/input sample, unthrottled. Tracking is
// small and latency-critical; staleness matters more than smoothness.
func (c *Channel) SendTracking(payload []byte, timestampNanos uint64) error {
	return c.send(protocol.StreamTracking, payload, timestampNanos)
}

// SendAudio sends one captured microphone frame, paced to the configured
// capture rate. Blocks on the pacer, so call it from the runtime's send
// task, not from the capture callback.
func (c *Channel) SendAudio(ctx context.Context, pcm []byte, timestampNanos uint64) error {
	c.mu.Lock()
	pacer := c.audioPacer
	c.mu.Unlock()

	if pacer != nil {
		if err := pacer.Wait(ctx); err != nil {
			return err
		}
	}
	return c.send(protocol.StreamAudio, pcm, timestampNanos)
}

// SendStatistics sends one aggregate statistics blob.
func (c *Channel) SendStatistics(payload []byte, timestampNanos uint64) error {
	return c.send(protocol.StreamStatistics, payload, timestampNanos)
}

// send fragments a payload and transmits every fragment under one sequence
// number.
func (c *Channel) send(stream protocol.StreamID, payload []byte, timestampNanos uint64) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload cannot be empty")
	}

	count := (len(payload) + c.cfg.MaxFragmentSize - 1) / c.cfg.MaxFragmentSize
	if count > 255 {
		return fmt.Errorf("payload too large: %d fragments", count)
	}

	c.mu.Lock()
	seq := c.outSeq[stream]
	c.outSeq[stream] = seq + 1
	c.mu.Unlock()

	for i := 0; i < count; i++ {
		start := i * c.cfg.MaxFragmentSize
		end := start + c.cfg.MaxFragmentSize
		if end > len(payload) {
			end = len(payload)
		}

		body, err := protocol.MarshalDataPacket(protocol.DataHeader{
			Stream:        stream,
			Sequence:      seq,
			FragmentIndex: uint8(i),
			FragmentCount: uint8(count),
			Timestamp:     timestampNanos,
		}, payload[start:end])
		if err != nil {
			return err
		}

		if err := c.tr.Send(&transport.Packet{PacketType: transport.PacketData, Data: body}, c.remote); err != nil {
			return fmt.Errorf("send data packet: %w", err)
		}
	}

	if c.collector != nil {
		c.collector.PacketsSent.WithLabelValues(stream.String()).Add(float64(count))
		c.collector.BytesSent.WithLabelValues(stream.String()).Add(float64(len(payload)))
	}

	return nil
}

// handlePacket processes one inbound data datagram.
func (c *Channel) handlePacket(p *transport.Packet) error {
	header, payload, err := protocol.ParseDataPacket(p.Data)
	if err != nil {
		return err
	}

	if c.collector != nil {
		c.collector.PacketsReceived.WithLabelValues(header.Stream.String()).Inc()
		c.collector.BytesReceived.WithLabelValues(header.Stream.String()).Add(float64(len(payload)))
	}

	// Every arrival sweeps stale sets, so an abandoned set cannot outlive
	// the timeout just because no further multi-fragment traffic shows up.
	c.mu.Lock()
	c.evictStale(c.time.Now())
	handler := c.handlers[header.Stream]
	c.mu.Unlock()

	if handler == nil {
		return nil // stream not subscribed
	}

	if header.FragmentCount == 1 {
		handler(header, payload)
		return nil
	}

	complete, senderTS := c.assemble(header, payload)
	if complete != nil {
		whole := header
		whole.FragmentIndex = 0
		whole.Timestamp = senderTS
		handler(whole, complete)
	}
	return nil
}

// assemble folds one fragment into its set. When the set completes it
// returns the full payload and the sender timestamp recorded when the set
// was opened, so the delivered header does not depend on which fragment
// happened to arrive last.
func (c *Channel) assemble(header protocol.DataHeader, payload []byte) ([]byte, uint64) {
	now := c.time.Now()
	key := assemblyKey{stream: header.Stream, seq: header.Sequence}

	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.assemblies[key]
	if !ok {
		a = &assembly{
			fragments: make([][]byte, header.FragmentCount),
			senderTS:  header.Timestamp,
			started:   now,
		}
		c.assemblies[key] = a
	}

	if int(header.FragmentCount) != len(a.fragments) {
		// Conflicting fragment count under one sequence: drop the set.
		delete(c.assemblies, key)
		return nil, 0
	}
	if a.fragments[header.FragmentIndex] != nil {
		return nil, 0 // duplicate fragment
	}

	a.fragments[header.FragmentIndex] = payload
	a.received++

	if a.received < len(a.fragments) {
		return nil, 0
	}

	delete(c.assemblies, key)

	total := 0
	for _, f := range a.fragments {
		total += len(f)
	}
	complete := make([]byte, 0, total)
	for _, f := range a.fragments {
		complete = append(complete, f...)
	}
	return complete, a.senderTS
}

// evictStale drops incomplete fragment sets past the reassembly timeout.
// Caller holds the lock. Eviction is silent; only the aggregate counter
// records it.
func (c *Channel) evictStale(now time.Time) {
	for key, a := range c.assemblies {
		if now.Sub(a.started) <= c.cfg.ReassemblyTimeout {
			continue
		}
		delete(c.assemblies, key)
		if c.collector != nil {
			c.collector.ReassemblyTimeouts.WithLabelValues(key.stream.String()).Inc()
		}
	}
}

// PendingAssemblies reports incomplete fragment sets, for tests and drain
// checks.
func (c *Channel) PendingAssemblies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.assemblies)
}
