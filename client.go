package vrlink

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vrlink/vrlink/clocksync"
	"github.com/vrlink/vrlink/config"
	"github.com/vrlink/vrlink/jitter"
	"github.com/vrlink/vrlink/metrics"
	"github.com/vrlink/vrlink/protocol"
	"github.com/vrlink/vrlink/session"
	"github.com/vrlink/vrlink/transport"
)

// Options contains configuration for creating a Client.
type Options struct {
	// HostAddress is the host endpoint ("ip:port"). Discovery is the
	// embedding application's concern; the engine only connects.
	HostAddress string

	// ListenAddress is the local UDP bind address.
	ListenAddress string

	// Capabilities advertised during the handshake.
	Capabilities protocol.CapabilitySet

	// Display characteristics advertised during the handshake.
	DisplayWidth  uint32
	DisplayHeight uint32
	RefreshRate   uint16

	// MicSampleRate is the capture rate reported by the platform audio
	// boundary, in Hz. Zero disables the microphone stream.
	MicSampleRate uint32

	// Config tunes timeouts, window depths and smoothing weights. Nil
	// means defaults.
	Config *config.Config

	// MetricsRegistry receives the engine's aggregate counters. Nil means
	// the counters exist but are not registered anywhere.
	MetricsRegistry prometheus.Registerer
}

// NewOptions creates Options with default values.
func NewOptions() *Options {
	return &Options{
		ListenAddress: "0.0.0.0:0",
		Capabilities: protocol.CapabilitySet(0).
			Add(protocol.CapVideoH264).
			Add(protocol.CapVideoH265).
			Add(protocol.CapAudioPlayback).
			Add(protocol.CapMicrophone).
			Add(protocol.CapHaptics),
		DisplayWidth:  1920,
		DisplayHeight: 1824,
		RefreshRate:   72,
		MicSampleRate: 48000,
	}
}

// VideoFrameFunc receives reassembled encoded video frames in presentation
// order, with the playout timestamp translated to the local clock.
type VideoFrameFunc func(frame *jitter.Frame)

// AudioFrameFunc receives raw PCM playback frames with their target playout
// time.
type AudioFrameFunc func(frame *jitter.Frame)

// outboundQueueDepth bounds the tracking and microphone send queues. When a
// queue is full the oldest sample is dropped: fresher input always wins.
const outboundQueueDepth = 64

// Client is the thread-safe facade over the streaming engine. All public
// methods may be called concurrently from the embedding application's
// threads; internally the work is serialized onto the engine's own tasks.
type Client struct {
	opts      *Options
	cfg       *config.Config
	collector *metrics.Collector
	log       *logrus.Entry

	mu      sync.Mutex
	running bool
	sess    *session.Session
	tr      transport.Transport
	cancel  context.CancelFunc
	group   *errgroup.Group

	videoFn VideoFrameFunc
	audioFn AudioFrameFunc

	eventsMu sync.Mutex
	events   []session.Event
	eventCb  session.EventFunc

	trackingCh chan []byte
	micCh      chan []byte
}

// New creates a client. Start establishes the session.
func New(opts *Options) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.HostAddress == "" {
		return nil, fmt.Errorf("host address cannot be empty")
	}
	if opts.ListenAddress == "" {
		opts.ListenAddress = "0.0.0.0:0"
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		opts:       opts,
		cfg:        cfg,
		collector:  metrics.NewCollector(opts.MetricsRegistry),
		log:        logrus.WithField("component", "client"),
		trackingCh: make(chan []byte, outboundQueueDepth),
		micCh:      make(chan []byte, outboundQueueDepth),
	}, nil
}

// SetVideoFrameHandler registers the decoded-video consumer. Call before
// Start.
func (c *Client) SetVideoFrameHandler(fn VideoFrameFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoFn = fn
}

// SetAudioFrameHandler registers the playback-audio consumer. Call before
// Start.
func (c *Client) SetAudioFrameHandler(fn AudioFrameFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioFn = fn
}

// OnEvent registers a push consumer for control events. When set, events
// bypass the poll queue. At most one consumer.
func (c *Client) OnEvent(fn session.EventFunc) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.eventCb = fn
}

// PollEvent pops the oldest queued control event.
func (c *Client) PollEvent() (session.Event, bool) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	if len(c.events) == 0 {
		return session.Event{}, false
	}
	ev := c.events[0]
	c.events = c.events[1:]
	return ev, true
}

func (c *Client) enqueueEvent(ev session.Event) {
	c.eventsMu.Lock()
	cb := c.eventCb
	if cb == nil {
		c.events = append(c.events, ev)
	}
	c.eventsMu.Unlock()

	if cb != nil {
		cb(ev)
	}
}

// Start opens the transport, connects to the host and launches the engine's
// task group. It blocks until the session is streaming or fails; ctx bounds
// the connection attempt only.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("client already started")
	}
	c.mu.Unlock()

	remote, err := net.ResolveUDPAddr("udp", c.opts.HostAddress)
	if err != nil {
		return fmt.Errorf("resolve host address: %w", err)
	}

	tr, err := transport.NewUDPTransport(c.opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}

	sess, err := session.New(c.cfg, session.ClientInfo{
		Capabilities:  c.opts.Capabilities,
		DisplayWidth:  c.opts.DisplayWidth,
		DisplayHeight: c.opts.DisplayHeight,
		RefreshRate:   c.opts.RefreshRate,
		MicSampleRate: c.opts.MicSampleRate,
	}, tr, remote, c.collector, nil)
	if err != nil {
		_ = tr.Close()
		return err
	}
	sess.SetEventHandler(c.enqueueEvent)

	if err := sess.Connect(ctx); err != nil {
		_ = tr.Close()
		return err
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(taskCtx)

	c.mu.Lock()
	c.running = true
	c.sess = sess
	c.tr = tr
	c.cancel = cancel
	c.group = group
	c.mu.Unlock()

	group.Go(func() error { return c.drainLoop(groupCtx, sess.DrainVideo, c.videoHandler) })
	group.Go(func() error { return c.drainLoop(groupCtx, sess.DrainAudio, c.audioHandler) })
	group.Go(func() error { return c.outboundLoop(groupCtx, sess) })
	group.Go(func() error {
		return c.tickLoop(groupCtx, c.cfg.Session.KeepAliveInterval, sess.KeepAliveTick)
	})
	group.Go(func() error {
		return c.tickLoop(groupCtx, c.cfg.Clock.ProbeInterval, sess.ProbeTick)
	})
	group.Go(func() error {
		return c.tickLoop(groupCtx, time.Second, sess.StatisticsTick)
	})
	group.Go(func() error { return c.watchLoop(groupCtx, sess) })

	c.log.WithField("host", c.opts.HostAddress).Info("Streaming client started")
	return nil
}

func (c *Client) videoHandler() func(*jitter.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoFn
}

func (c *Client) audioHandler() func(*jitter.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioFn
}

// drainLoop pumps one jitter buffer into its registered consumer at the
// configured cadence.
func (c *Client) drainLoop(ctx context.Context, pop func() (*jitter.Frame, bool), handler func() func(*jitter.Frame)) error {
	ticker := time.NewTicker(c.cfg.Jitter.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				frame, ok := pop()
				if !ok {
					break
				}
				if fn := handler(); fn != nil {
					fn(frame)
				}
			}
		}
	}
}

// outboundLoop serializes tracking and microphone sends onto one task so
// external callers never block on network I/O.
func (c *Client) outboundLoop(ctx context.Context, sess *session.Session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sample := <-c.trackingCh:
			if err := sess.SendTracking(sample); err != nil {
				c.log.WithError(err).Debug("Tracking send failed")
			}
		case pcm := <-c.micCh:
			if err := sess.SendMicrophoneFrame(ctx, pcm); err != nil {
				c.log.WithError(err).Debug("Microphone send failed")
			}
		}
	}
}

// tickLoop drives one periodic session duty.
func (c *Client) tickLoop(ctx context.Context, interval time.Duration, tick func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

// watchLoop monitors the host heartbeat and winds the task group down when
// the session closes underneath us.
func (c *Client) watchLoop(ctx context.Context, sess *session.Session) error {
	interval := c.cfg.Session.HeartbeatTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sess.CheckHeartbeat()
			if sess.State() == session.StateClosed {
				c.mu.Lock()
				cancel := c.cancel
				c.mu.Unlock()
				if cancel != nil {
					cancel()
				}
				return nil
			}
		}
	}
}

// SendTracking enqueues one tracking/input sample for immediate,
// unthrottled transmission. Never blocks: when the queue is full the oldest
// sample is dropped.
func (c *Client) SendTracking(sample []byte) error {
	if !c.isRunning() {
		return session.ErrNotStreaming
	}
	buf := make([]byte, len(sample))
	copy(buf, sample)
	c.enqueue(c.trackingCh, buf)
	return nil
}

// SendMicrophoneFrame enqueues one captured PCM frame for paced
// transmission. Never blocks.
func (c *Client) SendMicrophoneFrame(pcm []byte) error {
	if !c.isRunning() {
		return session.ErrNotStreaming
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.enqueue(c.micCh, buf)
	return nil
}

func (c *Client) enqueue(ch chan []byte, buf []byte) {
	for {
		select {
		case ch <- buf:
			return
		default:
		}
		select {
		case <-ch: // drop oldest
		default:
		}
	}
}

// SendBattery reports battery state to the host.
func (c *Client) SendBattery(deviceID uint64, gauge float32, plugged bool) error {
	sess := c.session()
	if sess == nil {
		return session.ErrNotStreaming
	}
	return sess.SendBattery(&protocol.Battery{DeviceID: deviceID, Gauge: gauge, Plugged: plugged})
}

// SendViewsConfig reports per-eye FOV and IPD to the host.
func (c *Client) SendViewsConfig(v *protocol.ViewsConfig) error {
	sess := c.session()
	if sess == nil {
		return session.ErrNotStreaming
	}
	return sess.SendViewsConfig(v)
}

// SendButton reports a discrete input event to the host.
func (c *Client) SendButton(b *protocol.Button) error {
	sess := c.session()
	if sess == nil {
		return session.ErrNotStreaming
	}
	return sess.SendButton(b)
}

// RequestKeyframe asks the host for an IDR frame, e.g. after a decoder
// error reported by the embedding application.
func (c *Client) RequestKeyframe() error {
	sess := c.session()
	if sess == nil {
		return session.ErrNotStreaming
	}
	return sess.RequestKeyframe()
}

// State returns the session lifecycle state.
func (c *Client) State() session.State {
	sess := c.session()
	if sess == nil {
		return session.StateIdle
	}
	return sess.State()
}

// Settings returns the negotiated stream settings.
func (c *Client) Settings() protocol.StreamSettings {
	sess := c.session()
	if sess == nil {
		return protocol.StreamSettings{}
	}
	return sess.Settings()
}

// ClockEstimate returns the current local↔host clock estimate.
func (c *Client) ClockEstimate() clocksync.Estimate {
	sess := c.session()
	if sess == nil {
		return clocksync.Estimate{}
	}
	return sess.ClockEstimate()
}

func (c *Client) session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Client) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && c.sess != nil && c.sess.State() == session.StateStreaming
}

// Stop disconnects gracefully and waits for every internal task to exit.
// After Stop returns, no callback is invoked again. Idempotent and safe
// from any thread.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	sess := c.sess
	tr := c.tr
	cancel := c.cancel
	group := c.group
	c.mu.Unlock()

	sess.Disconnect()
	cancel()
	_ = tr.Close() // waits for the receive loop, silencing all handlers
	_ = group.Wait()

	c.log.Info("Streaming client stopped")
}
