// Package session owns the connection lifecycle with a streaming host.
//
// A Session composes the control channel, data channel, clock sync and
// jitter buffers, and drives the state machine
// Idle → Handshaking → Negotiating → Streaming → Draining → Closed.
// Received control events are surfaced to the embedding application through
// a single registered event consumer.
package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vrlink/vrlink/clocksync"
	"github.com/vrlink/vrlink/config"
	"github.com/vrlink/vrlink/control"
	"github.com/vrlink/vrlink/data"
	"github.com/vrlink/vrlink/internal/timeutil"
	"github.com/vrlink/vrlink/jitter"
	"github.com/vrlink/vrlink/metrics"
	"github.com/vrlink/vrlink/protocol"
	"github.com/vrlink/vrlink/transport"
)

// ClientInfo is the capability set and device characteristics advertised
// during the handshake. Supplied by the embedding application.
type ClientInfo struct {
	Capabilities  protocol.CapabilitySet
	DisplayWidth  uint32
	DisplayHeight uint32
	RefreshRate   uint16
	MicSampleRate uint32
}

// micFrameSamples is the assumed capture frame length for pacing: 10 ms
// frames, matching the platform audio boundary contract.
const micFrameSamples = 480

// Session is one logical connection to a host.
type Session struct {
	id     uuid.UUID
	cfg    *config.Config
	info   ClientInfo
	tr     transport.Transport
	remote net.Addr

	control *control.Channel
	data    *data.Channel
	clock   *clocksync.Sync

	videoBuf *jitter.Buffer
	audioBuf *jitter.Buffer

	collector *metrics.Collector
	time      timeutil.Provider
	epoch     time.Time
	log       *logrus.Entry

	mu               sync.Mutex
	state            State
	settings         protocol.StreamSettings
	caps             protocol.CapabilitySet
	lastHostActivity time.Time

	onEvent      EventFunc
	terminalOnce sync.Once

	handshakeCh   chan []byte
	startStreamCh chan struct{}
}

// New creates a session bound to the host at remote. The collector and time
// provider may be nil. Connect must be called to start the lifecycle.
func New(cfg *config.Config, info ClientInfo, tr transport.Transport, remote net.Addr, collector *metrics.Collector, tp timeutil.Provider) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote address cannot be nil")
	}

	tp = timeutil.Or(tp)

	s := &Session{
		id:        uuid.New(),
		cfg:       cfg,
		info:      info,
		tr:        tr,
		remote:    remote,
		collector: collector,
		time:      tp,
		epoch:     tp.Now(),
		state:     StateIdle,
		handshakeCh:   make(chan []byte, 4),
		startStreamCh: make(chan struct{}, 1),
	}
	s.log = logrus.WithFields(logrus.Fields{
		"component": "session",
		"session_id": s.id.String(),
	})

	ctrl, err := control.New(control.Config{
		RetransmitTimeout: cfg.Control.RetransmitTimeout,
		MaxRetransmits:    cfg.Control.MaxRetransmits,
		AckDelay:          cfg.Control.AckDelay,
	}, tr, remote, collector, tp)
	if err != nil {
		return nil, err
	}
	s.control = ctrl

	dc, err := data.New(data.Config{
		MaxFragmentSize:   cfg.Data.MaxFragmentSize,
		ReassemblyTimeout: cfg.Data.ReassemblyTimeout,
	}, tr, remote, collector, tp)
	if err != nil {
		return nil, err
	}
	s.data = dc

	s.clock = clocksync.New(clocksync.Config{
		SmoothingWeight: cfg.Clock.SmoothingWeight,
		MaxStep:         cfg.Clock.MaxStep,
		MaxRoundTrip:    cfg.Clock.MaxRoundTrip,
	}, collector)

	s.videoBuf = jitter.New(jitter.Config{
		TargetDepth: cfg.Jitter.VideoTargetDepth,
		MaxWait:     cfg.Jitter.MaxWait,
	}, s.clock, tp)
	s.audioBuf = jitter.New(jitter.Config{
		TargetDepth: cfg.Jitter.AudioTargetDepth,
		MaxWait:     cfg.Jitter.MaxWait,
	}, s.clock, tp)

	// Inbound stream wiring. Video and playback audio pass through their
	// jitter buffers; haptics are delivered immediately as events.
	dc.OnFrame(protocol.StreamVideo, func(h protocol.DataHeader, payload []byte) {
		s.touchHostActivity()
		s.videoBuf.Push(h.Sequence, h.Timestamp, payload)
	})
	dc.OnFrame(protocol.StreamAudio, func(h protocol.DataHeader, payload []byte) {
		s.touchHostActivity()
		s.audioBuf.Push(h.Sequence, h.Timestamp, payload)
	})
	dc.OnFrame(protocol.StreamHaptics, func(h protocol.DataHeader, payload []byte) {
		s.touchHostActivity()
		s.emit(Event{Kind: EventHaptics, Haptics: payload, Timestamp: h.Timestamp})
	})

	tr.RegisterHandler(transport.PacketHandshake, func(p *transport.Packet, addr net.Addr) error {
		select {
		case s.handshakeCh <- p.Data:
		default:
		}
		return nil
	})

	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// SetEventHandler registers the single event consumer. Must be called
// before Connect.
func (s *Session) SetEventHandler(fn EventFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Settings returns the negotiated stream settings. Valid once streaming.
func (s *Session) Settings() protocol.StreamSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// ClockEstimate returns the current clock offset estimate.
func (s *Session) ClockEstimate() clocksync.Estimate {
	return s.clock.Estimate()
}

// Connect performs the handshake and negotiation, blocking until the
// session is streaming or fails. Fatal outcomes close the session and emit
// the terminal event before returning the error.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateHandshaking
	s.mu.Unlock()

	s.log.WithField("remote", s.remote.String()).Info("Connecting to host")

	s.control.Start(s.dispatchControl, s.onControlLost)
	s.data.Start()

	hostHello, err := s.exchangeHellos(ctx)
	if err != nil {
		return err
	}

	if err := s.negotiate(ctx, hostHello); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateStreaming
	s.lastHostActivity = s.time.Now()
	settings := s.settings
	s.mu.Unlock()

	s.clock.Reset()
	s.data.SetAudioPacing(float64(s.info.MicSampleRate) / micFrameSamples)

	if err := s.control.Send(protocol.TagStreamReady, nil); err != nil {
		s.log.WithError(err).Warn("Failed to send stream-ready")
	}

	s.log.WithFields(logrus.Fields{
		"video":   fmt.Sprintf("%dx%d@%d", settings.VideoWidth, settings.VideoHeight, settings.RefreshRate),
		"bitrate": settings.VideoBitrateKbps,
	}).Info("Session streaming")

	s.emit(Event{Kind: EventConnected, Settings: &settings})
	return nil
}

// exchangeHellos sends the client hello with bounded retries and
// exponential backoff until a host hello arrives.
func (s *Session) exchangeHellos(ctx context.Context) (*protocol.HostHello, error) {
	hello, err := protocol.MarshalClientHello(&protocol.ClientHello{
		Version:       protocol.Version,
		Capabilities:  s.info.Capabilities,
		DisplayWidth:  s.info.DisplayWidth,
		DisplayHeight: s.info.DisplayHeight,
		RefreshRate:   s.info.RefreshRate,
		MicSampleRate: s.info.MicSampleRate,
	})
	if err != nil {
		return nil, err
	}

	attempts := s.cfg.Handshake.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := s.cfg.Handshake.BackoffBase << (attempt - 1)
			s.log.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"backoff": backoff.String(),
			}).Debug("Retrying handshake")
			timer := s.time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				s.fatal(ReasonHandshakeTimeout)
				return nil, ctx.Err()
			}
		}

		if err := s.tr.Send(&transport.Packet{PacketType: transport.PacketHandshake, Data: hello}, s.remote); err != nil {
			s.fatal(ReasonTransportError)
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}

		reply, err := s.awaitHandshake(ctx, protocol.KindHostHello)
		if err != nil {
			if ctx.Err() != nil {
				s.fatal(ReasonHandshakeTimeout)
				return nil, ctx.Err()
			}
			continue // timed out, retry
		}

		hostHello, err := protocol.ParseHostHello(reply)
		if err != nil {
			s.log.WithError(err).Warn("Malformed host hello")
			continue
		}
		return hostHello, nil
	}

	s.fatal(ReasonHandshakeTimeout)
	return nil, ErrHandshakeTimeout
}

// awaitHandshake waits one handshake timeout for a payload of the wanted
// kind, discarding others.
func (s *Session) awaitHandshake(ctx context.Context, want protocol.HandshakeKind) ([]byte, error) {
	timer := s.time.NewTimer(s.cfg.Handshake.Timeout)
	defer timer.Stop()

	for {
		select {
		case payload := <-s.handshakeCh:
			kind, err := protocol.HandshakeKindOf(payload)
			if err != nil || kind != want {
				continue
			}
			return payload, nil
		case <-timer.C:
			return nil, ErrHandshakeTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// negotiate intersects capabilities, confirms settings with the host and
// waits for its start-stream acknowledgment.
func (s *Session) negotiate(ctx context.Context, hostHello *protocol.HostHello) error {
	s.mu.Lock()
	s.state = StateNegotiating
	s.mu.Unlock()

	if hostHello.Version != protocol.Version {
		s.log.WithFields(logrus.Fields{
			"client_version": uint16(protocol.Version),
			"host_version":   uint16(hostHello.Version),
		}).Error("Protocol version mismatch")
		s.fatal(ReasonNegotiationFailed)
		return fmt.Errorf("%w: version mismatch (client %d, host %d)",
			ErrNegotiationFailed, protocol.Version, hostHello.Version)
	}

	common := s.info.Capabilities.Intersect(hostHello.Capabilities)
	if common.Empty() {
		s.log.Error("No common capabilities with host")
		s.fatal(ReasonNegotiationFailed)
		return fmt.Errorf("%w: empty capability intersection", ErrNegotiationFailed)
	}

	s.mu.Lock()
	s.caps = common
	s.settings = hostHello.Settings
	s.mu.Unlock()

	accept, err := protocol.MarshalClientAccept(&protocol.ClientAccept{
		Capabilities: common,
		Settings:     hostHello.Settings,
	})
	if err != nil {
		s.fatal(ReasonNegotiationFailed)
		return err
	}
	if err := s.tr.Send(&transport.Packet{PacketType: transport.PacketHandshake, Data: accept}, s.remote); err != nil {
		s.fatal(ReasonTransportError)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	timer := s.time.NewTimer(s.cfg.Handshake.Timeout)
	defer timer.Stop()
	select {
	case <-s.startStreamCh:
		return nil
	case <-timer.C:
		s.fatal(ReasonHandshakeTimeout)
		return fmt.Errorf("%w: no start-stream ack", ErrHandshakeTimeout)
	case <-ctx.Done():
		s.fatal(ReasonHandshakeTimeout)
		return ctx.Err()
	}
}

// dispatchControl consumes reliable control messages in send order.
func (s *Session) dispatchControl(msg *control.Message) {
	s.touchHostActivity()

	switch msg.Tag {
	case protocol.TagKeepAlive:
		// Activity update above is the whole point.

	case protocol.TagStartStream:
		select {
		case s.startStreamCh <- struct{}{}:
		default:
		}

	case protocol.TagClockProbeReply:
		reply, err := protocol.ParseClockProbeReply(msg.Payload)
		if err != nil {
			s.log.WithError(err).Debug("Malformed clock probe reply")
			return
		}
		s.clock.AddSample(reply, s.nowNanos())

	case protocol.TagClockProbe:
		// Host-initiated probe: echo with our receive/send times.
		probe, err := protocol.ParseClockProbe(msg.Payload)
		if err != nil {
			return
		}
		now := s.nowNanos()
		reply := protocol.MarshalClockProbeReply(&protocol.ClockProbeReply{
			ClientSendTime: probe.ClientSendTime,
			HostRecvTime:   now,
			HostSendTime:   s.nowNanos(),
		})
		_ = s.control.Send(protocol.TagClockProbeReply, reply)

	case protocol.TagSettingsChanged:
		settings, err := protocol.ParseStreamSettings(msg.Payload)
		if err != nil {
			s.log.WithError(err).Warn("Malformed settings push")
			return
		}
		s.applySettings(settings)

	case protocol.TagRestarting:
		s.log.Info("Host streamer restarting")
		s.emit(Event{Kind: EventRestartRequested})

	case protocol.TagGracefulClose:
		s.log.Info("Host closed the session")
		s.fatal(ReasonHostClosed)

	default:
		s.log.WithField("tag", msg.Tag.String()).Debug("Unhandled control message")
	}
}

// applySettings installs a mid-session settings push: streams restart with
// a fresh sequence space, so both jitter buffers rewarm.
func (s *Session) applySettings(settings *protocol.StreamSettings) {
	s.mu.Lock()
	s.settings = *settings
	s.mu.Unlock()

	s.videoBuf.Reset()
	s.audioBuf.Reset()

	s.log.WithFields(logrus.Fields{
		"video":   fmt.Sprintf("%dx%d@%d", settings.VideoWidth, settings.VideoHeight, settings.RefreshRate),
		"bitrate": settings.VideoBitrateKbps,
	}).Info("Applied settings push")

	s.emit(Event{Kind: EventSettingsChanged, Settings: settings})
}

func (s *Session) onControlLost(err error) {
	s.log.WithError(err).Error("Control channel lost")
	s.fatal(ReasonControlChannelLost)
}

// SendTracking sends one tracking sample, unthrottled.
func (s *Session) SendTracking(sample []byte) error {
	if s.State() != StateStreaming {
		return ErrNotStreaming
	}
	return s.data.SendTracking(sample, s.nowNanos())
}

// SendMicrophoneFrame sends one captured PCM frame, paced to the capture
// rate.
func (s *Session) SendMicrophoneFrame(ctx context.Context, pcm []byte) error {
	if s.State() != StateStreaming {
		return ErrNotStreaming
	}
	return s.data.SendAudio(ctx, pcm, s.nowNanos())
}

// SendBattery reports battery state on the control channel.
func (s *Session) SendBattery(b *protocol.Battery) error {
	return s.control.Send(protocol.TagBattery, protocol.MarshalBattery(b))
}

// SendViewsConfig reports per-eye FOV and IPD on the control channel.
func (s *Session) SendViewsConfig(v *protocol.ViewsConfig) error {
	return s.control.Send(protocol.TagViewsConfig, protocol.MarshalViewsConfig(v))
}

// SendButton reports a discrete input event on the control channel.
func (s *Session) SendButton(b *protocol.Button) error {
	return s.control.Send(protocol.TagButton, protocol.MarshalButton(b))
}

// RequestKeyframe asks the host encoder for an IDR frame.
func (s *Session) RequestKeyframe() error {
	return s.control.Send(protocol.TagRequestIDR, nil)
}

// DrainVideo releases the next in-order video frame, if the buffer decides
// one is due. A delivery gap triggers an automatic keyframe request.
func (s *Session) DrainVideo() (*jitter.Frame, bool) {
	frame, ok := s.videoBuf.Pop()
	if !ok {
		return nil, false
	}
	if s.collector != nil {
		s.collector.FramesDelivered.WithLabelValues(protocol.StreamVideo.String()).Inc()
		if frame.SkippedBefore > 0 {
			s.collector.JitterSkips.WithLabelValues(protocol.StreamVideo.String()).Add(float64(frame.SkippedBefore))
		}
	}
	if frame.SkippedBefore > 0 {
		// Decoder will see a discontinuity; get a clean refresh going.
		_ = s.RequestKeyframe()
	}
	return frame, true
}

// DrainAudio releases the next in-order playback audio frame, if due.
func (s *Session) DrainAudio() (*jitter.Frame, bool) {
	frame, ok := s.audioBuf.Pop()
	if !ok {
		return nil, false
	}
	if s.collector != nil {
		s.collector.FramesDelivered.WithLabelValues(protocol.StreamAudio.String()).Inc()
		if frame.SkippedBefore > 0 {
			s.collector.JitterSkips.WithLabelValues(protocol.StreamAudio.String()).Add(float64(frame.SkippedBefore))
		}
	}
	return frame, true
}

// KeepAliveTick sends one keepalive. Driven by the runtime's timer task.
func (s *Session) KeepAliveTick() {
	if s.State() != StateStreaming {
		return
	}
	_ = s.control.Send(protocol.TagKeepAlive, nil)
}

// ProbeTick sends one clock probe. Driven by the runtime's timer task.
func (s *Session) ProbeTick() {
	if s.State() != StateStreaming {
		return
	}
	probe := protocol.MarshalClockProbe(&protocol.ClockProbe{ClientSendTime: s.nowNanos()})
	_ = s.control.Send(protocol.TagClockProbe, probe)
}

// StatisticsTick sends one aggregate statistics summary to the host.
func (s *Session) StatisticsTick() {
	if s.State() != StateStreaming {
		return
	}
	vDelivered, vSkipped, _ := s.videoBuf.Stats()
	aDelivered, aSkipped, _ := s.audioBuf.Stats()
	est := s.clock.Estimate()

	payload := protocol.MarshalClientStatistics(&protocol.ClientStatistics{
		VideoFramesDelivered: vDelivered,
		VideoFramesSkipped:   vSkipped,
		AudioFramesDelivered: aDelivered,
		AudioFramesSkipped:   aSkipped,
		ClockOffsetNanos:     int64(est.Offset),
		RoundTripNanos:       int64(est.RoundTrip),
	})
	_ = s.data.SendStatistics(payload, s.nowNanos())
}

// CheckHeartbeat closes the session when the host has been silent past the
// heartbeat timeout. Driven by the runtime's timer task.
func (s *Session) CheckHeartbeat() {
	s.mu.Lock()
	silent := s.state == StateStreaming &&
		s.time.Now().Sub(s.lastHostActivity) > s.cfg.Session.HeartbeatTimeout
	s.mu.Unlock()

	if silent {
		s.log.Warn("Host heartbeat timeout")
		s.fatal(ReasonHeartbeatTimeout)
	}
}

// Disconnect performs a graceful shutdown: flush outstanding control sends,
// announce the close, then transition to Closed. Idempotent and safe from
// any goroutine.
func (s *Session) Disconnect() {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateDraining:
		s.mu.Unlock()
		return
	case StateStreaming:
		s.state = StateDraining
		s.mu.Unlock()
		s.drainControl()
		_ = s.control.Send(protocol.TagGracefulClose, nil)
	default:
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.control.Close()
	s.log.Info("Session disconnected")
	s.emitTerminal(ReasonGraceful)
}

// drainControl waits for outstanding control frames to be acked, bounded by
// the drain timeout. The bound counts fixed wait steps rather than reading
// a clock, so it holds under any time provider.
func (s *Session) drainControl() {
	const step = 10 * time.Millisecond
	for waited := time.Duration(0); waited < s.cfg.Session.DrainTimeout; waited += step {
		if s.control.PendingCount() == 0 {
			return
		}
		time.Sleep(step)
	}
}

// fatal forces the session to Closed and emits the terminal event once.
func (s *Session) fatal(reason DisconnectReason) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.control.Close()
	s.log.WithField("reason", reason.String()).Warn("Session closed")
	s.emitTerminal(reason)
}

func (s *Session) emitTerminal(reason DisconnectReason) {
	s.terminalOnce.Do(func() {
		s.emit(Event{Kind: EventDisconnected, Reason: reason})
	})
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	fn := s.onEvent
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *Session) touchHostActivity() {
	s.mu.Lock()
	s.lastHostActivity = s.time.Now()
	s.mu.Unlock()
}

// nowNanos is the local monotonic clock: nanoseconds since session
// creation.
func (s *Session) nowNanos() uint64 {
	return uint64(s.time.Now().Sub(s.epoch))
}
