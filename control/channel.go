// Package control implements the reliable, ordered control channel layered
// over the unreliable datagram transport.
//
// Reliability comes from sequence numbering, receiver-side hold-back of
// out-of-order frames, sender-side retransmission on a missing-ack timeout,
// and acknowledgments piggybacked on every outgoing frame (with a dedicated
// ack frame when nothing is pending within a short window). Each message is
// dispatched exactly once, in send order; duplicates from retransmission
// are discarded by sequence number.
package control

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vrlink/vrlink/internal/timeutil"
	"github.com/vrlink/vrlink/metrics"
	"github.com/vrlink/vrlink/protocol"
	"github.com/vrlink/vrlink/transport"
)

// ErrControlChannelLost indicates a frame exhausted its retransmit budget.
// The session treats this as fatal.
var ErrControlChannelLost = errors.New("control channel lost")

// ErrChannelClosed indicates a send on a closed channel.
var ErrChannelClosed = errors.New("control channel closed")

// Message is one control message handed to the dispatcher.
type Message struct {
	Tag     protocol.ControlTag
	Payload []byte
}

// DispatchFunc consumes received messages in send order.
type DispatchFunc func(msg *Message)

// LostFunc is notified once when the channel gives up on delivery.
type LostFunc func(err error)

// Config are the channel's tuning parameters.
type Config struct {
	// RetransmitTimeout is how long to wait for an ack before resending.
	RetransmitTimeout time.Duration

	// MaxRetransmits bounds resend attempts per frame before the channel
	// reports itself lost.
	MaxRetransmits int

	// AckDelay is how long a received frame may wait for a piggyback
	// opportunity before a dedicated ack frame is sent.
	AckDelay time.Duration
}

type pendingFrame struct {
	frame    *protocol.ControlFrame
	attempts int
	lastSent time.Time
}

// Channel is the client end of the control channel.
type Channel struct {
	mu     sync.Mutex
	cfg    Config
	tr     transport.Transport
	remote net.Addr

	// Sender state.
	nextSeq uint16
	pending map[uint16]*pendingFrame

	// Receiver state. expected is the next sequence to dispatch; frames
	// ahead of it wait in holdback. lastDispatched is the cumulative ack
	// value carried on outgoing frames, zero until the first dispatch.
	// Both advance with protocol.SeqNext so zero stays reserved.
	expected       uint16
	lastDispatched uint16
	holdback       map[uint16]*protocol.ControlFrame
	ackOwed        bool
	owedAt         time.Time

	dispatch DispatchFunc
	onLost   LostFunc
	lost     bool

	collector *metrics.Collector
	time      timeutil.Provider
	log       *logrus.Entry

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a control channel talking to remote over tr. The collector
// and time provider may be nil.
func New(cfg Config, tr transport.Transport, remote net.Addr, collector *metrics.Collector, tp timeutil.Provider) (*Channel, error) {
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote address cannot be nil")
	}

	return &Channel{
		cfg:       cfg,
		tr:        tr,
		remote:    remote,
		nextSeq:   1,
		pending:   make(map[uint16]*pendingFrame),
		expected:  1,
		holdback:  make(map[uint16]*protocol.ControlFrame),
		collector: collector,
		time:      timeutil.Or(tp),
		log:       logrus.WithField("component", "control"),
		closed:    make(chan struct{}),
	}, nil
}

// Start registers the transport handler and starts the retransmit/ack timer
// loop. The dispatcher receives messages in send order; onLost fires at
// most once.
func (c *Channel) Start(dispatch DispatchFunc, onLost LostFunc) {
	c.mu.Lock()
	c.dispatch = dispatch
	c.onLost = onLost
	c.mu.Unlock()

	c.tr.RegisterHandler(transport.PacketControl, func(p *transport.Packet, addr net.Addr) error {
		return c.handlePacket(p)
	})

	c.wg.Add(1)
	go c.timerLoop()
}

// Send transmits a sequenced control message and tracks it until acked.
func (c *Channel) Send(tag protocol.ControlTag, payload []byte) error {
	c.mu.Lock()

	if c.lost {
		c.mu.Unlock()
		return ErrControlChannelLost
	}
	select {
	case <-c.closed:
		c.mu.Unlock()
		return ErrChannelClosed
	default:
	}

	frame := &protocol.ControlFrame{
		Tag:     tag,
		Seq:     c.nextSeq,
		Ack:     c.lastDispatched,
		Payload: payload,
	}
	c.nextSeq = protocol.SeqNext(c.nextSeq)
	c.pending[frame.Seq] = &pendingFrame{frame: frame, lastSent: c.time.Now()}
	c.ackOwed = false
	c.mu.Unlock()

	return c.sendFrame(frame)
}

func (c *Channel) sendFrame(frame *protocol.ControlFrame) error {
	data, err := protocol.MarshalControlFrame(frame)
	if err != nil {
		return fmt.Errorf("marshal control frame: %w", err)
	}
	return c.tr.Send(&transport.Packet{PacketType: transport.PacketControl, Data: data}, c.remote)
}

// handlePacket processes one inbound control datagram.
func (c *Channel) handlePacket(p *transport.Packet) error {
	frame, err := protocol.ParseControlFrame(p.Data)
	if err != nil {
		return err
	}

	var toDispatch []*Message

	c.mu.Lock()

	// Every frame carries the peer's cumulative ack.
	c.clearAcked(frame.Ack)

	if frame.Tag == protocol.TagAck {
		c.mu.Unlock()
		return nil
	}

	switch {
	case frame.Seq == c.expected:
		toDispatch = append(toDispatch, &Message{Tag: frame.Tag, Payload: frame.Payload})
		c.lastDispatched = c.expected
		c.expected = protocol.SeqNext(c.expected)
		for {
			held, ok := c.holdback[c.expected]
			if !ok {
				break
			}
			delete(c.holdback, c.expected)
			toDispatch = append(toDispatch, &Message{Tag: held.Tag, Payload: held.Payload})
			c.lastDispatched = c.expected
			c.expected = protocol.SeqNext(c.expected)
		}

	case protocol.SeqNewer(frame.Seq, c.expected):
		if _, dup := c.holdback[frame.Seq]; dup {
			if c.collector != nil {
				c.collector.ControlDuplicates.Inc()
			}
		} else {
			c.holdback[frame.Seq] = frame
		}

	default:
		// Behind expected: already dispatched, retransmission duplicate.
		// Re-ack so the sender stops resending it.
		if c.collector != nil {
			c.collector.ControlDuplicates.Inc()
		}
	}

	if !c.ackOwed {
		c.ackOwed = true
		c.owedAt = c.time.Now()
	}

	dispatch := c.dispatch
	c.mu.Unlock()

	if dispatch != nil {
		for _, msg := range toDispatch {
			dispatch(msg)
		}
	}

	return nil
}

// clearAcked drops pending frames covered by a cumulative ack. Ack zero
// means the peer has dispatched nothing yet. Caller holds the lock.
func (c *Channel) clearAcked(ack uint16) {
	if ack == 0 {
		return
	}
	for seq := range c.pending {
		if !protocol.SeqNewer(seq, ack) {
			delete(c.pending, seq)
		}
	}
}

// timerLoop drives retransmission and delayed acks.
func (c *Channel) timerLoop() {
	defer c.wg.Done()

	interval := c.cfg.AckDelay
	if interval <= 0 || interval > c.cfg.RetransmitTimeout/2 {
		interval = c.cfg.RetransmitTimeout / 2
	}
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	ticker := c.time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.tick()
			c.mu.Lock()
			lost := c.lost
			c.mu.Unlock()
			if lost {
				return
			}
		}
	}
}

// tick resends timed-out frames and flushes an owed ack.
func (c *Channel) tick() {
	now := c.time.Now()

	var resend []*protocol.ControlFrame
	var sendAck *protocol.ControlFrame
	var lost bool

	c.mu.Lock()
	for _, pf := range c.pending {
		if now.Sub(pf.lastSent) < c.cfg.RetransmitTimeout {
			continue
		}
		if pf.attempts >= c.cfg.MaxRetransmits {
			lost = true
			break
		}
		pf.attempts++
		pf.lastSent = now
		pf.frame.Ack = c.lastDispatched
		resend = append(resend, pf.frame)
	}

	if lost {
		c.lost = true
		onLost := c.onLost
		c.onLost = nil
		c.mu.Unlock()
		c.log.Error("Control channel lost: retransmit budget exhausted")
		if onLost != nil {
			// Separate goroutine: the handler may call Close, which waits
			// for the timer loop this runs on.
			go onLost(ErrControlChannelLost)
		}
		return
	}

	if c.ackOwed && now.Sub(c.owedAt) >= c.cfg.AckDelay {
		sendAck = &protocol.ControlFrame{Tag: protocol.TagAck, Ack: c.lastDispatched}
		c.ackOwed = false
	}
	c.mu.Unlock()

	for _, frame := range resend {
		if c.collector != nil {
			c.collector.ControlRetransmits.Inc()
		}
		c.log.WithFields(logrus.Fields{
			"seq": frame.Seq,
			"tag": frame.Tag.String(),
		}).Debug("Retransmitting control frame")
		_ = c.sendFrame(frame)
	}
	if sendAck != nil {
		_ = c.sendFrame(sendAck)
	}
}

// PendingCount reports unacked outbound frames, used by the drain step of a
// graceful disconnect.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops the timer loop. Idempotent; safe from any goroutine.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	c.wg.Wait()
}
