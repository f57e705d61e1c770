// Package jitter reorders and paces received stream fragments so they reach
// the consumer at a stable cadence despite network timing variance.
//
// One Buffer serves one inbound media stream. The playout cursor advances
// strictly by sequence number: the next expected frame is delivered when
// present, and skipped after a bounded wait when lost, never revisited.
package jitter

import (
	"sync"
	"time"

	"github.com/vrlink/vrlink/internal/timeutil"
	"github.com/vrlink/vrlink/protocol"
)

// Clock translates host timestamps into the local monotonic clock. It is
// satisfied by clocksync.Sync; a nil Clock leaves timestamps untranslated.
type Clock interface {
	ToLocalNanos(hostNanos uint64) uint64
}

// Frame is one reassembled payload released from the buffer in sequence
// order.
type Frame struct {
	Sequence uint16
	Payload  []byte

	// SenderTimestamp is the host's monotonic clock at capture/encode
	// time, in nanoseconds.
	SenderTimestamp uint64

	// PlayoutTime is SenderTimestamp translated to the local clock, for
	// aligning audio and video presentation.
	PlayoutTime uint64

	// SkippedBefore counts sequence numbers given up on immediately
	// before this frame. Non-zero means the consumer sees a gap; a video
	// decoder may want to request a keyframe.
	SkippedBefore int
}

// Config are the tuning parameters of one buffer.
type Config struct {
	// TargetDepth is how many frames to accumulate before the first
	// delivery. Deeper absorbs more jitter at the cost of latency.
	TargetDepth int

	// MaxWait bounds how long the cursor waits for a missing sequence
	// before skipping it.
	MaxWait time.Duration
}

type entry struct {
	payload  []byte
	senderTS uint64
	arrival  time.Time
}

// Buffer is the reorder/playout window for one stream.
type Buffer struct {
	mu  sync.Mutex
	cfg Config

	entries map[uint16]*entry
	cursor  uint16
	started bool

	// Smoothed inter-arrival interval, used to derive the skip bound.
	avgInterval time.Duration
	lastArrival time.Time

	delivered uint64
	skipped   uint64

	clock Clock
	time  timeutil.Provider
}

// New creates a jitter buffer. clock may be nil; tp nil means system time.
func New(cfg Config, clock Clock, tp timeutil.Provider) *Buffer {
	if cfg.TargetDepth <= 0 {
		cfg.TargetDepth = 1
	}
	return &Buffer{
		cfg:     cfg,
		entries: make(map[uint16]*entry),
		clock:   clock,
		time:    timeutil.Or(tp),
	}
}

// Push inserts a received frame. Frames at or behind the playout cursor,
// duplicates, and frames arriving while the buffer is already past the
// overflow bound are dropped. The bound keeps memory finite when nothing is
// draining the buffer. Returns whether the frame was accepted.
func (b *Buffer) Push(seq uint16, senderTS uint64, payload []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.time.Now()

	if b.started && !protocol.SeqNewer(seq, b.cursor) && seq != b.cursor {
		return false // behind the cursor, playout already passed it
	}
	if _, dup := b.entries[seq]; dup {
		return false
	}
	if len(b.entries) > 4*b.cfg.TargetDepth {
		return false // consumer stalled, Pop force-advances from here
	}

	if !b.lastArrival.IsZero() {
		interval := now.Sub(b.lastArrival)
		if b.avgInterval == 0 {
			b.avgInterval = interval
		} else {
			b.avgInterval += time.Duration(float64(interval-b.avgInterval) * 0.125)
		}
	}
	b.lastArrival = now

	b.entries[seq] = &entry{payload: payload, senderTS: senderTS, arrival: now}
	return true
}

// Pop releases the next frame in sequence order, or nothing when the buffer
// decides to keep waiting. Call it from the stream's drain loop.
func (b *Buffer) Pop() (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return nil, false
	}

	now := b.time.Now()

	if !b.started {
		if len(b.entries) < b.cfg.TargetDepth && now.Sub(b.oldestArrival()) < b.cfg.MaxWait {
			return nil, false // still warming up
		}
		b.cursor = b.lowestSeq()
		b.started = true
	}

	if e, ok := b.entries[b.cursor]; ok {
		return b.release(b.cursor, e, 0), true
	}

	// Next expected sequence is missing. Skip it only after the bounded
	// wait, measured from the arrival of the oldest frame we are holding.
	if now.Sub(b.oldestArrival()) < b.skipBound() && len(b.entries) <= 4*b.cfg.TargetDepth {
		return nil, false
	}

	next := b.lowestSeq()
	skippedCount := protocol.SeqDiff(next, b.cursor)
	if skippedCount < 0 {
		// Cannot happen: Push rejects frames behind the cursor.
		skippedCount = 0
	}
	b.skipped += uint64(skippedCount)
	b.cursor = next

	return b.release(next, b.entries[next], skippedCount), true
}

// release removes the entry, advances the cursor past it and builds the
// outgoing frame. Caller holds the lock.
func (b *Buffer) release(seq uint16, e *entry, skippedBefore int) *Frame {
	delete(b.entries, seq)
	b.cursor = seq + 1
	b.delivered++

	playout := e.senderTS
	if b.clock != nil {
		playout = b.clock.ToLocalNanos(e.senderTS)
	}

	return &Frame{
		Sequence:        seq,
		Payload:         e.payload,
		SenderTimestamp: e.senderTS,
		PlayoutTime:     playout,
		SkippedBefore:   skippedBefore,
	}
}

// skipBound derives the loss wait from the smoothed inter-arrival interval,
// capped by the configured maximum.
func (b *Buffer) skipBound() time.Duration {
	bound := 3 * b.avgInterval
	if bound == 0 || bound > b.cfg.MaxWait {
		bound = b.cfg.MaxWait
	}
	return bound
}

// lowestSeq returns the oldest held sequence in serial order. Caller holds
// the lock and guarantees the buffer is non-empty.
func (b *Buffer) lowestSeq() uint16 {
	var lowest uint16
	first := true
	for seq := range b.entries {
		if first || protocol.SeqNewer(lowest, seq) {
			lowest = seq
			first = false
		}
	}
	return lowest
}

func (b *Buffer) oldestArrival() time.Time {
	var oldest time.Time
	for _, e := range b.entries {
		if oldest.IsZero() || e.arrival.Before(oldest) {
			oldest = e.arrival
		}
	}
	return oldest
}

// Stats reports totals since creation or the last reset.
func (b *Buffer) Stats() (delivered, skipped uint64, depth int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delivered, b.skipped, len(b.entries)
}

// Reset empties the buffer and restarts warmup. Used on renegotiation when
// the stream restarts with a fresh sequence space.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[uint16]*entry)
	b.started = false
	b.avgInterval = 0
	b.lastArrival = time.Time{}
}
