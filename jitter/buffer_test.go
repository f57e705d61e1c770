package jitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrlink/vrlink/internal/timeutil"
)

func testBuffer(depth int) (*Buffer, *timeutil.MockProvider) {
	tp := timeutil.NewMockProvider(time.Unix(1000, 0))
	b := New(Config{TargetDepth: depth, MaxWait: 50 * time.Millisecond}, nil, tp)
	return b, tp
}

// drain pops until the buffer declines, returning the released frames.
func drain(b *Buffer) []*Frame {
	var frames []*Frame
	for {
		f, ok := b.Pop()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

func TestWarmupHoldsUntilTargetDepth(t *testing.T) {
	b, _ := testBuffer(3)

	require.True(t, b.Push(10, 100, []byte{1}))
	_, ok := b.Pop()
	assert.False(t, ok, "one frame below target depth must not be released")

	require.True(t, b.Push(11, 200, []byte{2}))
	_, ok = b.Pop()
	assert.False(t, ok)

	require.True(t, b.Push(12, 300, []byte{3}))
	frame, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, uint16(10), frame.Sequence)
}

func TestWarmupReleasesAfterMaxWait(t *testing.T) {
	b, tp := testBuffer(4)

	require.True(t, b.Push(5, 100, []byte{1}))
	_, ok := b.Pop()
	require.False(t, ok)

	tp.Advance(60 * time.Millisecond)
	frame, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, uint16(5), frame.Sequence)
}

func TestInOrderDelivery(t *testing.T) {
	b, _ := testBuffer(2)

	for seq := uint16(0); seq < 6; seq++ {
		require.True(t, b.Push(seq, uint64(seq)*1000, []byte{byte(seq)}))
	}

	frames := drain(b)
	require.Len(t, frames, 6)
	for i, f := range frames {
		assert.Equal(t, uint16(i), f.Sequence)
		assert.Equal(t, []byte{byte(i)}, f.Payload)
		assert.Zero(t, f.SkippedBefore)
	}
}

func TestReorderedArrivalDeliveredInOrder(t *testing.T) {
	b, _ := testBuffer(2)

	for _, seq := range []uint16{3, 1, 4, 0, 2} {
		require.True(t, b.Push(seq, 0, []byte{byte(seq)}))
	}

	frames := drain(b)
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, uint16(i), f.Sequence)
	}
}

func TestDuplicateAndStaleRejected(t *testing.T) {
	b, _ := testBuffer(1)

	require.True(t, b.Push(7, 0, []byte{7}))
	assert.False(t, b.Push(7, 0, []byte{7}), "duplicate of a held frame")

	frame, ok := b.Pop()
	require.True(t, ok)
	require.Equal(t, uint16(7), frame.Sequence)

	assert.False(t, b.Push(7, 0, []byte{7}), "duplicate of a delivered frame")
	assert.False(t, b.Push(3, 0, []byte{3}), "frame behind the cursor")
	assert.True(t, b.Push(8, 0, []byte{8}))
}

func TestMissingSequenceSkippedAfterBound(t *testing.T) {
	b, tp := testBuffer(2)

	require.True(t, b.Push(0, 0, []byte{0}))
	require.True(t, b.Push(1, 0, []byte{1}))
	// Sequence 2 is lost.
	require.True(t, b.Push(3, 0, []byte{3}))

	frames := drain(b)
	require.Len(t, frames, 2) // 0 and 1; cursor now waits at 2

	_, ok := b.Pop()
	assert.False(t, ok, "cursor must wait out the skip bound before giving up")

	tp.Advance(60 * time.Millisecond)
	frame, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, uint16(3), frame.Sequence)
	assert.Equal(t, 1, frame.SkippedBefore)

	_, skipped, _ := b.Stats()
	assert.Equal(t, uint64(1), skipped)
}

func TestCursorNeverMovesBackward(t *testing.T) {
	b, tp := testBuffer(3)

	// Adversarial ordering with gaps and duplicates across a wraparound.
	sequences := []uint16{65533, 65535, 65534, 1, 0, 1, 3, 2, 65533, 5}
	for _, seq := range sequences {
		b.Push(seq, 0, nil)
		tp.Advance(time.Millisecond)
	}
	tp.Advance(60 * time.Millisecond)

	var last uint16
	first := true
	total := 0
	for {
		f, ok := b.Pop()
		if !ok {
			break
		}
		if !first {
			assert.Positive(t, int16(f.Sequence-last), "delivery went backward: %d after %d", f.Sequence, last)
		}
		last = f.Sequence
		first = false
		total++
		tp.Advance(60 * time.Millisecond)
	}
	assert.Equal(t, 8, total, "every unique pushed sequence is eventually delivered")
}

func TestOneInTenLossDeliversRestInOrder(t *testing.T) {
	b, tp := testBuffer(3)

	// 50 frames at a 14ms cadence with every tenth lost, drained as they
	// arrive the way a playout loop would.
	var delivered []uint16
	gaps := 0
	collect := func() {
		for {
			f, ok := b.Pop()
			if !ok {
				return
			}
			delivered = append(delivered, f.Sequence)
			gaps += f.SkippedBefore
		}
	}

	for seq := uint16(0); seq < 50; seq++ {
		if seq%10 != 9 {
			require.True(t, b.Push(seq, uint64(seq)*14_000_000, []byte{byte(seq)}))
		}
		tp.Advance(14 * time.Millisecond)
		collect()
	}
	for len(b.entries) > 0 {
		tp.Advance(60 * time.Millisecond)
		collect()
	}

	require.Len(t, delivered, 45)
	for i := 1; i < len(delivered); i++ {
		assert.Positive(t, int16(delivered[i]-delivered[i-1]))
	}
	assert.Equal(t, 4, gaps, "a skip is charged for every lost frame the cursor crossed")
}

func TestOverflowForcesAdvance(t *testing.T) {
	b, _ := testBuffer(2)

	require.True(t, b.Push(0, 0, []byte{0}))
	require.True(t, b.Push(1, 0, []byte{1}))
	frames := drain(b)
	require.Len(t, frames, 2)

	// Sequence 2 lost; pile up past 4x target depth without moving the
	// mock clock. The buffer must advance anyway.
	for seq := uint16(3); seq < 12; seq++ {
		require.True(t, b.Push(seq, 0, nil))
	}
	assert.False(t, b.Push(12, 0, nil), "pushes past the overflow bound are refused")

	frame, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, uint16(3), frame.Sequence)
	assert.Equal(t, 1, frame.SkippedBefore)
}

func TestPushBoundedWithoutConsumer(t *testing.T) {
	b, _ := testBuffer(2)

	// Nobody draining, frames keep arriving. Memory must stay bounded.
	accepted := 0
	for seq := uint16(0); seq < 100; seq++ {
		if b.Push(seq, 0, nil) {
			accepted++
		}
	}

	_, _, depth := b.Stats()
	assert.Equal(t, 9, depth)
	assert.Equal(t, 9, accepted)

	// Draining frees room again.
	f, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, uint16(0), f.Sequence)
	assert.True(t, b.Push(50, 0, nil))
}

func TestPlayoutTimeUsesClock(t *testing.T) {
	shift := &fixedClock{delta: 500}
	b := New(Config{TargetDepth: 1, MaxWait: 50 * time.Millisecond}, shift,
		timeutil.NewMockProvider(time.Unix(1000, 0)))

	require.True(t, b.Push(0, 2000, []byte{1}))
	frame, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(2000), frame.SenderTimestamp)
	assert.Equal(t, uint64(1500), frame.PlayoutTime)
}

type fixedClock struct{ delta uint64 }

func (c *fixedClock) ToLocalNanos(hostNanos uint64) uint64 { return hostNanos - c.delta }

func TestResetRestartsWarmup(t *testing.T) {
	b, _ := testBuffer(2)

	require.True(t, b.Push(100, 0, nil))
	require.True(t, b.Push(101, 0, nil))
	frames := drain(b)
	require.Len(t, frames, 2)

	b.Reset()

	// A fresh sequence space far behind the old cursor is accepted.
	require.True(t, b.Push(0, 0, nil))
	require.True(t, b.Push(1, 0, nil))
	frame, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, uint16(0), frame.Sequence)
}
