// Package clocksync estimates the offset between the local and host
// monotonic clocks from periodic probe round-trips.
//
// Each probe carries the client's send time; the host echoes it together
// with its own receive and send times, so the processing delay on the host
// is excluded from the round-trip. Samples are folded into an exponentially
// smoothed estimate that tracks slow drift without following single-sample
// jitter spikes.
package clocksync

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vrlink/vrlink/metrics"
	"github.com/vrlink/vrlink/protocol"
)

// Config are the tuning parameters of the estimator.
type Config struct {
	// SmoothingWeight is the exponential weight applied to each new
	// offset sample, in (0, 1]. Lower resists jitter more.
	SmoothingWeight float64

	// MaxStep bounds how far a single sample may move the offset.
	MaxStep time.Duration

	// MaxRoundTrip rejects samples whose round-trip exceeds it.
	MaxRoundTrip time.Duration
}

// Estimate is the current relationship between local and host clocks.
type Estimate struct {
	// Offset is host clock minus local clock. Adding it to a local
	// timestamp yields the host timestamp for the same instant.
	Offset time.Duration

	// RoundTrip is the smoothed probe round-trip time.
	RoundTrip time.Duration

	// Samples counts the probe replies applied since the last reset.
	Samples int

	// LastUpdate is when the estimate last changed.
	LastUpdate time.Time
}

// Sync maintains a clock estimate from probe replies.
type Sync struct {
	mu        sync.RWMutex
	cfg       Config
	est       Estimate
	collector *metrics.Collector

	log *logrus.Entry
}

// New creates a clock estimator. The collector may be nil.
func New(cfg Config, collector *metrics.Collector) *Sync {
	return &Sync{
		cfg:       cfg,
		collector: collector,
		log:       logrus.WithField("component", "clocksync"),
	}
}

// AddSample folds one probe round-trip into the estimate.
//
// Timestamps are monotonic nanoseconds on their respective clocks:
// the probe left the client at reply.ClientSendTime, reached the host at
// reply.HostRecvTime, left it at reply.HostSendTime and arrived back at
// localRecvTime. Returns false when the sample was rejected as an outlier.
func (s *Sync) AddSample(reply *protocol.ClockProbeReply, localRecvTime uint64) bool {
	if reply == nil || localRecvTime < reply.ClientSendTime {
		return false
	}

	totalTrip := time.Duration(localRecvTime - reply.ClientSendTime)
	hostDelay := time.Duration(reply.HostSendTime - reply.HostRecvTime)
	if reply.HostSendTime < reply.HostRecvTime {
		return false
	}

	rtt := totalTrip - hostDelay
	if rtt < 0 {
		return false
	}

	if s.cfg.MaxRoundTrip > 0 && rtt > s.cfg.MaxRoundTrip {
		s.log.WithFields(logrus.Fields{
			"round_trip": rtt.String(),
			"max":        s.cfg.MaxRoundTrip.String(),
		}).Debug("Rejected clock sample as round-trip outlier")
		if s.collector != nil {
			s.collector.ClockSamplesDropped.Inc()
		}
		return false
	}

	// NTP-style offset: mean of the two one-way clock differences.
	forward := int64(reply.HostRecvTime) - int64(reply.ClientSendTime)
	backward := int64(reply.HostSendTime) - int64(localRecvTime)
	sample := time.Duration((forward + backward) / 2)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if s.est.Samples == 0 {
		// First sample after start or reset: adopt unweighted.
		s.est.Offset = sample
		s.est.RoundTrip = rtt
	} else {
		delta := sample - s.est.Offset
		step := time.Duration(float64(delta) * s.cfg.SmoothingWeight)
		if step > s.cfg.MaxStep {
			step = s.cfg.MaxStep
		} else if step < -s.cfg.MaxStep {
			step = -s.cfg.MaxStep
		}
		s.est.Offset += step

		// Standard RTT smoothing weight.
		s.est.RoundTrip += time.Duration(float64(rtt-s.est.RoundTrip) * 0.125)
	}

	s.est.Samples++
	s.est.LastUpdate = now

	if s.collector != nil {
		s.collector.ClockSamplesOK.Inc()
		s.collector.RoundTripSeconds.Observe(rtt.Seconds())
	}

	return true
}

// Estimate returns a snapshot of the current estimate.
func (s *Sync) Estimate() Estimate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.est
}

// Offset returns the current host-minus-local clock offset.
func (s *Sync) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.est.Offset
}

// ToLocalNanos translates a host timestamp to the local monotonic clock
// using the current offset.
func (s *Sync) ToLocalNanos(hostNanos uint64) uint64 {
	offset := s.Offset()
	local := int64(hostNanos) - int64(offset)
	if local < 0 {
		return 0
	}
	return uint64(local)
}

// Reset discards the estimate so the next sample is adopted unweighted.
// Called on reconnect: the host clock may be a different machine entirely.
func (s *Sync) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.est = Estimate{}
	s.log.Debug("Clock estimate reset")
}
