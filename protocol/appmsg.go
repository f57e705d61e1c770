package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// Application-level control payloads. These ride the control channel under
// their respective tags and mirror the host's definitions byte for byte.

// Battery reports the client device's battery state (TagBattery).
type Battery struct {
	DeviceID uint64
	Gauge    float32 // 0..1
	Plugged  bool
}

// MarshalBattery serializes a battery report.
func MarshalBattery(b *Battery) []byte {
	data := make([]byte, 13)
	binary.BigEndian.PutUint64(data[0:8], b.DeviceID)
	binary.BigEndian.PutUint32(data[8:12], math.Float32bits(b.Gauge))
	if b.Plugged {
		data[12] = 1
	}
	return data
}

// ParseBattery deserializes a battery report.
func ParseBattery(data []byte) (*Battery, error) {
	if len(data) < 13 {
		return nil, errors.New("battery payload too short")
	}
	return &Battery{
		DeviceID: binary.BigEndian.Uint64(data[0:8]),
		Gauge:    math.Float32frombits(binary.BigEndian.Uint32(data[8:12])),
		Plugged:  data[12] == 1,
	}, nil
}

// Fov is one eye's field of view in radians.
type Fov struct {
	Left   float32
	Right  float32
	Top    float32
	Bottom float32
}

// ViewsConfig reports per-eye FOV and interpupillary distance (TagViewsConfig).
type ViewsConfig struct {
	Fov  [2]Fov
	IpdM float32
}

// MarshalViewsConfig serializes a views configuration.
func MarshalViewsConfig(v *ViewsConfig) []byte {
	data := make([]byte, 36)
	off := 0
	for _, fov := range v.Fov {
		for _, f := range [4]float32{fov.Left, fov.Right, fov.Top, fov.Bottom} {
			binary.BigEndian.PutUint32(data[off:off+4], math.Float32bits(f))
			off += 4
		}
	}
	binary.BigEndian.PutUint32(data[32:36], math.Float32bits(v.IpdM))
	return data
}

// ParseViewsConfig deserializes a views configuration.
func ParseViewsConfig(data []byte) (*ViewsConfig, error) {
	if len(data) < 36 {
		return nil, errors.New("views config too short")
	}
	var v ViewsConfig
	off := 0
	for i := range v.Fov {
		fields := [4]*float32{&v.Fov[i].Left, &v.Fov[i].Right, &v.Fov[i].Top, &v.Fov[i].Bottom}
		for _, f := range fields {
			*f = math.Float32frombits(binary.BigEndian.Uint32(data[off : off+4]))
			off += 4
		}
	}
	v.IpdM = math.Float32frombits(binary.BigEndian.Uint32(data[32:36]))
	return &v, nil
}

// Button reports one discrete input event (TagButton). Binary buttons set
// IsScalar false and use Pressed; analog inputs carry Scalar.
type Button struct {
	PathID   uint64
	IsScalar bool
	Pressed  bool
	Scalar   float32
}

// MarshalButton serializes a button event.
func MarshalButton(b *Button) []byte {
	data := make([]byte, 14)
	binary.BigEndian.PutUint64(data[0:8], b.PathID)
	if b.IsScalar {
		data[8] = 1
	}
	if b.Pressed {
		data[9] = 1
	}
	binary.BigEndian.PutUint32(data[10:14], math.Float32bits(b.Scalar))
	return data
}

// ParseButton deserializes a button event.
func ParseButton(data []byte) (*Button, error) {
	if len(data) < 14 {
		return nil, errors.New("button payload too short")
	}
	return &Button{
		PathID:   binary.BigEndian.Uint64(data[0:8]),
		IsScalar: data[8] == 1,
		Pressed:  data[9] == 1,
		Scalar:   math.Float32frombits(binary.BigEndian.Uint32(data[10:14])),
	}, nil
}

// ClientStatistics is the periodic aggregate summary sent to the host
// (TagStatistics).
type ClientStatistics struct {
	VideoFramesDelivered uint64
	VideoFramesSkipped   uint64
	AudioFramesDelivered uint64
	AudioFramesSkipped   uint64
	ClockOffsetNanos     int64
	RoundTripNanos       int64
}

// MarshalClientStatistics serializes a statistics summary.
func MarshalClientStatistics(s *ClientStatistics) []byte {
	data := make([]byte, 48)
	binary.BigEndian.PutUint64(data[0:8], s.VideoFramesDelivered)
	binary.BigEndian.PutUint64(data[8:16], s.VideoFramesSkipped)
	binary.BigEndian.PutUint64(data[16:24], s.AudioFramesDelivered)
	binary.BigEndian.PutUint64(data[24:32], s.AudioFramesSkipped)
	binary.BigEndian.PutUint64(data[32:40], uint64(s.ClockOffsetNanos))
	binary.BigEndian.PutUint64(data[40:48], uint64(s.RoundTripNanos))
	return data
}

// ParseClientStatistics deserializes a statistics summary.
func ParseClientStatistics(data []byte) (*ClientStatistics, error) {
	if len(data) < 48 {
		return nil, errors.New("statistics payload too short")
	}
	return &ClientStatistics{
		VideoFramesDelivered: binary.BigEndian.Uint64(data[0:8]),
		VideoFramesSkipped:   binary.BigEndian.Uint64(data[8:16]),
		AudioFramesDelivered: binary.BigEndian.Uint64(data[16:24]),
		AudioFramesSkipped:   binary.BigEndian.Uint64(data[24:32]),
		ClockOffsetNanos:     int64(binary.BigEndian.Uint64(data[32:40])),
		RoundTripNanos:       int64(binary.BigEndian.Uint64(data[40:48])),
	}, nil
}
