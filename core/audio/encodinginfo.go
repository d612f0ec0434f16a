package audio

import (
	"fmt"
	"time"
)

const (
	DefaultSampleRate = 16000
	DefaultFormat     = EncodingLinear16
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: DefaultFormat}
}

// EncodingInfo describes mono audio flowing between a device and a speech
// engine.
type EncodingInfo struct {
	SampleRate int
	Format     EncodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// Validate reports whether the encoding can be captured and played back.
func (e EncodingInfo) Validate() error {
	if e.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", e.SampleRate)
	}
	if e.Format.ByteSize() < 0 {
		return fmt.Errorf("unsupported encoding %q", e.Format)
	}
	return nil
}

// SilenceValue is the byte that encodes silence in every sample.
func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	}
	return 0
}

// Silence returns d worth of silent audio.
func (e EncodingInfo) Silence(d time.Duration) []byte {
	chunk := make([]byte, e.BytesFor(d))
	if value := e.SilenceValue(); value != 0 {
		for i := range chunk {
			chunk[i] = value
		}
	}
	return chunk
}

// BytesFor returns the size of d worth of audio, rounded down to a whole
// sample.
func (e EncodingInfo) BytesFor(d time.Duration) int {
	size := e.Format.ByteSize()
	if size <= 0 || d <= 0 {
		return 0
	}
	samples := int(int64(e.SampleRate) * int64(d) / int64(time.Second))
	return samples * size
}

// Duration returns how long n bytes of audio play for.
func (e EncodingInfo) Duration(n int) time.Duration {
	size := e.Format.ByteSize()
	if size <= 0 || e.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n/size) * time.Second / time.Duration(e.SampleRate)
}

type EncodingFormat string

func (e EncodingFormat) Name() string {
	return string(e)
}

// ByteSize is the size of one sample, or -1 for unknown formats.
func (e EncodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    EncodingFormat = "mulaw"
	EncodingALaw     EncodingFormat = "alaw"
	EncodingLinear16 EncodingFormat = "linear16"
)
