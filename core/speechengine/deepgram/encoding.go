package deepgram

import (
	"fmt"

	"github.com/koscakluka/ema-voice/core/audio"
)

type encodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingALaw     encodingFormat = "alaw"
	encodingMulaw    encodingFormat = "mulaw"
)

func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	deepgramEncoding := encodingInfo{}
	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
		deepgramEncoding.SampleRate = encoding.SampleRate
	default:
		return nil, fmt.Errorf("unsupported sample rate %d", encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
		deepgramEncoding.Format = encodingLinear16
	case audio.EncodingALaw:
		deepgramEncoding.Format = encodingALaw
	case audio.EncodingMulaw:
		deepgramEncoding.Format = encodingMulaw
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding.Format)
	}
	if deepgramEncoding.Format != encodingLinear16 && deepgramEncoding.SampleRate != 8000 {
		return nil, fmt.Errorf("unsupported sample rate for %s encoding", deepgramEncoding.Format)
	}

	return &deepgramEncoding, nil
}
