// Package portaudio implements [audio.Device] on top of blocking PortAudio
// streams.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-voice/core/audio"
)

const DefaultBufferSize = 512

type Client struct {
	bufferSize int
	input      *portaudio.Stream
	output     *portaudio.Stream
	in         []int16
	out        []int16

	playback audio.PlaybackBuffer

	mu           sync.Mutex
	onAudio      func(audio []byte)
	stopCapture  context.CancelFunc
	captureDone  chan struct{}
	stopPlayback context.CancelFunc
	playbackDone chan struct{}
	closed       bool
}

// NewClient opens the default input and output devices at the default
// sample rate as linear16 mono. bufferSize is in frames.
func NewClient(bufferSize int) (*Client, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	c := &Client{
		bufferSize: bufferSize,
		in:         make([]int16, bufferSize),
		out:        make([]int16, bufferSize),
	}

	var err error
	if c.input, err = portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, bufferSize, c.in); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if c.output, err = portaudio.OpenDefaultStream(0, 1, audio.DefaultSampleRate, bufferSize, c.out); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := c.output.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.stopPlayback, c.playbackDone = cancel, make(chan struct{})
	go c.play(ctx)

	return c, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return audio.ErrDeviceClosed
	}

	c.onAudio = onAudio
	if c.stopCapture != nil {
		return nil
	}
	if err := c.input.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.stopCapture, c.captureDone = cancel, make(chan struct{})
	go c.capture(ctx, c.captureDone)
	return nil
}

func (c *Client) StopCapture() error {
	c.mu.Lock()
	stop, done := c.stopCapture, c.captureDone
	c.stopCapture, c.captureDone, c.onAudio = nil, nil, nil
	c.mu.Unlock()

	if stop == nil {
		return nil
	}
	stop()
	<-done
	if err := c.input.Stop(); err != nil {
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	return nil
}

func (c *Client) capture(ctx context.Context, done chan struct{}) {
	defer close(done)

	chunk := make([]byte, len(c.in)*2)
	for ctx.Err() == nil {
		if err := c.input.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			logger.Warn("failed to read from input stream", "error", err)
			continue
		}
		for i, sample := range c.in {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(sample))
		}

		c.mu.Lock()
		onAudio := c.onAudio
		c.mu.Unlock()
		if onAudio != nil {
			onAudio(append([]byte(nil), chunk...))
		}
	}
}

func (c *Client) play(ctx context.Context) {
	defer close(c.playbackDone)

	frame := make([]byte, len(c.out)*2)
	for ctx.Err() == nil {
		n := c.playback.Read(frame)
		clear(frame[n:])
		for i := range c.out {
			c.out[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
		}
		// Writing silence keeps the blocking stream paced while idle.
		if err := c.output.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			logger.Warn("failed to write to output stream", "error", err)
		}
	}
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playback.Write(audio)
}

func (c *Client) ClearBuffer() {
	c.playback.Clear()
}

func (c *Client) AwaitMark(ctx context.Context) error {
	return c.playback.AwaitMark(ctx)
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}

func (c *Client) Close() {
	if err := c.StopCapture(); err != nil {
		logger.Warn("failed to stop capture", "error", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stopPlayback := c.stopPlayback
	c.mu.Unlock()

	c.playback.Close()
	if stopPlayback != nil {
		stopPlayback()
		<-c.playbackDone
	}
	for _, stream := range []*portaudio.Stream{c.input, c.output} {
		if stream != nil {
			_ = stream.Close()
		}
	}
	if err := portaudio.Terminate(); err != nil {
		logger.Warn("failed to terminate portaudio", "error", err)
	}
}

var _ audio.Device = (*Client)(nil)
