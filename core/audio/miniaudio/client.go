// Package miniaudio implements [audio.Device] on top of miniaudio.
package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

const channels = 1

type Client struct {
	// audioContext is only kept to uninitialize it, it is an ownership thing
	audioContext *malgo.AllocatedContext
	encoding     audio.EncodingInfo

	playback playbackClient
	capture  captureClient
}

type ClientOption func(*Client)

// WithEncoding sets the sample rate and format of both directions.
func WithEncoding(encoding audio.EncodingInfo) ClientOption {
	return func(c *Client) { c.encoding = encoding }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{encoding: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(client)
	}
	if err := client.encoding.Validate(); err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	client.audioContext = audioCtx

	if err := client.playback.Init(audioCtx, client.encoding); err != nil {
		client.Close()
		return nil, err
	}
	if err := client.playback.Start(); err != nil {
		client.Close()
		return nil, err
	}
	if err := client.capture.Init(audioCtx, client.encoding); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.capture.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.capture.Stop()
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playback.buffer.Write(audio)
}

func (c *Client) ClearBuffer() {
	c.playback.buffer.Clear()
}

func (c *Client) AwaitMark(ctx context.Context) error {
	return c.playback.buffer.AwaitMark(ctx)
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}

func (c *Client) Close() {
	c.capture.Uninit()
	c.playback.Uninit()
	if c.audioContext != nil {
		if err := c.audioContext.Uninit(); err != nil {
			logger.Warn("failed to uninitialize audio context", "error", err)
		}
		c.audioContext.Free()
		c.audioContext = nil
	}
}

func deviceFormat(encoding audio.EncodingInfo) (malgo.FormatType, error) {
	if encoding.Format != audio.EncodingLinear16 {
		return malgo.FormatUnknown, fmt.Errorf("unsupported device encoding %q", encoding.Format)
	}
	return malgo.FormatS16, nil
}

var _ audio.Device = (*Client)(nil)
