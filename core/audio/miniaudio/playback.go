package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

type playbackClient struct {
	device *malgo.Device
	buffer audio.PlaybackBuffer

	mu sync.Mutex
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format, err := deviceFormat(encoding)
	if err != nil {
		return err
	}
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels
	silence := encoding.SilenceValue()

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Playback.Format = format
	config.Playback.Channels = channels
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(encoding.SampleRate) / 10 // ~100ms of audio
	config.Periods = 4

	if c.device, err = malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			need := min(int(frameCount)*bytesPerFrame, len(pOutput))
			n := c.buffer.Read(pOutput[:need])
			for i := n; i < need; i++ {
				pOutput[i] = silence
			}
		},
	}); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return audio.ErrDeviceClosed
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil || !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback device: %w", err)
	}
	c.buffer.Clear()
	return nil
}

func (c *playbackClient) Uninit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer.Close()
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
}
