package miniaudio

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

type captureClient struct {
	device *malgo.Device

	// onAudio is read from the device thread, which must never wait on mu:
	// stopping the device blocks until the running callback returns.
	onAudio atomic.Pointer[func(audio []byte)]

	mu sync.Mutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format, err := deviceFormat(encoding)
	if err != nil {
		return err
	}
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Capture.Format = format
	config.Capture.Channels = channels
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = 480
	config.Periods = 3

	c.device, err = malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			if onAudio := c.onAudio.Load(); onAudio != nil {
				(*onAudio)(slices.Clone(pInput[:n]))
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return nil
}

func (c *captureClient) Start(onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return audio.ErrDeviceClosed
	}

	c.onAudio.Store(&onAudio)
	if c.device.IsStarted() {
		return nil
	}
	if err := c.device.Start(); err != nil {
		c.onAudio.Store(nil)
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onAudio.Store(nil)
	if c.device == nil || !c.device.IsStarted() {
		return nil
	}
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Uninit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onAudio.Store(nil)
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
}
