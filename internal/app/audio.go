package app

import (
	"fmt"
	"io"
	"os"

	"go.aimuz.me/autocap/audiocapture"
	"go.aimuz.me/autocap/config"
)

// CaptureSource is an audio source that owns resources released by Close.
type CaptureSource interface {
	audiocapture.Source
	io.Closer
}

// OpenSource creates the configured audio source. The caller closes it.
func (s *Service) OpenSource() (CaptureSource, error) {
	c := s.cfg.Capture
	format := audiocapture.Format{SampleRate: c.SampleRate, Channels: 1, BitsPerSample: 16}

	switch c.Source {
	case config.SourceDevice:
		dev, err := audiocapture.NewDevice(audiocapture.DeviceConfig{
			Name:          c.Device,
			Format:        format,
			FrameDuration: c.FrameDuration(),
		})
		if err != nil {
			return nil, fmt.Errorf("open input device: %w", err)
		}
		return dev, nil

	case config.SourceFile:
		src, err := audiocapture.OpenFile(c.File, audiocapture.ReaderConfig{
			Format:        format,
			FrameDuration: c.FrameDuration(),
			Realtime:      c.Realtime,
		})
		if err != nil {
			return nil, err
		}
		if got := src.Format().SampleRate; got != c.SampleRate {
			src.Close()
			return nil, fmt.Errorf("%s is %d Hz, recognizer expects %d Hz", c.File, got, c.SampleRate)
		}
		return src, nil

	case config.SourceStdin:
		return audiocapture.NewReaderSource(os.Stdin, audiocapture.ReaderConfig{
			Format:        format,
			FrameDuration: c.FrameDuration(),
			Realtime:      c.Realtime,
			Label:         "stdin",
		}), nil

	case config.SourceSilence:
		return audiocapture.NewSilence(format), nil
	}
	return nil, fmt.Errorf("unknown capture source %q", c.Source)
}

// ListDevices returns the available input devices.
func ListDevices() ([]audiocapture.DeviceInfo, error) {
	devices, err := audiocapture.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	return devices, nil
}
