//go:build portaudio

package audiocapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Device captures from a PortAudio input device.
type Device struct {
	cfg DeviceConfig
	errorHooks

	mu          sync.Mutex
	initialized bool
	stream      *portaudio.Stream
	capturing   bool
	cancel      context.CancelFunc
	stopped     chan struct{}
}

// NewDevice initializes PortAudio for capture from cfg.Name, or the default
// input device when the name is empty.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	cfg = cfg.withDefaults()
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &Device{cfg: cfg, initialized: true}, nil
}

// Start opens the input stream and begins delivering frames.
func (d *Device) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("audiocapture: nil handler")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capturing {
		return ErrAlreadyCapturing
	}

	f := d.cfg.Format
	buffer := make([]int16, f.FrameSize(d.cfg.FrameDuration)/f.BlockAlign()*f.Channels)
	framesPerBuffer := len(buffer) / f.Channels

	var (
		stream *portaudio.Stream
		err    error
	)
	if d.cfg.Name == "" || d.cfg.Name == "default" {
		stream, err = portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), framesPerBuffer, buffer)
	} else {
		dev, findErr := findInputDevice(d.cfg.Name)
		if findErr != nil {
			return findErr
		}
		stream, err = portaudio.OpenStream(portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: f.Channels,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      float64(f.SampleRate),
			FramesPerBuffer: framesPerBuffer,
		}, buffer)
	}
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	d.stream = stream
	d.cancel = cancel
	d.stopped = make(chan struct{})
	d.capturing = true

	go d.captureLoop(ctx, stream, buffer, handler, d.stopped)

	slog.Info("microphone capture started", "device", d.Description(), "sample_rate", f.SampleRate)
	return nil
}

func (d *Device) captureLoop(ctx context.Context, stream *portaudio.Stream, buffer []int16, handler Handler, stopped chan struct{}) {
	defer close(stopped)

	for ctx.Err() == nil {
		if err := stream.Read(); err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("input overflowed", "device", d.cfg.Name)
				continue
			}
			d.notify(fmt.Errorf("read input stream: %w", err))
			time.Sleep(d.cfg.FrameDuration)
			continue
		}
		handler(Frame{Data: Int16ToPCM16(buffer), Timestamp: time.Now()})
	}
}

// Stop stops the stream and waits for the capture goroutine.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.capturing {
		d.mu.Unlock()
		return nil
	}
	d.capturing = false
	d.cancel()
	stream, stopped := d.stream, d.stopped
	d.stream = nil
	d.mu.Unlock()

	// Stop unblocks a pending Read.
	stopErr := stream.Stop()
	<-stopped
	if err := stream.Close(); err != nil {
		return fmt.Errorf("close input stream: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("stop input stream: %w", stopErr)
	}
	return nil
}

// Close stops capture and releases PortAudio.
func (d *Device) Close() error {
	if err := d.Stop(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		d.initialized = false
		if err := portaudio.Terminate(); err != nil {
			return fmt.Errorf("terminate portaudio: %w", err)
		}
	}
	return nil
}

func (d *Device) IsCapturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capturing
}

func (d *Device) Description() string {
	if d.cfg.Name == "" {
		return "default microphone"
	}
	return d.cfg.Name
}

func (d *Device) Format() Format { return d.cfg.Format }

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", name)
}

// ListDevices returns the available input devices.
func ListDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var out []DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}
		info := DeviceInfo{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefault:         dev.Name == defaultName,
		}
		if dev.HostApi != nil {
			info.HostAPI = dev.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}
