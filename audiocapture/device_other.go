//go:build !portaudio

package audiocapture

import "context"

// Device is unavailable without the portaudio build tag.
type Device struct {
	errorHooks
}

// NewDevice returns ErrUnsupported; build with -tags portaudio for microphone capture.
func NewDevice(DeviceConfig) (*Device, error) {
	return nil, ErrUnsupported
}

// ListDevices returns ErrUnsupported without the portaudio build tag.
func ListDevices() ([]DeviceInfo, error) {
	return nil, ErrUnsupported
}

func (*Device) Start(context.Context, Handler) error { return ErrUnsupported }
func (*Device) Stop() error                          { return nil }
func (*Device) Close() error                         { return nil }
func (*Device) IsCapturing() bool                    { return false }
func (*Device) Description() string                  { return "unsupported device" }
func (*Device) Format() Format                       { return DefaultFormat() }
