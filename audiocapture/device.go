package audiocapture

import "time"

// DeviceConfig selects and configures a capture device.
type DeviceConfig struct {
	Name          string // device name; empty selects the default input
	Format        Format
	FrameDuration time.Duration
}

func (c DeviceConfig) withDefaults() DeviceConfig {
	if c.Format == (Format{}) {
		c.Format = DefaultFormat()
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	return c
}

// DeviceInfo describes an input device.
type DeviceInfo struct {
	Name              string  `json:"name"`
	HostAPI           string  `json:"hostApi,omitempty"`
	MaxInputChannels  int     `json:"maxInputChannels"`
	DefaultSampleRate float64 `json:"defaultSampleRate"`
	IsDefault         bool    `json:"isDefault"`
}
