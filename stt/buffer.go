package stt

import "time"

// AudioBuffer accumulates the samples of the utterance in progress.
// It keeps an optional overlap after extraction so that a word cut by a
// forced split reaches the transcriber twice instead of not at all.
type AudioBuffer struct {
	samples      []float32
	overlapRatio float64 // Ratio of samples to keep on extract (0-1)
	sampleRate   int
}

// NewAudioBuffer creates a new audio buffer.
func NewAudioBuffer(sampleRate int, overlapRatio float64) *AudioBuffer {
	return &AudioBuffer{
		samples:      make([]float32, 0, sampleRate*10),
		overlapRatio: overlapRatio,
		sampleRate:   sampleRate,
	}
}

// Append adds new audio samples to the buffer.
func (b *AudioBuffer) Append(samples []float32) {
	b.samples = append(b.samples, samples...)
}

// Extract returns a copy of all buffered samples, keeping the configured
// overlap at the tail.
func (b *AudioBuffer) Extract() []float32 {
	if len(b.samples) == 0 {
		return nil
	}

	result := make([]float32, len(b.samples))
	copy(result, b.samples)

	overlap := int(float64(len(b.samples)) * b.overlapRatio)
	if overlap > 0 && overlap < len(b.samples) {
		n := copy(b.samples, b.samples[len(b.samples)-overlap:])
		b.samples = b.samples[:n]
	} else {
		b.samples = b.samples[:0]
	}

	return result
}

// Snapshot returns a copy of the buffered samples without consuming them.
func (b *AudioBuffer) Snapshot() []float32 {
	if len(b.samples) == 0 {
		return nil
	}
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// Clear empties the buffer completely.
func (b *AudioBuffer) Clear() {
	b.samples = b.samples[:0]
}

// Len returns the number of samples currently in the buffer.
func (b *AudioBuffer) Len() int {
	return len(b.samples)
}

// Duration returns the duration of buffered audio.
func (b *AudioBuffer) Duration() time.Duration {
	if b.sampleRate == 0 {
		return 0
	}
	return time.Duration(len(b.samples)) * time.Second / time.Duration(b.sampleRate)
}
