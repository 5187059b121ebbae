package stt

import (
	"math"
	"time"
)

// Detector classifies a block of samples as speech or not.
type Detector interface {
	IsSpeech(samples []float32, sampleRate int) bool
}

// EnergyDetector flags speech when the RMS level exceeds Threshold.
type EnergyDetector struct {
	Threshold float32
}

// DefaultEnergyThreshold suits speech captured at normal gain.
const DefaultEnergyThreshold = 0.015

func (d EnergyDetector) IsSpeech(samples []float32, _ int) bool {
	return calculateRMS(samples) > d.Threshold
}

// VAD (Voice Activity Detector) segments an audio stream into utterances.
//
// Durations are measured on the audio itself, by counting samples, so the
// result does not depend on how fast frames arrive.
type VAD struct {
	detector Detector

	// Duration constraints
	minSpeechDur    time.Duration // Shorter bursts are discarded as noise
	maxSpeechDur    time.Duration // Longer speech is cut for transcription
	silenceDur      time.Duration // Silence duration to end speech
	transcribeDelay time.Duration // Minimum delay between max-duration cuts

	// State, as offsets on the audio clock
	clock          time.Duration
	inSpeech       bool
	speechStart    time.Duration
	lastSpeech     time.Duration
	lastTranscribe time.Duration
}

// NewVAD creates a new voice activity detector.
func NewVAD(d Detector, minSpeech, maxSpeech, silence, delay time.Duration) *VAD {
	v := &VAD{
		detector:        d,
		minSpeechDur:    minSpeech,
		maxSpeechDur:    maxSpeech,
		silenceDur:      silence,
		transcribeDelay: delay,
	}
	v.Reset()
	return v
}

// SpeechEvent represents a detected speech event.
type SpeechEvent struct {
	Type EventType
	// Offset is the position on the audio clock at the end of the block.
	Offset time.Duration
	// Duration is populated for SpeechEnd and SpeechMaxDuration events.
	Duration time.Duration
}

// EventType represents the type of speech event.
type EventType int

const (
	EventNone EventType = iota // No event
	EventSpeechStart
	EventSpeechContinue
	EventSpeechEnd
	EventSpeechMaxDuration // Speech exceeded maxSpeechDur
	EventSpeechDiscarded   // Speech ended before minSpeechDur
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechContinue:
		return "speech_continue"
	case EventSpeechEnd:
		return "speech_end"
	case EventSpeechMaxDuration:
		return "speech_max_duration"
	case EventSpeechDiscarded:
		return "speech_discarded"
	}
	return "none"
}

// VADResult contains the result of processing audio samples.
type VADResult struct {
	Event            SpeechEvent
	ShouldTranscribe bool // Whether transcription should be triggered
}

// Process advances the audio clock by the block and returns the speech event it caused.
func (v *VAD) Process(samples []float32, sampleRate int) VADResult {
	if sampleRate > 0 {
		v.clock += time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)
	}
	now := v.clock

	result := VADResult{Event: SpeechEvent{Offset: now, Type: EventNone}}

	if v.detector.IsSpeech(samples, sampleRate) {
		if !v.inSpeech {
			v.inSpeech = true
			v.speechStart = now
			result.Event.Type = EventSpeechStart
		} else {
			result.Event.Type = EventSpeechContinue
		}
		v.lastSpeech = now
	}

	if !v.inSpeech {
		return result
	}

	speechDuration := now - v.speechStart
	silenceDuration := now - v.lastSpeech

	switch {
	case silenceDuration > v.silenceDur:
		v.inSpeech = false
		result.Event.Duration = v.lastSpeech - v.speechStart
		if result.Event.Duration < v.minSpeechDur {
			result.Event.Type = EventSpeechDiscarded
			return result
		}
		// A finished utterance is always transcribed.
		v.lastTranscribe = now
		result.Event.Type = EventSpeechEnd
		result.ShouldTranscribe = true
	case speechDuration > v.maxSpeechDur && now-v.lastTranscribe >= v.transcribeDelay:
		// Keep inSpeech = true for continuous long speech
		v.lastTranscribe = now
		v.speechStart = now
		result.Event.Type = EventSpeechMaxDuration
		result.Event.Duration = speechDuration
		result.ShouldTranscribe = true
	}

	return result
}

// Reset clears all state, including the audio clock.
func (v *VAD) Reset() {
	v.clock = 0
	v.inSpeech = false
	v.speechStart = 0
	v.lastSpeech = 0
	v.lastTranscribe = -v.transcribeDelay
}

// InSpeech returns true if currently in a speech segment.
func (v *VAD) InSpeech() bool {
	return v.inSpeech
}

// calculateRMS calculates the root mean square of audio samples.
func calculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

// meanLevel returns the mean absolute amplitude of samples.
func meanLevel(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return float32(sum / float64(len(samples)))
}
