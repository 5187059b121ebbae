package realtime

import "encoding/json"

// Server event types used for transcription sessions.
const (
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventSpeechStopped          = "input_audio_buffer.speech_stopped"
	EventBufferCommitted        = "input_audio_buffer.committed"
	EventError                  = "error"
)

// Client event types.
const (
	ClientBufferCommit  = "input_audio_buffer.commit"
	ClientSessionUpdate = "session.update"
)

// errCommitEmpty is the error code returned when a commit finds no audio.
const errCommitEmpty = "input_audio_buffer_commit_empty"

// VADType specifies the type of server side voice activity detection.
type VADType string

const (
	VADTypeSemanticVAD VADType = "semantic_vad"
	VADTypeServerVAD   VADType = "server_vad"
)

// VADEagerness controls how quickly semantic VAD ends a turn.
type VADEagerness string

const (
	VADEagernessLow    VADEagerness = "low"
	VADEagernessMedium VADEagerness = "medium"
	VADEagernessHigh   VADEagerness = "high"
	VADEagernessAuto   VADEagerness = "auto"
)

// TurnDetection configures voice activity detection.
type TurnDetection struct {
	Type      VADType      `json:"type"`
	Eagerness VADEagerness `json:"eagerness,omitempty"`
}

// SessionUpdate is a client event to update session configuration.
type SessionUpdate struct {
	Type    string `json:"type"`
	Session struct {
		TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
	} `json:"session"`
}

// BufferCommit asks the server to end the current turn.
type BufferCommit struct {
	Type string `json:"type"`
}

// Event is a server event. Check the concrete type via type switch.
type Event interface {
	eventType() string
}

// SpeechStartedEvent is emitted when server VAD detects speech.
type SpeechStartedEvent struct {
	EventID      string `json:"event_id"`
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

func (SpeechStartedEvent) eventType() string { return EventSpeechStarted }

// SpeechStoppedEvent is emitted when server VAD detects the end of speech.
type SpeechStoppedEvent struct {
	EventID    string `json:"event_id"`
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

func (SpeechStoppedEvent) eventType() string { return EventSpeechStopped }

// CommittedEvent is emitted when the input buffer becomes a conversation item.
type CommittedEvent struct {
	EventID        string `json:"event_id"`
	PreviousItemID string `json:"previous_item_id"`
	ItemID         string `json:"item_id"`
}

func (CommittedEvent) eventType() string { return EventBufferCommitted }

// TranscriptEvent carries the completed transcript of an item.
type TranscriptEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

func (TranscriptEvent) eventType() string { return EventTranscriptionCompleted }

// TranscriptDeltaEvent carries incremental transcript text of an item.
type TranscriptDeltaEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	ContentIdx int    `json:"content_index"`
	Delta      string `json:"delta"`
}

func (TranscriptDeltaEvent) eventType() string { return EventTranscriptionDelta }

// TranscriptFailedEvent is emitted when an item could not be transcribed.
type TranscriptFailedEvent struct {
	EventID string   `json:"event_id"`
	ItemID  string   `json:"item_id"`
	Error   APIError `json:"error"`
}

func (TranscriptFailedEvent) eventType() string { return EventTranscriptionFailed }

// APIError describes a server side failure.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// ErrorEvent is emitted when an API error occurs.
type ErrorEvent struct {
	EventID string   `json:"event_id"`
	Error   APIError `json:"error"`
}

func (ErrorEvent) eventType() string { return EventError }

// UnknownEvent holds events we don't handle.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// ParseEvent unmarshals JSON into the matching Event type.
func ParseEvent(data []byte) (Event, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}

	switch header.Type {
	case EventSpeechStarted:
		return decode[SpeechStartedEvent](data)
	case EventSpeechStopped:
		return decode[SpeechStoppedEvent](data)
	case EventBufferCommitted:
		return decode[CommittedEvent](data)
	case EventTranscriptionCompleted:
		return decode[TranscriptEvent](data)
	case EventTranscriptionDelta:
		return decode[TranscriptDeltaEvent](data)
	case EventTranscriptionFailed:
		return decode[TranscriptFailedEvent](data)
	case EventError:
		return decode[ErrorEvent](data)
	default:
		return UnknownEvent{Type: header.Type, Raw: data}, nil
	}
}

func decode[T Event](data []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}
