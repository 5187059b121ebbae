// Package types provides shared type definitions for the application.
package types

// CaptionStatus is a point-in-time view of a live caption session.
type CaptionStatus struct {
	Active          bool   `json:"active"`
	Source          string `json:"source"`          // Audio source description
	Recognizer      string `json:"recognizer"`      // Recognizer display name
	Duration        int64  `json:"duration"`        // Running duration in seconds
	LineCount       int    `json:"lineCount"`       // Completed subtitle lines
	FramesForwarded int64  `json:"framesForwarded"` // Frames handed to the recognizer
	FramesDropped   int64  `json:"framesDropped"`   // Frames dropped on a full queue
	LastPartial     string `json:"lastPartial,omitempty"`
}

// LiveText is one caption update as written by the CLI in JSON mode.
type LiveText struct {
	Kind      string `json:"kind"` // "partial", "line" or "status"
	Text      string `json:"text"`
	Index     int    `json:"index,omitempty"`
	Start     int64  `json:"start,omitempty"` // Milliseconds since session start
	End       int64  `json:"end,omitempty"`
	Timestamp int64  `json:"timestamp"` // Unix timestamp in milliseconds
}

// ProviderInfo describes a transcription provider.
type ProviderInfo struct {
	Name        string `json:"name"`        // Provider identifier
	DisplayName string `json:"displayName"` // Human-readable name
	IsLocal     bool   `json:"isLocal"`     // Whether it runs locally
	Streaming   bool   `json:"streaming"`   // Whether it streams partial results
	IsReady     bool   `json:"isReady"`     // Whether credentials or models are present
}
