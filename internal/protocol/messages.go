package protocol

import "time"

// AudioFrame is one block of PCM16 samples streamed from the capture pipeline.
// Language, online, and mode are stamped at capture time so a selection change
// mid-utterance never retags frames already on the wire.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Language   string `json:"language"`
	Online     bool   `json:"online"`
	Mode       string `json:"mode"`
	Final      bool   `json:"final"`
}

// Transcript is recognizer output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// RecognitionError reports a recognizer stream failure for a session.
type RecognitionError struct {
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CapabilityAnnouncement describes the runtime environment. It is pushed
// periodically; consumers treat the latest message as authoritative.
type CapabilityAnnouncement struct {
	Online             bool      `json:"online"`
	Platform           string    `json:"platform"`
	SupportedLanguages []string  `json:"supported_languages"`
	Timestamp          time.Time `json:"timestamp"`
}

// ButtonPress is a hardware button event from the GPIO front end.
type ButtonPress struct {
	Button    string    `json:"button"`
	Timestamp time.Time `json:"timestamp"`
}

// MotionEvent signals the PIR sensor detected presence.
type MotionEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Platform values carried in capability announcements.
const (
	PlatformGeneric = "generic"
	PlatformKiosk   = "kiosk"
)

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectRecognitionError  = "stt.error"
	SubjectCapability        = "ctrl.capability.announce"
	SubjectButtonPress       = "ctrl.input.button"
	SubjectMotion            = "ctrl.input.motion"
)
