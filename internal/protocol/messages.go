package protocol

import "time"

// ControlRequest is the body of a control-surface request. Empty bodies are
// accepted and treated as the zero value.
type ControlRequest struct {
	// Source names the caller, e.g. a hotkey daemon or the CLI.
	Source string `json:"source,omitempty"`
	// Limit bounds history replies.
	Limit int `json:"limit,omitempty"`
}

// ControlReply answers every control-surface request. Error carries the
// failure text when OK is false.
type ControlReply struct {
	OK        bool             `json:"ok"`
	Text      string           `json:"text,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Status    *SessionStatus   `json:"status,omitempty"`
	Devices   []Device         `json:"devices,omitempty"`
	Sessions  []SessionSummary `json:"sessions,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// SessionStatus is the coordinator state as seen by clients.
type SessionStatus struct {
	Recording     bool   `json:"recording"`
	Phase         string `json:"phase"`
	SessionID     string `json:"session_id,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	DroppedBlocks uint64 `json:"dropped_blocks"`
}

// Device describes an audio input device.
type Device struct {
	Name       string `json:"name"`
	Default    bool   `json:"default"`
	SampleRate uint32 `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// SessionSummary is one row of recorded session history.
type SessionSummary struct {
	SessionID string     `json:"session_id"`
	Outcome   string     `json:"outcome"`
	Source    string     `json:"source,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Text      string     `json:"text,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Transcript is published once per completed session.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is published on every coordinator transition.
type SessionState struct {
	SessionID string    `json:"session_id,omitempty"`
	Recording bool      `json:"recording"`
	Phase     string    `json:"phase"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	DefaultControlPrefix   = "dictation.session"
	SubjectTranscriptFinal = "dictation.transcript.final"
	SubjectSessionState    = "dictation.session.state"

	OpBegin   = "begin"
	OpEnd     = "end"
	OpPing    = "ping"
	OpStatus  = "status"
	OpDevices = "devices"
	OpHistory = "history"
)

// ControlSubject joins a prefix and an operation.
func ControlSubject(prefix, op string) string {
	if prefix == "" {
		prefix = DefaultControlPrefix
	}
	return prefix + "." + op
}
