// Package gateway bridges the uniform client WebSocket protocol to one
// vendor driver per connection: capability negotiation, input guards,
// and bidirectional event translation.
package gateway

import (
	"encoding/json"
	"time"
)

// Client message types.
const (
	TypeSessionCreate = "session.create"
	TypeAudioInput    = "audio.input"
	TypePing          = "ping"
	TypeSessionEnd    = "session.end"
)

// Server message types.
const (
	TypeSessionCreated = "session.created"
	TypeAudioOutput    = "audio.output"
	TypeTranscription  = "transcription"
	TypeTurnComplete   = "turn.complete"
	TypeError          = "error"
	TypeWarning        = "warning"
	TypePong           = "pong"
)

// Envelope is the uniform wire frame in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SessionCreatePayload is the client's negotiation request.
type SessionCreatePayload struct {
	Audio struct {
		SampleRate int    `json:"sampleRate"`
		Encoding   string `json:"encoding"`
		Channels   int    `json:"channels"`
	} `json:"audio"`
	Voice struct {
		VoiceID  string `json:"voiceId"`
		Language string `json:"language"`
	} `json:"voice"`
	Session struct {
		SystemInstruction string `json:"systemInstruction"`
		MaxDuration       int    `json:"maxDuration"`
	} `json:"session"`
}

// SessionCreatedPayload reports the negotiated session parameters.
type SessionCreatedPayload struct {
	SessionID  string `json:"sessionId"`
	Negotiated struct {
		SampleRate int    `json:"sampleRate"`
		Encoding   string `json:"encoding"`
		VoiceID    string `json:"voiceId"`
	} `json:"negotiated"`
	Capabilities struct {
		Transcription bool `json:"transcription"`
		Interruption  bool `json:"interruption"`
	} `json:"capabilities"`
}

// AudioInputPayload carries one client microphone chunk.
type AudioInputPayload struct {
	Data     string `json:"data"`
	Sequence int64  `json:"sequence"`
}

// AudioOutputPayload carries one container-wrapped model audio chunk.
type AudioOutputPayload struct {
	Data     string `json:"data"`
	Sequence int64  `json:"sequence"`
	IsFinal  bool   `json:"isFinal"`
}

// TranscriptionPayload carries one transcript fragment.
type TranscriptionPayload struct {
	Role    string `json:"role"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// ErrorPayload carries a structured error or warning.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope builds an outbound envelope, marshaling the payload. A
// payload that cannot be marshaled yields an envelope without one;
// every payload type here is marshalable, so that path is theoretical.
func NewEnvelope(msgType string, payload any) Envelope {
	env := Envelope{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			env.Payload = raw
		}
	}
	return env
}
