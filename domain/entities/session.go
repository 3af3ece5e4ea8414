package entities

import (
	"errors"
	"time"
)

// Role identifies the speaker of a transcript line.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// TurnCompleteSentinel is the system transcript text drivers emit when a
// vendor signals end of turn. The gateway converts it into a dedicated
// turn.complete message; it must never reach the client as transcript text.
const TurnCompleteSentinel = "TURN_COMPLETE"

// AudioConfig is the negotiated audio shape for one session.
type AudioConfig struct {
	SampleRate int    `json:"sampleRate"`
	Encoding   string `json:"encoding"`
	Channels   int    `json:"channels"`
}

// VoiceConfig selects the synthesized voice for one session.
type VoiceConfig struct {
	VoiceID  string `json:"voiceId"`
	Language string `json:"language"`
}

// SessionConfig carries everything a driver needs to establish one vendor
// session. Constructed once during negotiation and read-only afterward.
type SessionConfig struct {
	ModelID           string
	Audio             AudioConfig
	Voice             VoiceConfig
	SystemInstruction string
	// MaxDuration is in seconds.
	MaxDuration int
	// APIKey is an optional caller-supplied credential override. Empty means
	// the server-configured credential is used.
	APIKey string
}

// Validate checks the fields a driver depends on.
func (c SessionConfig) Validate() error {
	if c.ModelID == "" {
		return errors.New("model id is required")
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("sample rate must be positive")
	}
	if c.Audio.Encoding == "" {
		return errors.New("encoding is required")
	}
	return nil
}

// TranscriptMessage is one finalized line of the session transcript.
type TranscriptMessage struct {
	Role      Role      `json:"role" bson:"role"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// SessionOutcome is the final record handed to the persistence collaborator
// when a session ends. The gateway produces it exactly once per session.
type SessionOutcome struct {
	SessionID  string              `json:"session_id" bson:"session_id"`
	ModelID    string              `json:"model_id" bson:"model_id"`
	UserID     string              `json:"user_id,omitempty" bson:"user_id,omitempty"`
	StartedAt  time.Time           `json:"started_at" bson:"started_at"`
	EndedAt    time.Time           `json:"ended_at" bson:"ended_at"`
	DurationMs int64               `json:"duration_ms" bson:"duration_ms"`
	Messages   []TranscriptMessage `json:"messages" bson:"messages"`
}

// AddMessage appends a finalized transcript line.
func (o *SessionOutcome) AddMessage(role Role, text string) {
	o.Messages = append(o.Messages, TranscriptMessage{
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// Finish stamps the end time and duration.
func (o *SessionOutcome) Finish() {
	o.EndedAt = time.Now()
	o.DurationMs = o.EndedAt.Sub(o.StartedAt).Milliseconds()
}
