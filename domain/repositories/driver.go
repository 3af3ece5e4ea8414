package repositories

import (
	"context"

	"github.com/voicelab/voicegate/domain/entities"
)

// AudioFrame is one chunk of synthesized audio from a vendor. DataB64 is
// base64 and, by the time the gateway forwards it, container-wrapped for
// client playback.
type AudioFrame struct {
	DataB64  string
	Sequence int64
	Final    bool
}

// Transcription is one transcript fragment from a vendor. Drivers report
// end of turn as a system-role fragment carrying
// entities.TurnCompleteSentinel; the gateway converts it at the boundary.
type Transcription struct {
	Role  entities.Role
	Text  string
	Final bool
}

// DriverError is a vendor or transport failure surfaced through the event
// stream. Code uses the shared gateway code space.
type DriverError struct {
	Code    int
	Message string
}

// DriverEvent is the tagged union drivers produce. Exactly one field is
// non-nil.
type DriverEvent struct {
	Audio      *AudioFrame
	Transcript *Transcription
	Err        *DriverError
}

// Driver owns one upstream vendor connection for one session. An instance
// is used by exactly one gateway session and discarded after Disconnect.
//
// Connect must leave the driver in StatusConnected or StatusError and
// reflect failures both in the returned error and the status. Disconnect is
// idempotent and cancels the receive loop and any pending timers before
// closing the transport. SendAudio is a no-op unless the driver is
// connected.
type Driver interface {
	Connect(ctx context.Context, cfg entities.SessionConfig) error
	Disconnect() error
	SendAudio(dataB64 string, sequence int64) error
	Status() entities.DriverStatus
	// Events never blocks the driver: production is fire-and-forget and the
	// channel closes after Disconnect.
	Events() <-chan DriverEvent
}
