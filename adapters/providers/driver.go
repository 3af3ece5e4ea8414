// Package providers contains the per-vendor realtime voice drivers.
// Every driver owns one upstream WebSocket connection for exactly one
// session and reports status and events through the shared contract in
// domain/repositories.
package providers

import (
	"sync"

	"go.uber.org/zap"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
)

const eventBufferSize = 256

// baseDriver carries the state machine and event channel every vendor
// driver shares. Concrete drivers embed it and push through the emit
// helpers; consumers read Events until it closes.
type baseDriver struct {
	logger *zap.Logger

	mu     sync.Mutex
	status entities.DriverStatus
	events chan repositories.DriverEvent
	closed bool
}

func newBaseDriver(logger *zap.Logger) baseDriver {
	return baseDriver{
		logger: logger,
		status: entities.StatusDisconnected,
		events: make(chan repositories.DriverEvent, eventBufferSize),
	}
}

// Status returns the current connection state.
func (b *baseDriver) Status() entities.DriverStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Events returns the driver's outbound event stream. The channel is
// closed after Disconnect; no events follow the close.
func (b *baseDriver) Events() <-chan repositories.DriverEvent {
	return b.events
}

// setStatus applies a state transition, refusing illegal ones.
func (b *baseDriver) setStatus(next entities.DriverStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.status.CanTransition(next) {
		b.logger.Warn("illegal driver state transition refused",
			zap.String("from", string(b.status)),
			zap.String("to", string(next)))
		return false
	}
	b.status = next
	return true
}

// emit delivers one event without blocking the vendor receive loop. A
// full buffer means the consumer stalled; the event is dropped.
func (b *baseDriver) emit(ev repositories.DriverEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		b.logger.Warn("driver event buffer full, dropping event")
	}
}

func (b *baseDriver) emitAudio(dataB64 string, sequence int64, final bool) {
	b.emit(repositories.DriverEvent{Audio: &repositories.AudioFrame{
		DataB64:  dataB64,
		Sequence: sequence,
		Final:    final,
	}})
}

func (b *baseDriver) emitTranscript(role entities.Role, text string, final bool) {
	b.emit(repositories.DriverEvent{Transcript: &repositories.Transcription{
		Role:  role,
		Text:  text,
		Final: final,
	}})
}

// emitTurnComplete signals end of a model turn via the internal
// sentinel transcript, which the gateway converts before the client
// ever sees it.
func (b *baseDriver) emitTurnComplete() {
	b.emitTranscript(entities.RoleSystem, entities.TurnCompleteSentinel, true)
}

func (b *baseDriver) emitError(code int, message string) {
	b.emit(repositories.DriverEvent{Err: &repositories.DriverError{
		Code:    code,
		Message: message,
	}})
}

// closeEvents shuts the event stream exactly once.
func (b *baseDriver) closeEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.events)
}
