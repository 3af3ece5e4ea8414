package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
	"github.com/voicelab/voicegate/internal/audio"
	"github.com/voicelab/voicegate/internal/config"
	"github.com/voicelab/voicegate/internal/metrics"
)

const (
	connectTimeout = 15 * time.Second
	persistTimeout = 5 * time.Second
)

// DriverRegistry is the session's view of the provider registry.
type DriverRegistry interface {
	NewDriver(modelID string) (repositories.Driver, entities.Capability, bool)
	Capabilities() []entities.Capability
}

// SessionDeps wires a Session to its collaborators. Send delivers one
// envelope to the client; Close closes the client socket with the
// given WebSocket close code. Both must be safe to call from multiple
// goroutines.
type SessionDeps struct {
	Logger   *zap.Logger
	Registry DriverRegistry
	Limits   config.LimitsConfig
	Outcomes repositories.SessionOutcomeRepository
	Send     func(Envelope)
	Close    func(code int, reason string)
}

// Session owns one client connection's protocol state: exactly one
// driver, the negotiated parameters, and the input guards. Messages
// are handled on the connection's read loop; driver events arrive on
// a separate pump goroutine.
type Session struct {
	ID             string
	modelID        string
	userID         string
	apiKeyOverride string

	logger   *zap.Logger
	registry DriverRegistry
	limits   config.LimitsConfig
	outcomes repositories.SessionOutcomeRepository
	send     func(Envelope)
	closeRaw func(code int, reason string)

	mu         sync.Mutex
	started    bool
	driver     repositories.Driver
	capability entities.Capability
	sampleRate int
	lastSeq    int64
	limiter    *chunkLimiter
	outcome    *entities.SessionOutcome
	maxTimer   *time.Timer

	teardownOnce sync.Once
}

// NewSession prepares the protocol state for one connection. The
// driver is not constructed until the client sends session.create.
func NewSession(modelID, userID, apiKeyOverride string, deps SessionDeps) *Session {
	return &Session{
		ID:             uuid.NewString(),
		modelID:        modelID,
		userID:         userID,
		apiKeyOverride: apiKeyOverride,
		logger:         deps.Logger.With(zap.String("model", modelID)),
		registry:       deps.Registry,
		limits:         deps.Limits,
		outcomes:       deps.Outcomes,
		send:           deps.Send,
		closeRaw:       deps.Close,
	}
}

// HandleMessage processes one raw client frame.
func (s *Session) HandleMessage(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.fatal(entities.CodeMalformedMessage, "malformed message envelope")
		return
	}

	switch env.Type {
	case TypeSessionCreate:
		s.handleSessionCreate(&env)
	case TypeAudioInput:
		s.handleAudioInput(&env)
	case TypePing:
		s.send(NewEnvelope(TypePong, nil))
	case TypeSessionEnd:
		s.logger.Info("session ended by client", zap.String("session_id", s.ID))
		s.Teardown()
		s.closeRaw(websocket.CloseNormalClosure, "session ended")
	default:
		s.logger.Warn("unknown message type ignored", zap.String("type", env.Type))
	}
}

func (s *Session) handleSessionCreate(env *Envelope) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.fatal(entities.CodeMalformedMessage, "session already created")
		return
	}
	s.mu.Unlock()

	var req SessionCreatePayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.fatal(entities.CodeMalformedMessage, "malformed session.create payload")
			return
		}
	}

	driver, capability, ok := s.registry.NewDriver(s.modelID)
	if !ok {
		s.fatal(entities.CodeConnectFailed, fmt.Sprintf("unknown model %q", s.modelID))
		return
	}
	if !capability.Enabled {
		driver.Disconnect()
		s.fatal(entities.CodeConfigMissing,
			fmt.Sprintf("model %q is not available: credentials missing", s.modelID))
		return
	}

	// Encoding is the one non-negotiable parameter: an unsupported
	// request is rejected rather than silently replaced.
	encoding := req.Audio.Encoding
	if encoding == "" {
		encoding = capability.DefaultEncoding
	}
	if !capability.SupportsEncoding(encoding) {
		driver.Disconnect()
		s.fatal(entities.CodeProtocolError,
			fmt.Sprintf("encoding %q is not supported by model %q", encoding, s.modelID))
		return
	}

	sampleRate := req.Audio.SampleRate
	if !capability.SupportsSampleRate(sampleRate) {
		sampleRate = capability.DefaultSampleRate
	}
	voiceID := req.Voice.VoiceID
	if !capability.HasVoice(voiceID) {
		voiceID = capability.DefaultVoice
	}
	maxDuration := req.Session.MaxDuration
	if maxDuration <= 0 || maxDuration > capability.MaxSessionDuration {
		maxDuration = capability.MaxSessionDuration
	}

	cfg := entities.SessionConfig{
		ModelID: s.modelID,
		Audio: entities.AudioConfig{
			SampleRate: sampleRate,
			Encoding:   encoding,
			Channels:   1,
		},
		Voice: entities.VoiceConfig{
			VoiceID:  voiceID,
			Language: req.Voice.Language,
		},
		SystemInstruction: req.Session.SystemInstruction,
		MaxDuration:       maxDuration,
		APIKey:            s.apiKeyOverride,
	}
	if err := cfg.Validate(); err != nil {
		driver.Disconnect()
		s.fatal(entities.CodeMalformedMessage, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := driver.Connect(ctx, cfg); err != nil {
		driver.Disconnect()
		s.fatal(entities.CodeConnectFailed, fmt.Sprintf("vendor connect failed: %v", err))
		return
	}
	if driver.Status() != entities.StatusConnected {
		driver.Disconnect()
		s.fatal(entities.CodeConnectFailed, "vendor connection did not become ready")
		return
	}

	s.mu.Lock()
	s.started = true
	s.driver = driver
	s.capability = capability
	s.sampleRate = sampleRate
	s.limiter = newChunkLimiter(s.limits)
	s.outcome = &entities.SessionOutcome{
		SessionID: s.ID,
		ModelID:   s.modelID,
		UserID:    s.userID,
		StartedAt: time.Now(),
	}
	s.maxTimer = time.AfterFunc(time.Duration(maxDuration)*time.Second, s.expire)
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.WithLabelValues(s.modelID).Inc()

	created := SessionCreatedPayload{SessionID: s.ID}
	created.Negotiated.SampleRate = sampleRate
	created.Negotiated.Encoding = encoding
	created.Negotiated.VoiceID = voiceID
	created.Capabilities.Transcription = capability.SupportsTranscription
	created.Capabilities.Interruption = capability.SupportsInterruption

	env2 := NewEnvelope(TypeSessionCreated, created)
	env2.RequestID = env.RequestID
	s.send(env2)

	go s.pumpDriverEvents(driver.Events())

	s.logger.Info("session established",
		zap.String("session_id", s.ID),
		zap.Int("sample_rate", sampleRate),
		zap.String("voice", voiceID))
}

func (s *Session) handleAudioInput(env *Envelope) {
	s.mu.Lock()
	started := s.started
	driver := s.driver
	limiter := s.limiter
	s.mu.Unlock()

	if !started {
		s.logger.Warn("audio before session.create dropped")
		return
	}

	var chunk AudioInputPayload
	if err := json.Unmarshal(env.Payload, &chunk); err != nil {
		s.fatal(entities.CodeMalformedMessage, "malformed audio.input payload")
		return
	}

	// Guard order matters: size, then ordering, then rate.
	if len(chunk.Data) > s.limits.MaxChunkBytes {
		metrics.AudioChunksDropped.WithLabelValues(metrics.DropOversized).Inc()
		s.send(NewEnvelope(TypeError, ErrorPayload{
			Code:    entities.CodeProtocolError,
			Message: fmt.Sprintf("audio chunk exceeds %d bytes", s.limits.MaxChunkBytes),
		}))
		return
	}

	s.mu.Lock()
	inOrder := chunk.Sequence > s.lastSeq
	if inOrder {
		s.lastSeq = chunk.Sequence
	}
	s.mu.Unlock()
	if !inOrder {
		// Duplicates and regressions are stale by definition.
		metrics.AudioChunksDropped.WithLabelValues(metrics.DropOutOfOrder).Inc()
		return
	}

	switch limiter.Observe() {
	case limitWarn:
		metrics.AudioChunksDropped.WithLabelValues(metrics.DropRateLimited).Inc()
		s.send(NewEnvelope(TypeWarning, ErrorPayload{
			Code:    entities.CodeRateLimited,
			Message: "audio chunk rate exceeds limit, chunks are being dropped",
		}))
		return
	case limitDrop:
		metrics.AudioChunksDropped.WithLabelValues(metrics.DropRateLimited).Inc()
		return
	case limitClose:
		metrics.AudioChunksDropped.WithLabelValues(metrics.DropRateLimited).Inc()
		metrics.RateLimitCloses.Inc()
		s.fatal(entities.CodeRateLimited, "sustained audio chunk flood, closing connection")
		return
	}

	if err := driver.SendAudio(chunk.Data, chunk.Sequence); err != nil {
		s.logger.Warn("driver rejected audio chunk",
			zap.Int64("sequence", chunk.Sequence), zap.Error(err))
		return
	}
	metrics.AudioChunksForwarded.WithLabelValues(s.modelID).Inc()
}

// pumpDriverEvents translates driver events into client envelopes
// until the driver closes its stream.
func (s *Session) pumpDriverEvents(events <-chan repositories.DriverEvent) {
	for ev := range events {
		switch {
		case ev.Audio != nil:
			s.forwardAudio(ev.Audio)
		case ev.Transcript != nil:
			s.forwardTranscript(ev.Transcript)
		case ev.Err != nil:
			metrics.DriverErrors.WithLabelValues(s.modelID, strconv.Itoa(ev.Err.Code)).Inc()
			s.fatal(ev.Err.Code, ev.Err.Message)
		}
	}
}

// forwardAudio wraps raw vendor PCM in a playback container before it
// reaches the client.
func (s *Session) forwardAudio(frame *repositories.AudioFrame) {
	pcm, err := base64.StdEncoding.DecodeString(frame.DataB64)
	if err != nil {
		s.logger.Warn("undecodable vendor audio dropped", zap.Error(err))
		return
	}
	wav := audio.WrapPCM(pcm, s.sampleRate)
	s.send(NewEnvelope(TypeAudioOutput, AudioOutputPayload{
		Data:     base64.StdEncoding.EncodeToString(wav),
		Sequence: frame.Sequence,
		IsFinal:  frame.Final,
	}))
}

func (s *Session) forwardTranscript(tr *repositories.Transcription) {
	// The sentinel marks end of turn; it must never surface as text.
	if tr.Role == entities.RoleSystem && tr.Text == entities.TurnCompleteSentinel {
		s.send(NewEnvelope(TypeTurnComplete, nil))
		return
	}

	s.send(NewEnvelope(TypeTranscription, TranscriptionPayload{
		Role:    string(tr.Role),
		Text:    tr.Text,
		IsFinal: tr.Final,
	}))

	if tr.Final && tr.Role != entities.RoleSystem {
		s.mu.Lock()
		if s.outcome != nil {
			s.outcome.AddMessage(tr.Role, tr.Text)
		}
		s.mu.Unlock()
	}
}

// fatal reports a structured error and closes the connection with the
// close code the error class maps to.
func (s *Session) fatal(code int, message string) {
	s.logger.Warn("session terminated",
		zap.String("session_id", s.ID),
		zap.Int("code", code),
		zap.String("reason", message))
	s.send(NewEnvelope(TypeError, ErrorPayload{Code: code, Message: message}))
	s.Teardown()
	s.closeRaw(closeCodeFor(code), message)
}

// expire ends a session that reached its maximum duration.
func (s *Session) expire() {
	s.logger.Info("session reached maximum duration", zap.String("session_id", s.ID))
	s.Teardown()
	s.closeRaw(websocket.CloseNormalClosure, "maximum session duration reached")
}

// Teardown releases the driver and persists the outcome. Idempotent;
// called from the read loop, the event pump, and the transport close
// path alike.
func (s *Session) Teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		driver := s.driver
		outcome := s.outcome
		started := s.started
		if s.maxTimer != nil {
			s.maxTimer.Stop()
		}
		s.mu.Unlock()

		if driver != nil {
			if err := driver.Disconnect(); err != nil {
				s.logger.Warn("driver disconnect failed", zap.Error(err))
			}
		}
		if started {
			metrics.SessionsActive.Dec()
		}
		if outcome != nil {
			outcome.Finish()
			s.persistOutcome(outcome)
		}
	})
}

func (s *Session) persistOutcome(outcome *entities.SessionOutcome) {
	if s.outcomes == nil {
		s.logger.Info("session outcome discarded, no store configured",
			zap.String("session_id", outcome.SessionID),
			zap.Int64("duration_ms", outcome.DurationMs),
			zap.Int("messages", len(outcome.Messages)))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.outcomes.Save(ctx, outcome); err != nil {
		s.logger.Error("failed to persist session outcome",
			zap.String("session_id", outcome.SessionID), zap.Error(err))
	}
}
