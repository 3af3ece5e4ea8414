package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
	"github.com/voicelab/voicegate/internal/audio"
	"github.com/voicelab/voicegate/internal/config"
)

const tongyiRealtimeURL = "wss://dashscope.aliyuncs.com/api-ws/v1/realtime?model=qwen-omni-turbo-realtime"

// tongyiDriver speaks the DashScope realtime protocol. The vendor
// never reports speech boundaries or input transcripts, so the driver
// runs local energy VAD on the outbound PCM to decide when to commit
// the buffer and request a response, and feeds the same PCM to an
// external transcriber for user-side transcripts. A fixed-delay
// backstop covers the case where the VAD never crosses threshold at
// all.
type tongyiDriver struct {
	baseDriver
	url         string
	apiKey      string
	turnCfg     config.TurnConfig
	transcriber repositories.FallbackTranscriber

	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc

	vadMu    sync.Mutex
	vad      *audio.EnergyVAD
	stream   repositories.TranscriptStream
	audioCfg entities.AudioConfig

	fallbackMu    sync.Mutex
	fallbackDelay time.Duration
	fallbackGen   uint64
	fallbackTimer *time.Timer
	speechSeen    bool

	seqMu sync.Mutex
	seq   int64

	disconnectOnce sync.Once
}

func newTongyiDriver(deps Dependencies) repositories.Driver {
	return &tongyiDriver{
		baseDriver:  newBaseDriver(deps.Logger.With(zap.String("driver", "tongyi"))),
		url:         tongyiRealtimeURL,
		apiKey:      deps.Credentials.DashScopeAPIKey,
		turnCfg:     deps.Turn,
		transcriber: deps.Transcriber,
	}
}

func tongyiCapability(creds config.ProviderCredentials) entities.Capability {
	return entities.Capability{
		ID:                   ModelTongyiRealtime,
		Name:                 "Tongyi Qwen Omni Realtime",
		Provider:             "alibaba",
		Enabled:              creds.DashScopeAPIKey != "",
		SupportedSampleRates: []int{16000},
		SupportedEncodings:   []string{"pcm16"},
		DefaultSampleRate:    16000,
		DefaultEncoding:      "pcm16",
		Voices: []entities.Voice{
			{ID: "Cherry", Name: "Cherry", Gender: "female", Style: "friendly"},
			{ID: "Serena", Name: "Serena", Gender: "female", Style: "soft"},
			{ID: "Ethan", Name: "Ethan", Gender: "male", Style: "steady"},
			{ID: "Chelsie", Name: "Chelsie", Gender: "female", Style: "lively"},
		},
		DefaultVoice: "Cherry",
		// Input transcription comes from the external transcriber, not
		// the vendor, so the capability stays false.
		SupportsTranscription: false,
		SupportsInterruption:  false,
		MaxSessionDuration:    1800,
	}
}

func (d *tongyiDriver) Connect(ctx context.Context, cfg entities.SessionConfig) error {
	if !d.setStatus(entities.StatusConnecting) {
		return fmt.Errorf("tongyi driver already used")
	}

	apiKey := d.apiKey
	if cfg.APIKey != "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		d.setStatus(entities.StatusError)
		err := fmt.Errorf("dashscope api key is not configured")
		d.emitError(entities.CodeConfigMissing, err.Error())
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.url, header)
	if err != nil {
		d.setStatus(entities.StatusError)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		d.emitError(entities.CodeConnectFailed,
			fmt.Sprintf("vendor handshake rejected (http %d): %v", status, err))
		return fmt.Errorf("dial tongyi realtime: %w", err)
	}
	d.conn = conn

	update := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"voice":               cfg.Voice.VoiceID,
			"instructions":        cfg.SystemInstruction,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
		},
	}
	if err := d.writeJSON(update); err != nil {
		conn.Close()
		d.setStatus(entities.StatusError)
		d.emitError(entities.CodeConnectFailed, fmt.Sprintf("session update failed: %v", err))
		return fmt.Errorf("tongyi session update: %w", err)
	}

	d.vad = audio.NewEnergyVAD(d.turnCfg.VADThreshold, d.turnCfg.SilenceWindow)
	d.audioCfg = cfg.Audio
	// The backstop waits out the VAD's own window plus the debounce
	// before concluding the detector will never fire.
	d.fallbackDelay = d.turnCfg.SilenceWindow + d.turnCfg.Debounce

	loopCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.setStatus(entities.StatusConnected)
	go d.receiveLoop(loopCtx)

	d.logger.Info("tongyi realtime session established", zap.String("voice", cfg.Voice.VoiceID))
	return nil
}

func (d *tongyiDriver) receiveLoop(ctx context.Context) {
	for {
		_, raw, err := d.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("tongyi read failed", zap.Error(err))
			d.setStatus(entities.StatusError)
			d.emitError(entities.CodeUnexpectedClose, fmt.Sprintf("vendor stream closed: %v", err))
			return
		}

		var ev struct {
			Type  string `json:"type"`
			Delta string `json:"delta"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			d.logger.Warn("unparseable vendor event dropped", zap.Error(err))
			continue
		}

		switch ev.Type {
		case "response.audio.delta":
			if ev.Delta != "" {
				d.emitAudio(ev.Delta, d.nextSeq(), false)
			}
		case "response.audio_transcript.delta":
			if ev.Delta != "" {
				d.emitTranscript(entities.RoleModel, ev.Delta, false)
			}
		case "response.done":
			d.emitTurnComplete()
		case "error":
			msg := "vendor reported an error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			d.emitError(entities.CodeProtocolError, msg)
		}
	}
}

func (d *tongyiDriver) SendAudio(dataB64 string, sequence int64) error {
	if d.Status() != entities.StatusConnected {
		return nil
	}
	pcm, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return fmt.Errorf("decode audio chunk %d: %w", sequence, err)
	}

	err = d.writeJSON(map[string]any{
		"type": "input_audio_buffer.append",
		"data": map[string]any{"audio": dataB64},
	})
	if err != nil {
		return fmt.Errorf("append audio chunk %d: %w", sequence, err)
	}

	d.processVAD(pcm)
	d.armFallback()
	return nil
}

// processVAD runs local speech detection over the outbound PCM. Speech
// end commits the vendor buffer and requests a response; the same
// utterance is transcribed out of band when a transcriber is wired.
func (d *tongyiDriver) processVAD(pcm []byte) {
	d.vadMu.Lock()
	defer d.vadMu.Unlock()

	switch d.vad.Feed(pcm) {
	case audio.VADSpeechStart:
		d.noteSpeech()
		d.startTranscriptLocked()
		d.pushTranscriptLocked(pcm)

	case audio.VADSpeechEnd:
		d.finishTranscriptLocked()
		d.commitAndRespond()

	default:
		if d.vad.Speaking() {
			d.pushTranscriptLocked(pcm)
		}
	}
}

// commitAndRespond closes out the user's buffered audio and asks the
// vendor to answer it.
func (d *tongyiDriver) commitAndRespond() {
	if d.Status() != entities.StatusConnected {
		return
	}
	if err := d.writeJSON(map[string]any{"type": "input_audio_buffer.commit"}); err != nil {
		d.logger.Warn("buffer commit failed", zap.Error(err))
		return
	}
	if err := d.writeJSON(map[string]any{"type": "response.create"}); err != nil {
		d.logger.Warn("response.create failed", zap.Error(err))
	}
}

// armFallback schedules the no-detection backstop. When the VAD never
// crosses threshold (quiet microphone, low input gain), the buffered
// audio is still committed a fixed delay after it started flowing, so
// a session cannot hang waiting for speech the detector will never
// see. Re-arms per quiet period; real speech disables it for good.
func (d *tongyiDriver) armFallback() {
	d.fallbackMu.Lock()
	defer d.fallbackMu.Unlock()
	if d.speechSeen || d.fallbackTimer != nil {
		return
	}
	gen := d.fallbackGen
	d.fallbackTimer = time.AfterFunc(d.fallbackDelay, func() {
		d.fallbackMu.Lock()
		stale := gen != d.fallbackGen || d.speechSeen
		d.fallbackTimer = nil
		d.fallbackMu.Unlock()
		if stale {
			return
		}
		d.logger.Info("no speech detected, committing buffer on fallback timer")
		d.commitAndRespond()
	})
}

// noteSpeech hands the commit cycle over to the VAD permanently.
func (d *tongyiDriver) noteSpeech() {
	d.fallbackMu.Lock()
	defer d.fallbackMu.Unlock()
	d.speechSeen = true
	d.stopFallbackLocked()
}

func (d *tongyiDriver) stopFallbackLocked() {
	d.fallbackGen++
	if d.fallbackTimer != nil {
		d.fallbackTimer.Stop()
		d.fallbackTimer = nil
	}
}

func (d *tongyiDriver) startTranscriptLocked() {
	if d.transcriber == nil || d.stream != nil {
		return
	}
	stream, err := d.transcriber.Start(context.Background(), d.audioCfg)
	if err != nil {
		d.logger.Warn("fallback transcriber unavailable", zap.Error(err))
		return
	}
	d.stream = stream
}

func (d *tongyiDriver) pushTranscriptLocked(pcm []byte) {
	if d.stream == nil {
		return
	}
	if err := d.stream.Push(pcm); err != nil {
		d.logger.Warn("transcript push failed", zap.Error(err))
		d.stream = nil
	}
}

func (d *tongyiDriver) finishTranscriptLocked() {
	if d.stream == nil {
		return
	}
	stream := d.stream
	d.stream = nil
	go func() {
		text, err := stream.End()
		if err != nil {
			d.logger.Warn("transcript finalize failed", zap.Error(err))
			return
		}
		if text != "" {
			d.emitTranscript(entities.RoleUser, text, true)
		}
	}()
}

func (d *tongyiDriver) writeJSON(v any) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteJSON(v)
}

func (d *tongyiDriver) nextSeq() int64 {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	d.seq++
	return d.seq
}

func (d *tongyiDriver) Disconnect() error {
	d.disconnectOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		d.fallbackMu.Lock()
		d.stopFallbackLocked()
		d.fallbackMu.Unlock()
		d.vadMu.Lock()
		if d.stream != nil {
			d.stream.End()
			d.stream = nil
		}
		d.vadMu.Unlock()
		if d.conn != nil {
			d.writeMu.Lock()
			d.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			d.writeMu.Unlock()
			d.conn.Close()
		}
		d.setStatus(entities.StatusDisconnected)
		d.closeEvents()
	})
	return nil
}
