package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
	"github.com/voicelab/voicegate/internal/config"
	"github.com/voicelab/voicegate/internal/turn"
)

const openAIRealtimeURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview"

// openAIDialectDriver implements the OpenAI realtime protocol. Grok
// speaks the same dialect on a different endpoint, so both vendors
// share this driver with different wiring.
//
// The vendor runs server-side VAD and reports speech boundaries, but
// occasionally fails to start a response on its own; the turn
// controller issues a debounced response.create as a backstop.
type openAIDialectDriver struct {
	baseDriver
	vendor  string
	url     string
	apiKey  string
	turnCfg config.TurnConfig

	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	turns   *turn.Controller

	seqMu sync.Mutex
	seq   int64

	disconnectOnce sync.Once
}

func newOpenAIDriver(deps Dependencies) repositories.Driver {
	return &openAIDialectDriver{
		baseDriver: newBaseDriver(deps.Logger.With(zap.String("driver", "openai"))),
		vendor:     "openai",
		url:        openAIRealtimeURL,
		apiKey:     deps.Credentials.OpenAIAPIKey,
		turnCfg:    deps.Turn,
	}
}

func openAICapability(creds config.ProviderCredentials) entities.Capability {
	return entities.Capability{
		ID:                   ModelOpenAIRealtime,
		Name:                 "GPT-4o Realtime",
		Provider:             "openai",
		Enabled:              creds.OpenAIAPIKey != "",
		SupportedSampleRates: []int{24000},
		SupportedEncodings:   []string{"pcm16"},
		DefaultSampleRate:    24000,
		DefaultEncoding:      "pcm16",
		Voices: []entities.Voice{
			{ID: "alloy", Name: "Alloy", Gender: "neutral", Style: "balanced"},
			{ID: "echo", Name: "Echo", Gender: "male", Style: "calm"},
			{ID: "shimmer", Name: "Shimmer", Gender: "female", Style: "bright"},
		},
		DefaultVoice:          "alloy",
		SupportsTranscription: true,
		SupportsInterruption:  true,
		MaxSessionDuration:    1800,
	}
}

func (d *openAIDialectDriver) Connect(ctx context.Context, cfg entities.SessionConfig) error {
	if !d.setStatus(entities.StatusConnecting) {
		return fmt.Errorf("%s driver already used", d.vendor)
	}

	apiKey := d.apiKey
	if cfg.APIKey != "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		d.setStatus(entities.StatusError)
		err := fmt.Errorf("%s api key is not configured", d.vendor)
		d.emitError(entities.CodeConfigMissing, err.Error())
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.url, header)
	if err != nil {
		d.setStatus(entities.StatusError)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		d.emitError(entities.CodeConnectFailed,
			fmt.Sprintf("vendor handshake rejected (http %d): %v", status, err))
		return fmt.Errorf("dial %s realtime: %w", d.vendor, err)
	}
	d.conn = conn

	if err := d.sendSessionUpdate(cfg); err != nil {
		conn.Close()
		d.setStatus(entities.StatusError)
		d.emitError(entities.CodeConnectFailed, fmt.Sprintf("session update failed: %v", err))
		return fmt.Errorf("%s session update: %w", d.vendor, err)
	}

	d.turns = turn.NewController(d.turnCfg.Debounce, d.turnCfg.MinChunksForTurn, d.requestResponse)

	loopCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.setStatus(entities.StatusConnected)
	go d.receiveLoop(loopCtx)

	d.logger.Info("realtime session established",
		zap.String("vendor", d.vendor),
		zap.String("voice", cfg.Voice.VoiceID))
	return nil
}

func (d *openAIDialectDriver) sendSessionUpdate(cfg entities.SessionConfig) error {
	return d.writeJSON(map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"voice":               cfg.Voice.VoiceID,
			"instructions":        cfg.SystemInstruction,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 500,
			},
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
		},
	})
}

// vendorEvent is the superset of fields this dialect's inbound events
// use; each event type reads only its own.
type vendorEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (d *openAIDialectDriver) receiveLoop(ctx context.Context) {
	for {
		_, raw, err := d.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("vendor read failed", zap.String("vendor", d.vendor), zap.Error(err))
			d.setStatus(entities.StatusError)
			d.emitError(entities.CodeUnexpectedClose, fmt.Sprintf("vendor stream closed: %v", err))
			return
		}

		var ev vendorEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			d.logger.Warn("unparseable vendor event dropped", zap.Error(err))
			continue
		}
		d.handleEvent(&ev)
	}
}

func (d *openAIDialectDriver) handleEvent(ev *vendorEvent) {
	switch ev.Type {
	case "response.created":
		d.turns.ResponseCreated()

	case "response.audio.delta", "response.output_audio.delta":
		if ev.Delta != "" {
			// Some vendors stream deltas without a response.created;
			// a delta is proof enough that a response is in flight.
			d.turns.ResponseCreated()
			d.emitAudio(ev.Delta, d.nextSeq(), false)
		}

	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		if ev.Delta != "" {
			d.turns.ResponseCreated()
			d.emitTranscript(entities.RoleModel, ev.Delta, false)
		}

	case "conversation.item.input_audio_transcription.completed":
		if ev.Transcript != "" {
			d.emitTranscript(entities.RoleUser, ev.Transcript, true)
		}

	case "input_audio_buffer.speech_started":
		d.turns.SpeechStarted()

	case "input_audio_buffer.speech_stopped":
		d.turns.SpeechStopped()

	case "response.done":
		// "done" without a response in flight carries no turn to
		// complete; mirroring it would fabricate one for the client.
		if d.turns.ResponseDone() {
			d.emitTurnComplete()
		}

	case "error":
		msg := "vendor reported an error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		d.emitError(entities.CodeProtocolError, msg)
	}
}

// requestResponse is the turn controller's trigger: ask the vendor to
// answer the turn it never answered on its own.
func (d *openAIDialectDriver) requestResponse() {
	if d.Status() != entities.StatusConnected {
		return
	}
	if err := d.writeJSON(map[string]any{"type": "response.create"}); err != nil {
		d.logger.Warn("response.create failed", zap.String("vendor", d.vendor), zap.Error(err))
	}
}

func (d *openAIDialectDriver) SendAudio(dataB64 string, sequence int64) error {
	if d.Status() != entities.StatusConnected {
		return nil
	}
	err := d.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": dataB64,
	})
	if err != nil {
		return fmt.Errorf("append audio chunk %d: %w", sequence, err)
	}
	d.turns.AudioSent()
	return nil
}

func (d *openAIDialectDriver) writeJSON(v any) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteJSON(v)
}

func (d *openAIDialectDriver) nextSeq() int64 {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	d.seq++
	return d.seq
}

func (d *openAIDialectDriver) Disconnect() error {
	d.disconnectOnce.Do(func() {
		if d.turns != nil {
			d.turns.Stop()
		}
		if d.cancel != nil {
			d.cancel()
		}
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
