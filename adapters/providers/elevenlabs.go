package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
	"github.com/voicelab/voicegate/internal/config"
)

const elevenLabsConvaiURL = "wss://api.elevenlabs.io/v1/convai/conversation?agent_id=%s"

// elevenLabsDriver speaks the ElevenLabs conversational-AI protocol.
// The agent responds autonomously and never signals turn completion,
// so the driver synthesizes one after the agent's audio stream has
// been quiet for a debounce interval.
type elevenLabsDriver struct {
	baseDriver
	apiKey   string
	agentID  string
	debounce time.Duration

	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc

	turnMu    sync.Mutex
	turnGen   uint64
	turnTimer *time.Timer

	seqMu sync.Mutex
	seq   int64

	disconnectOnce sync.Once
}

func newElevenLabsDriver(deps Dependencies) repositories.Driver {
	return &elevenLabsDriver{
		baseDriver: newBaseDriver(deps.Logger.With(zap.String("driver", "elevenlabs"))),
		apiKey:     deps.Credentials.ElevenLabsAPIKey,
		agentID:    deps.Credentials.ElevenLabsAgentID,
		debounce:   deps.Turn.Debounce,
	}
}

func elevenLabsCapability(creds config.ProviderCredentials) entities.Capability {
	return entities.Capability{
		ID:                   ModelElevenLabsRealtime,
		Name:                 "ElevenLabs Conversational Agent",
		Provider:             "elevenlabs",
		Enabled:              creds.ElevenLabsAPIKey != "" && creds.ElevenLabsAgentID != "",
		SupportedSampleRates: []int{16000},
		SupportedEncodings:   []string{"pcm16"},
		DefaultSampleRate:    16000,
		DefaultEncoding:      "pcm16",
		// Voice selection is bound to the agent configuration upstream;
		// the catalog exposes only the agent's voice.
		Voices: []entities.Voice{
			{ID: "agent", Name: "Agent Voice", Gender: "neutral", Style: "configured"},
		},
		DefaultVoice:          "agent",
		SupportsTranscription: true,
		SupportsInterruption:  true,
		MaxSessionDuration:    1800,
	}
}

func (d *elevenLabsDriver) Connect(ctx context.Context, cfg entities.SessionConfig) error {
	if !d.setStatus(entities.StatusConnecting) {
		return fmt.Errorf("elevenlabs driver already used")
	}

	apiKey := d.apiKey
	if cfg.APIKey != "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" || d.agentID == "" {
		d.setStatus(entities.StatusError)
		err := fmt.Errorf("elevenlabs credentials are not configured")
		d.emitError(entities.CodeConfigMissing, err.Error())
		return err
	}

	header := http.Header{}
	header.Set("xi-api-key", apiKey)

	url := fmt.Sprintf(elevenLabsConvaiURL, d.agentID)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		d.setStatus(entities.StatusError)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		d.emitError(entities.CodeConnectFailed,
			fmt.Sprintf("vendor handshake rejected (http %d): %v", status, err))
		return fmt.Errorf("dial elevenlabs convai: %w", err)
	}
	d.conn = conn

	init := map[string]any{
		"type": "conversation_initiation_client_data",
	}
	if cfg.SystemInstruction != "" {
		init["conversation_config_override"] = map[string]any{
			"agent": map[string]any{
				"prompt": map[string]any{"prompt": cfg.SystemInstruction},
			},
		}
	}
	if err := d.writeJSON(init); err != nil {
		conn.Close()
		d.setStatus(entities.StatusError)
		d.emitError(entities.CodeConnectFailed, fmt.Sprintf("conversation init failed: %v", err))
		return fmt.Errorf("elevenlabs conversation init: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.setStatus(entities.StatusConnected)
	go d.receiveLoop(loopCtx)

	d.logger.Info("elevenlabs conversation established", zap.String("agent_id", d.agentID))
	return nil
}

func (d *elevenLabsDriver) receiveLoop(ctx context.Context) {
	for {
		_, raw, err := d.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("elevenlabs read failed", zap.Error(err))
			d.setStatus(entities.StatusError)
			d.emitError(entities.CodeUnexpectedClose, fmt.Sprintf("vendor stream closed: %v", err))
			return
		}

		var ev elevenLabsEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			d.logger.Warn("unparseable vendor event dropped", zap.Error(err))
			continue
		}
		d.handleEvent(&ev)
	}
}

// elevenLabsEvent mirrors the convai server envelope: the payload for
// each event type sits under a type-specific nested key. Note the
// asymmetry the vendor ships: the event type is "user_transcript" but
// its payload key is "user_transcription_event".
type elevenLabsEvent struct {
	Type       string `json:"type"`
	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event"`
	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event"`
	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event"`
	PingEvent *struct {
		EventID int `json:"event_id"`
	} `json:"ping_event"`
}

func (d *elevenLabsDriver) handleEvent(ev *elevenLabsEvent) {
	switch ev.Type {
	case "audio":
		if ev.AudioEvent != nil && ev.AudioEvent.AudioBase64 != "" {
			d.emitAudio(ev.AudioEvent.AudioBase64, d.nextSeq(), false)
			d.armTurnComplete()
		}
	case "agent_response":
		if ev.AgentResponseEvent != nil && ev.AgentResponseEvent.AgentResponse != "" {
			d.emitTranscript(entities.RoleModel, ev.AgentResponseEvent.AgentResponse, true)
		}
	case "user_transcript":
		if ev.UserTranscriptionEvent != nil && ev.UserTranscriptionEvent.UserTranscript != "" {
			d.emitTranscript(entities.RoleUser, ev.UserTranscriptionEvent.UserTranscript, true)
		}
	case "interruption":
		d.disarmTurnComplete()
	case "ping":
		pong := map[string]any{"type": "pong"}
		if ev.PingEvent != nil {
			pong["event_id"] = ev.PingEvent.EventID
		}
		if err := d.writeJSON(pong); err != nil {
			d.logger.Warn("pong failed", zap.Error(err))
		}
	}
}

// armTurnComplete restarts the quiet timer. When no agent audio
// arrives for a debounce interval, the turn is considered complete.
func (d *elevenLabsDriver) armTurnComplete() {
	d.turnMu.Lock()
	defer d.turnMu.Unlock()
	d.turnGen++
	gen := d.turnGen
	if d.turnTimer != nil {
		d.turnTimer.Stop()
	}
	d.turnTimer = time.AfterFunc(d.debounce, func() {
		d.turnMu.Lock()
		stale := gen != d.turnGen
		d.turnMu.Unlock()
		if !stale {
			d.emitTurnComplete()
		}
	})
}

func (d *elevenLabsDriver) disarmTurnComplete() {
	d.turnMu.Lock()
	defer d.turnMu.Unlock()
	d.turnGen++
	if d.turnTimer != nil {
		d.turnTimer.Stop()
		d.turnTimer = nil
	}
}

func (d *elevenLabsDriver) SendAudio(dataB64 string, sequence int64) error {
	if d.Status() != entities.StatusConnected {
		return nil
	}
	err := d.writeJSON(map[string]any{"user_audio_chunk": dataB64})
	if err != nil {
		return fmt.Errorf("send audio chunk %d: %w", sequence, err)
	}
	return nil
}

func (d *elevenLabsDriver) writeJSON(v any) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteJSON(v)
}

func (d *elevenLabsDriver) nextSeq() int64 {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	d.seq++
	return d.seq
}

func (d *elevenLabsDriver) Disconnect() error {
	d.disconnectOnce.Do(func() {
		d.disarmTurnComplete()
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
