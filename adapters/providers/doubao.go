package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
	"github.com/voicelab/voicegate/internal/config"
)

const doubaoRealtimeURL = "wss://openspeech.bytedance.com/api/v3/realtime/dialogue"

// Volcengine dialogue event ids.
const (
	doubaoEventStartSession  = 100
	doubaoEventFinishSession = 102
	doubaoEventTaskRequest   = 200
)

// doubaoDriver speaks the Volcengine realtime dialogue protocol, the
// one vendor on a binary envelope instead of JSON frames. Audio flows
// both ways as raw-serialized frames; control and transcript traffic
// is gzip JSON inside the same envelope.
type doubaoDriver struct {
	baseDriver
	appID       string
	accessToken string

	conn      *websocket.Conn
	writeMu   sync.Mutex
	cancel    context.CancelFunc
	sessionID string

	seqMu sync.Mutex
	seq   int64

	disconnectOnce sync.Once
}

func newDoubaoDriver(deps Dependencies) repositories.Driver {
	return &doubaoDriver{
		baseDriver:  newBaseDriver(deps.Logger.With(zap.String("driver", "doubao"))),
		appID:       deps.Credentials.VolcAppID,
		accessToken: deps.Credentials.VolcAccessToken,
	}
}

func doubaoCapability(creds config.ProviderCredentials) entities.Capability {
	return entities.Capability{
		ID:                   ModelDoubaoRealtime,
		Name:                 "Doubao Realtime Dialogue",
		Provider:             "volcengine",
		Enabled:              creds.VolcAppID != "" && creds.VolcAccessToken != "",
		SupportedSampleRates: []int{16000, 24000},
		SupportedEncodings:   []string{"pcm16"},
		DefaultSampleRate:    24000,
		DefaultEncoding:      "pcm16",
		Voices: []entities.Voice{
			{ID: "zh_female_tianmei", Name: "Tianmei", Gender: "female", Style: "sweet"},
			{ID: "zh_female_shuangkuai", Name: "Shuangkuai", Gender: "female", Style: "brisk"},
			{ID: "zh_male_yangguang", Name: "Yangguang", Gender: "male", Style: "sunny"},
		},
		DefaultVoice:          "zh_female_tianmei",
		SupportsTranscription: true,
		SupportsInterruption:  true,
		MaxSessionDuration:    1800,
	}
}

func (d *doubaoDriver) Connect(ctx context.Context, cfg entities.SessionConfig) error {
	if !d.setStatus(entities.StatusConnecting) {
		return fmt.Errorf("doubao driver already used")
	}

	if d.appID == "" || d.accessToken == "" {
		d.setStatus(entities.StatusError)
		err := fmt.Errorf("volcengine credentials are not configured")
		d.emitError(entities.CodeConfigMissing, err.Error())
		return err
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", d.appID)
	header.Set("X-Api-Access-Key", d.accessToken)
	header.Set("X-Api-Resource-Id", "volc.speech.dialog")
	header.Set("X-Api-Connect-Id", uuid.NewString())

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, doubaoRealtimeURL, header)
	if err != nil {
		d.setStatus(entities.StatusError)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		d.emitError(entities.CodeConnectFailed,
			fmt.Sprintf("vendor handshake rejected (http %d): %v", status, err))
		return fmt.Errorf("dial doubao realtime: %w", err)
	}
	d.conn = conn
	d.sessionID = uuid.NewString()

	startPayload, err := json.Marshal(map[string]any{
		"tts": map[string]any{
			"speaker": cfg.Voice.VoiceID,
			"audio_config": map[string]any{
				"format":      "pcm",
				"sample_rate": cfg.Audio.SampleRate,
				"channel":     1,
			},
		},
		"dialog": map[string]any{
			"system_role": cfg.SystemInstruction,
		},
	})
	if err != nil {
		conn.Close()
		d.setStatus(entities.StatusError)
		return fmt.Errorf("marshal session start: %w", err)
	}

	err = d.writeFrame(frameMsgFullClient, 0, frameSerializationJSON, frameCompressionGzip,
		doubaoEventStartSession, startPayload)
	if err != nil {
		conn.Close()
		d.setStatus(entities.StatusError)
		d.emitError(entities.CodeConnectFailed, fmt.Sprintf("session start failed: %v", err))
		return fmt.Errorf("doubao session start: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.setStatus(entities.StatusConnected)
	go d.receiveLoop(loopCtx)

	d.logger.Info("doubao dialogue session established",
		zap.String("session_id", d.sessionID),
		zap.String("voice", cfg.Voice.VoiceID))
	return nil
}

func (d *doubaoDriver) receiveLoop(ctx context.Context) {
	for {
		msgType, raw, err := d.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("doubao read failed", zap.Error(err))
			d.setStatus(entities.StatusError)
			d.emitError(entities.CodeUnexpectedClose, fmt.Sprintf("vendor stream closed: %v", err))
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		frame, err := decodeFrame(raw)
		if err != nil {
			d.logger.Warn("undecodable frame dropped", zap.Error(err))
			continue
		}
		if frame.Truncated {
			d.logger.Warn("truncated frame dropped",
				zap.Uint8("msg_type", frame.MsgType),
				zap.Uint32("event_id", frame.EventID))
			continue
		}
		d.handleFrame(frame)
	}
}

func (d *doubaoDriver) handleFrame(frame *binaryFrame) {
	switch frame.MsgType {
	case frameMsgServerError:
		d.emitError(entities.CodeProtocolError,
			fmt.Sprintf("vendor error %d: %s", frame.ErrorCode, frame.ErrorMessage))

	case frameMsgFullServer:
		if frame.Serialization == frameSerializationRaw {
			// Raw-serialized server frames are synthesized audio.
			if len(frame.Payload) > 0 {
				d.emitAudio(base64.StdEncoding.EncodeToString(frame.Payload),
					d.nextSeq(), frame.IsLast())
			}
			return
		}
		d.handleControlPayload(frame.Payload)

	case frameMsgServerAck:
		// Flow-control acknowledgements carry nothing we surface.

	default:
		d.logger.Debug("frame with unknown message type ignored",
			zap.Uint8("msg_type", frame.MsgType))
	}
}

func (d *doubaoDriver) handleControlPayload(payload []byte) {
	var ev struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		d.logger.Warn("unparseable control payload dropped", zap.Error(err))
		return
	}

	switch ev.Type {
	case "asr.partial":
		if ev.Text != "" {
			d.emitTranscript(entities.RoleUser, ev.Text, false)
		}
	case "asr.final":
		if ev.Text != "" {
			d.emitTranscript(entities.RoleUser, ev.Text, true)
		}
	case "tts.transcript":
		if ev.Text != "" {
			d.emitTranscript(entities.RoleModel, ev.Text, true)
		}
	case "turn.finished":
		d.emitTurnComplete()
	case "session.started":
		d.logger.Debug("vendor session acknowledged")
	}
}

func (d *doubaoDriver) SendAudio(dataB64 string, sequence int64) error {
	if d.Status() != entities.StatusConnected {
		return nil
	}
	pcm, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return fmt.Errorf("decode audio chunk %d: %w", sequence, err)
	}
	err = d.writeFrame(frameMsgAudioClient, 0, frameSerializationRaw, frameCompressionGzip,
		doubaoEventTaskRequest, pcm)
	if err != nil {
		return fmt.Errorf("send audio chunk %d: %w", sequence, err)
	}
	return nil
}

func (d *doubaoDriver) writeFrame(msgType, flags, serialization, compression byte, eventID uint32, payload []byte) error {
	raw, err := encodeFrame(msgType, flags, serialization, compression, eventID, d.sessionID, payload)
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteMessage(websocket.BinaryMessage, raw)
}

func (d *doubaoDriver) nextSeq() int64 {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	d.seq++
	return d.seq
}

func (d *doubaoDriver) Disconnect() error {
	d.disconnectOnce.Do(func() {
		if d.conn != nil && d.Status() == entities.StatusConnected {
			err := d.writeFrame(frameMsgFullClient, frameFlagLastPacket,
				frameSerializationJSON, frameCompressionGzip, doubaoEventFinishSession, []byte("{}"))
			if err != nil {
				d.logger.Debug("session finish frame failed", zap.Error(err))
			}
		}
		if d.cancel != nil {
			d.cancel()
		}
		if d.conn != nil {
			d.conn.Close()
		}
		d.setStatus(entities.StatusDisconnected)
		d.closeEvents()
	})
	return nil
}
