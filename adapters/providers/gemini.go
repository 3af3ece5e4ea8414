package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
	"github.com/voicelab/voicegate/internal/config"
)

const geminiLiveModel = "gemini-2.0-flash-live-001"

// geminiDriver speaks the Gemini Live API. Turn detection is fully
// server-driven: the service transcribes both directions and reports
// turn completion itself, so no turn controller is needed.
type geminiDriver struct {
	baseDriver
	apiKey string

	cancel  context.CancelFunc
	session *genai.Session

	sendMu sync.Mutex
	seq    int64

	disconnectOnce sync.Once
}

func newGeminiDriver(deps Dependencies) repositories.Driver {
	return &geminiDriver{
		baseDriver: newBaseDriver(deps.Logger.With(zap.String("driver", "gemini"))),
		apiKey:     deps.Credentials.GeminiAPIKey,
	}
}

func geminiCapability(creds config.ProviderCredentials) entities.Capability {
	return entities.Capability{
		ID:                   ModelGeminiLive,
		Name:                 "Gemini Live",
		Provider:             "google",
		Enabled:              creds.GeminiAPIKey != "",
		SupportedSampleRates: []int{16000, 24000},
		SupportedEncodings:   []string{"pcm16"},
		DefaultSampleRate:    16000,
		DefaultEncoding:      "pcm16",
		Voices: []entities.Voice{
			{ID: "Puck", Name: "Puck", Gender: "male", Style: "upbeat"},
			{ID: "Charon", Name: "Charon", Gender: "male", Style: "deep"},
			{ID: "Kore", Name: "Kore", Gender: "female", Style: "neutral"},
			{ID: "Fenrir", Name: "Fenrir", Gender: "male", Style: "intense"},
			{ID: "Aoede", Name: "Aoede", Gender: "female", Style: "warm"},
		},
		DefaultVoice:          "Puck",
		SupportsTranscription: true,
		SupportsInterruption:  true,
		MaxSessionDuration:    1800,
	}
}

func (d *geminiDriver) Connect(ctx context.Context, cfg entities.SessionConfig) error {
	if !d.setStatus(entities.StatusConnecting) {
		return fmt.Errorf("gemini driver already used")
	}

	apiKey := d.apiKey
	if cfg.APIKey != "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		d.setStatus(entities.StatusError)
		err := fmt.Errorf("gemini api key is not configured")
		d.emitError(entities.CodeConfigMissing, err.Error())
		return err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		d.setStatus(entities.StatusError)
		d.emitError(entities.CodeConnectFailed, fmt.Sprintf("failed to create client: %v", err))
		return fmt.Errorf("create gemini client: %w", err)
	}

	liveCfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.SystemInstruction != "" {
		liveCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.Voice.VoiceID != "" {
		liveCfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice.VoiceID},
			},
		}
	}

	session, err := client.Live.Connect(ctx, geminiLiveModel, liveCfg)
	if err != nil {
		d.setStatus(entities.StatusError)
		d.emitError(entities.CodeConnectFailed, fmt.Sprintf("live connect failed: %v", err))
		return fmt.Errorf("gemini live connect: %w", err)
	}
	d.session = session

	loopCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.setStatus(entities.StatusConnected)
	go d.receiveLoop(loopCtx)

	d.logger.Info("gemini live session established",
		zap.String("model", geminiLiveModel),
		zap.String("voice", cfg.Voice.VoiceID))
	return nil
}

func (d *geminiDriver) receiveLoop(ctx context.Context) {
	for {
		msg, err := d.session.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("gemini receive failed", zap.Error(err))
			d.setStatus(entities.StatusError)
			d.emitError(entities.CodeUnexpectedClose, fmt.Sprintf("vendor stream closed: %v", err))
			return
		}
		d.handleServerMessage(msg)
	}
}

func (d *geminiDriver) handleServerMessage(msg *genai.LiveServerMessage) {
	sc := msg.ServerContent
	if sc == nil {
		return
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				d.sendMu.Lock()
				d.seq++
				seq := d.seq
				d.sendMu.Unlock()
				d.emitAudio(base64.StdEncoding.EncodeToString(part.InlineData.Data), seq, false)
			}
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		d.emitTranscript(entities.RoleUser, sc.InputTranscription.Text, sc.InputTranscription.Finished)
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		d.emitTranscript(entities.RoleModel, sc.OutputTranscription.Text, sc.OutputTranscription.Finished)
	}
	if sc.TurnComplete {
		d.emitTurnComplete()
	}
}

func (d *geminiDriver) SendAudio(dataB64 string, sequence int64) error {
	if d.Status() != entities.StatusConnected {
		return nil
	}
	pcm, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return fmt.Errorf("decode audio chunk %d: %w", sequence, err)
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return d.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: pcm, MIMEType: "audio/pcm"},
	})
}

func (d *geminiDriver) Disconnect() error {
	d.disconnectOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		if d.session != nil {
			if err := d.session.Close(); err != nil {
				d.logger.Debug("gemini session close", zap.Error(err))
			}
		}
		d.setStatus(entities.StatusDisconnected)
		d.closeEvents()
	})
	return nil
}
