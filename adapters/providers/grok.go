package providers

import (
	"go.uber.org/zap"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
	"github.com/voicelab/voicegate/internal/config"
)

const grokRealtimeURL = "wss://api.x.ai/v1/realtime?model=grok-beta"

// Grok exposes an OpenAI-compatible realtime endpoint, so the driver
// is the shared dialect implementation pointed at xAI.
func newGrokDriver(deps Dependencies) repositories.Driver {
	return &openAIDialectDriver{
		baseDriver: newBaseDriver(deps.Logger.With(zap.String("driver", "grok"))),
		vendor:     "grok",
		url:        grokRealtimeURL,
		apiKey:     deps.Credentials.XAIAPIKey,
		turnCfg:    deps.Turn,
	}
}

func grokCapability(creds config.ProviderCredentials) entities.Capability {
	return entities.Capability{
		ID:                   ModelGrokBeta,
		Name:                 "Grok Voice Beta",
		Provider:             "xai",
		Enabled:              creds.XAIAPIKey != "",
		SupportedSampleRates: []int{24000},
		SupportedEncodings:   []string{"pcm16"},
		DefaultSampleRate:    24000,
		DefaultEncoding:      "pcm16",
		Voices: []entities.Voice{
			{ID: "ara", Name: "Ara", Gender: "female", Style: "expressive"},
			{ID: "rex", Name: "Rex", Gender: "male", Style: "grounded"},
		},
		DefaultVoice:          "ara",
		SupportsTranscription: true,
		SupportsInterruption:  true,
		MaxSessionDuration:    1800,
	}
}
