package providers

import (
	"go.uber.org/zap"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
	"github.com/voicelab/voicegate/internal/config"
)

// Dependencies carries everything a driver constructor may need.
type Dependencies struct {
	Logger      *zap.Logger
	Credentials config.ProviderCredentials
	Turn        config.TurnConfig
	// Transcriber supplies user-side transcripts for vendors that do
	// not transcribe input themselves. May be nil.
	Transcriber repositories.FallbackTranscriber
}

// Factory builds drivers and reports capabilities for one model id.
type Factory struct {
	New        func(deps Dependencies) repositories.Driver
	Capability func(creds config.ProviderCredentials) entities.Capability
}

// Registry maps model ids to driver factories. Read-only after
// construction; capability snapshots are rebuilt per call because
// enablement depends on which credentials are present.
type Registry struct {
	deps      Dependencies
	factories map[string]Factory
	order     []string
}

// NewRegistry returns a registry with every built-in vendor driver.
func NewRegistry(deps Dependencies) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := &Registry{
		deps:      deps,
		factories: make(map[string]Factory),
	}
	r.register(ModelGeminiLive, Factory{New: newGeminiDriver, Capability: geminiCapability})
	r.register(ModelOpenAIRealtime, Factory{New: newOpenAIDriver, Capability: openAICapability})
	r.register(ModelGrokBeta, Factory{New: newGrokDriver, Capability: grokCapability})
	r.register(ModelTongyiRealtime, Factory{New: newTongyiDriver, Capability: tongyiCapability})
	r.register(ModelDoubaoRealtime, Factory{New: newDoubaoDriver, Capability: doubaoCapability})
	r.register(ModelElevenLabsRealtime, Factory{New: newElevenLabsDriver, Capability: elevenLabsCapability})
	return r
}

// Built-in model ids.
const (
	ModelGeminiLive         = "gemini-live"
	ModelOpenAIRealtime     = "openai-realtime"
	ModelGrokBeta           = "grok-beta"
	ModelTongyiRealtime     = "tongyi-realtime"
	ModelDoubaoRealtime     = "doubao-realtime"
	ModelElevenLabsRealtime = "elevenlabs-realtime"
)

func (r *Registry) register(modelID string, f Factory) {
	r.factories[modelID] = f
	r.order = append(r.order, modelID)
}

// NewDriver constructs a fresh driver for the model id. Drivers are
// single-use; callers discard them after disconnect.
func (r *Registry) NewDriver(modelID string) (repositories.Driver, entities.Capability, bool) {
	f, ok := r.factories[modelID]
	if !ok {
		return nil, entities.Capability{}, false
	}
	return f.New(r.deps), f.Capability(r.deps.Credentials), true
}

// Capability returns the current capability snapshot for one model.
func (r *Registry) Capability(modelID string) (entities.Capability, bool) {
	f, ok := r.factories[modelID]
	if !ok {
		return entities.Capability{}, false
	}
	return f.Capability(r.deps.Credentials), true
}

// Capabilities lists every registered model in registration order.
func (r *Registry) Capabilities() []entities.Capability {
	caps := make([]entities.Capability, 0, len(r.order))
	for _, id := range r.order {
		caps = append(caps, r.factories[id].Capability(r.deps.Credentials))
	}
	return caps
}
