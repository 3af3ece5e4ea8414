package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the complete service configuration, loaded from environment
// variables. Call Load once at startup; every section validates itself.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Limits    LimitsConfig
	Turn      TurnConfig
	Mongo     MongoConfig
	Providers ProviderCredentials
}

// ServerConfig contains the HTTP/WebSocket listener configuration.
type ServerConfig struct {
	Port string
}

// AuthConfig configures client token validation. An empty secret disables
// token checks (development mode); production deployments resolve
// authentication upstream and pass a signed token through.
type AuthConfig struct {
	JWTSecret string
}

// LimitsConfig contains the inbound audio flow-control knobs.
type LimitsConfig struct {
	// MaxChunkBytes bounds one base64 audio payload.
	MaxChunkBytes int
	// SoftChunksPerWindow triggers a one-time warning; HardChunksPerWindow
	// closes the connection. Both count chunks per Window.
	SoftChunksPerWindow int
	HardChunksPerWindow int
	Window              time.Duration
}

// TurnConfig contains the turn-detection tunables. The source systems
// disagree on these values, so none of them is authoritative; all are
// overridable per deployment.
type TurnConfig struct {
	// Debounce is the delay before a client-driven response trigger fires,
	// giving the vendor's own auto-response a chance to preempt it.
	Debounce time.Duration
	// SilenceWindow is how long local VAD waits after the last speech frame
	// before declaring end of turn.
	SilenceWindow time.Duration
	// VADThreshold is the mean absolute PCM amplitude (0..32767) above which
	// a frame counts as speech.
	VADThreshold int
	// MinChunksForTurn is how many audio chunks must have been sent before a
	// speech-stopped signal may trigger a response.
	MinChunksForTurn int
}

// MongoConfig configures the session outcome store. Leaving URI empty
// disables persistence; outcomes are then logged only.
type MongoConfig struct {
	URI      string
	Database string
}

// ProviderCredentials holds server-side vendor credentials. A missing
// credential disables the corresponding model in the capability listing.
type ProviderCredentials struct {
	GeminiAPIKey      string
	OpenAIAPIKey      string
	XAIAPIKey         string
	DashScopeAPIKey   string
	VolcAppID         string
	VolcAccessToken   string
	ElevenLabsAPIKey  string
	ElevenLabsAgentID string
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envString("PORT", "8080"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Limits: LimitsConfig{
			MaxChunkBytes:       envInt("MAX_AUDIO_CHUNK_BYTES", 64*1024),
			SoftChunksPerWindow: envInt("AUDIO_CHUNKS_SOFT_LIMIT", 50),
			HardChunksPerWindow: envInt("AUDIO_CHUNKS_HARD_LIMIT", 100),
			Window:              envDuration("AUDIO_LIMIT_WINDOW", time.Second),
		},
		Turn: TurnConfig{
			Debounce:         envDuration("TURN_DEBOUNCE", 300*time.Millisecond),
			SilenceWindow:    envDuration("TURN_SILENCE_WINDOW", time.Second),
			VADThreshold:     envInt("VAD_THRESHOLD", 500),
			MinChunksForTurn: envInt("TURN_MIN_CHUNKS", 5),
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("MONGODB_URI"),
			Database: envString("MONGODB_DATABASE", "voicegate"),
		},
		Providers: ProviderCredentials{
			GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
			OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
			XAIAPIKey:         os.Getenv("XAI_API_KEY"),
			DashScopeAPIKey:   os.Getenv("DASHSCOPE_API_KEY"),
			VolcAppID:         os.Getenv("VOLC_APP_ID"),
			VolcAccessToken:   os.Getenv("VOLC_ACCESS_TOKEN"),
			ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
			ElevenLabsAgentID: os.Getenv("ELEVENLABS_AGENT_ID"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits config: %w", err)
	}
	if err := c.Turn.Validate(); err != nil {
		return fmt.Errorf("turn config: %w", err)
	}
	return nil
}

// Validate checks the flow-control section.
func (l LimitsConfig) Validate() error {
	if l.MaxChunkBytes <= 0 {
		return fmt.Errorf("max chunk bytes must be positive, got %d", l.MaxChunkBytes)
	}
	if l.SoftChunksPerWindow <= 0 {
		return fmt.Errorf("soft chunk limit must be positive, got %d", l.SoftChunksPerWindow)
	}
	if l.HardChunksPerWindow <= l.SoftChunksPerWindow {
		return fmt.Errorf("hard chunk limit %d must exceed soft limit %d",
			l.HardChunksPerWindow, l.SoftChunksPerWindow)
	}
	if l.Window <= 0 {
		return fmt.Errorf("limit window must be positive, got %s", l.Window)
	}
	return nil
}

// Validate checks the turn-detection section.
func (t TurnConfig) Validate() error {
	if t.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", t.Debounce)
	}
	if t.SilenceWindow <= 0 {
		return fmt.Errorf("silence window must be positive, got %s", t.SilenceWindow)
	}
	if t.VADThreshold <= 0 || t.VADThreshold > 32767 {
		return fmt.Errorf("vad threshold must be in 1..32767, got %d", t.VADThreshold)
	}
	if t.MinChunksForTurn < 0 {
		return fmt.Errorf("min chunks for turn must not be negative, got %d", t.MinChunksForTurn)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
