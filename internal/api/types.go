package api

// ModelsResponse lists every registered model's capabilities.
type ModelsResponse struct {
	Models []ModelResponse `json:"models"`
}

// ModelResponse is one model's capability snapshot.
type ModelResponse struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Provider             string          `json:"provider"`
	Enabled              bool            `json:"enabled"`
	SupportedSampleRates []int           `json:"supported_sample_rates"`
	SupportedEncodings   []string        `json:"supported_encodings"`
	DefaultSampleRate    int             `json:"default_sample_rate"`
	DefaultEncoding      string          `json:"default_encoding"`
	Voices               []VoiceResponse `json:"voices"`
	DefaultVoice         string          `json:"default_voice"`
	Transcription        bool            `json:"transcription"`
	Interruption         bool            `json:"interruption"`
	MaxSessionDuration   int             `json:"max_session_duration"`
}

// VoiceResponse is one catalog voice.
type VoiceResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Gender string `json:"gender,omitempty"`
	Style  string `json:"style,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
