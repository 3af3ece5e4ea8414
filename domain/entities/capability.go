package entities

// Voice describes one entry of a provider's voice catalog.
type Voice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Gender string `json:"gender,omitempty"`
	Style  string `json:"style,omitempty"`
}

// Capability is the static per-provider descriptor the gateway negotiates
// against. It is rebuilt lazily per request because enablement depends on
// which credentials are present at runtime.
type Capability struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Enabled  bool   `json:"enabled"`

	SupportedSampleRates []int    `json:"supportedSampleRates"`
	SupportedEncodings   []string `json:"supportedEncodings"`
	DefaultSampleRate    int      `json:"defaultSampleRate"`
	DefaultEncoding      string   `json:"defaultEncoding"`

	Voices       []Voice `json:"voices"`
	DefaultVoice string  `json:"defaultVoice"`

	SupportsTranscription bool `json:"supportsTranscription"`
	SupportsInterruption  bool `json:"supportsInterruption"`

	// MaxSessionDuration is in seconds.
	MaxSessionDuration int `json:"maxSessionDuration"`
}

// SupportsSampleRate reports whether rate is in the supported set.
func (c Capability) SupportsSampleRate(rate int) bool {
	for _, r := range c.SupportedSampleRates {
		if r == rate {
			return true
		}
	}
	return false
}

// SupportsEncoding reports whether encoding is in the supported set.
func (c Capability) SupportsEncoding(encoding string) bool {
	for _, e := range c.SupportedEncodings {
		if e == encoding {
			return true
		}
	}
	return false
}

// HasVoice reports whether voiceID is part of the voice catalog.
func (c Capability) HasVoice(voiceID string) bool {
	for _, v := range c.Voices {
		if v.ID == voiceID {
			return true
		}
	}
	return false
}
