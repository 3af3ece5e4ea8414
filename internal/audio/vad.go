package audio

import "time"

// VADEvent is the outcome of feeding one PCM frame to the detector.
type VADEvent int

const (
	// VADNone means no state change.
	VADNone VADEvent = iota
	// VADSpeechStart fires on the first frame above the energy threshold.
	VADSpeechStart
	// VADSpeechEnd fires once the silence window elapses after speech.
	VADSpeechEnd
)

// EnergyVAD is a simple mean-amplitude voice activity detector for
// vendors that never report speech boundaries themselves. Not safe for
// concurrent use; each session owns its own instance.
type EnergyVAD struct {
	threshold     int
	silenceWindow time.Duration

	speaking   bool
	lastSpeech time.Time
	now        func() time.Time
}

// NewEnergyVAD returns a detector with the given mean absolute
// amplitude threshold (1..32767) and trailing silence window.
func NewEnergyVAD(threshold int, silenceWindow time.Duration) *EnergyVAD {
	return &EnergyVAD{
		threshold:     threshold,
		silenceWindow: silenceWindow,
		now:           time.Now,
	}
}

// Feed classifies one frame of little-endian 16-bit mono PCM and
// reports any boundary crossing.
func (v *EnergyVAD) Feed(pcm []byte) VADEvent {
	now := v.now()
	loud := MeanAbsAmplitude(pcm) >= v.threshold

	switch {
	case loud && !v.speaking:
		v.speaking = true
		v.lastSpeech = now
		return VADSpeechStart
	case loud:
		v.lastSpeech = now
	case v.speaking && now.Sub(v.lastSpeech) >= v.silenceWindow:
		v.speaking = false
		return VADSpeechEnd
	}
	return VADNone
}

// Speaking reports whether the detector currently considers the user
// to be talking.
func (v *EnergyVAD) Speaking() bool {
	return v.speaking
}

// Reset returns the detector to its initial silent state.
func (v *EnergyVAD) Reset() {
	v.speaking = false
	v.lastSpeech = time.Time{}
}

// MeanAbsAmplitude computes the mean absolute sample value of
// little-endian 16-bit PCM. Odd trailing bytes are ignored.
func MeanAbsAmplitude(pcm []byte) int {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < samples*2; i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		if s < 0 {
			// math.MinInt16 negates to itself; clamp instead.
			if s == -32768 {
				sum += 32767
				continue
			}
			s = -s
		}
		sum += int64(s)
	}
	return int(sum / int64(samples))
}
