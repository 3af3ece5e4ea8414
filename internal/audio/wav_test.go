package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWrapPCMHeader(t *testing.T) {
	pcm := make([]byte, 320) // 10ms at 16kHz mono
	wav := WrapPCM(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) {
		t.Errorf("chunk id = %q, want RIFF", wav[0:4])
	}
	if !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Errorf("format = %q, want WAVE", wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint16(wav[20:22]); got != 1 {
		t.Errorf("audio format = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[32:34]); got != 2 {
		t.Errorf("block align = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestWrapPCMRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	wav := WrapPCM(pcm, 24000)

	got := StripWAV(wav)
	if !bytes.Equal(got, pcm) {
		t.Errorf("StripWAV(WrapPCM(pcm)) = %v, want %v", got, pcm)
	}
}

func TestStripWAVPassthrough(t *testing.T) {
	raw := make([]byte, 100)
	raw[0] = 0x7f
	if got := StripWAV(raw); !bytes.Equal(got, raw) {
		t.Error("StripWAV altered data without a RIFF header")
	}
}

func TestValidatePCM(t *testing.T) {
	if err := ValidatePCM(nil); err == nil {
		t.Error("ValidatePCM(nil): want error, got nil")
	}
	if err := ValidatePCM([]byte{0x01}); err == nil {
		t.Error("ValidatePCM(odd length): want error, got nil")
	}
	if err := ValidatePCM([]byte{0x01, 0x02}); err != nil {
		t.Errorf("ValidatePCM(valid): error = %v", err)
	}
}
