// Package audio provides PCM helpers shared by the provider drivers:
// WAV container framing and energy based voice activity detection.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	wavHeaderSize = 44
	numChannels   = 1
	bitsPerSample = 16
)

// WrapPCM prepends a 44-byte RIFF/WAVE header to raw little-endian
// 16-bit mono PCM. Some vendors only accept containerized audio on
// their input channel, so drivers call this right before upload.
func WrapPCM(pcm []byte, sampleRate int) []byte {
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// StripWAV removes a RIFF header if one is present, returning the raw
// PCM samples. Data without a header is returned unchanged.
func StripWAV(data []byte) []byte {
	if len(data) < wavHeaderSize || !bytes.HasPrefix(data, []byte("RIFF")) {
		return data
	}
	return data[wavHeaderSize:]
}

// ValidatePCM rejects audio that cannot be 16-bit samples.
func ValidatePCM(pcm []byte) error {
	if len(pcm) == 0 {
		return fmt.Errorf("empty audio payload")
	}
	if len(pcm)%2 != 0 {
		return fmt.Errorf("audio payload length %d is not sample aligned", len(pcm))
	}
	return nil
}
