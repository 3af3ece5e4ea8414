package repositories

import (
	"context"

	"github.com/voicelab/voicegate/domain/entities"
)

// TranscriptStream is one in-flight fallback transcription.
type TranscriptStream interface {
	Push(pcm []byte) error
	// End closes the stream and returns the final transcript, empty when no
	// speech was recognized.
	End() (string, error)
}

// FallbackTranscriber produces user transcripts for providers whose
// capability reports no native transcription support.
type FallbackTranscriber interface {
	Start(ctx context.Context, cfg entities.AudioConfig) (TranscriptStream, error)
}
