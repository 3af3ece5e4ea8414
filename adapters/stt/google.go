// Package stt provides the fallback speech-to-text used for vendors
// that cannot transcribe caller audio themselves.
package stt

import (
	"context"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
)

// GoogleTranscriber implements FallbackTranscriber on Google Cloud
// Speech-to-Text streaming recognition.
type GoogleTranscriber struct {
	language string
}

// NewGoogleTranscriber creates a transcriber; language defaults to
// English when empty.
func NewGoogleTranscriber(language string) *GoogleTranscriber {
	if language == "" {
		language = "en-US"
	}
	return &GoogleTranscriber{language: language}
}

func (g *GoogleTranscriber) Start(ctx context.Context, cfg entities.AudioConfig) (repositories.TranscriptStream, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	encoding, err := audioEncoding(cfg.Encoding)
	if err != nil {
		stream.CloseSend()
		client.Close()
		return nil, err
	}

	// Send initial configuration
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(cfg.SampleRate),
					LanguageCode:    g.language,
				},
				InterimResults:  false, // We only want final results
				SingleUtterance: true,  // One utterance per stream
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	return &googleStream{
		client:     client,
		stream:     stream,
		ctx:        ctx,
		resultChan: make(chan string, 1),
		errorChan:  make(chan error, 1),
	}, nil
}

type googleStream struct {
	client         *speech.Client
	stream         speechpb.Speech_StreamingRecognizeClient
	ctx            context.Context
	audioReceived  bool
	resultChan     chan string
	errorChan      chan error
	receiverActive bool
}

func (g *googleStream) Push(pcm []byte) error {
	// Start the result receiver goroutine only once
	if !g.receiverActive {
		g.receiverActive = true
		go g.receiveResults()
	}

	if len(pcm) == 0 {
		return nil
	}
	g.audioReceived = true

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: pcm,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (g *googleStream) End() (string, error) {
	defer g.cleanup()

	if !g.audioReceived {
		return "", fmt.Errorf("no audio data received")
	}

	// Close the send stream to signal end of audio
	if err := g.stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close send stream: %w", err)
	}

	// Wait for final result or error
	select {
	case <-g.ctx.Done():
		return "", fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case err := <-g.errorChan:
		if err != nil {
			return "", err
		}
	case result := <-g.resultChan:
		return result, nil
	}

	return "", fmt.Errorf("unexpected end of transcription")
}

func (g *googleStream) receiveResults() {
	defer close(g.resultChan)
	defer close(g.errorChan)

	var finalTranscription string

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			// Stream ended normally
			g.resultChan <- finalTranscription
			return
		}
		if err != nil {
			g.errorChan <- fmt.Errorf("failed to receive response: %w", err)
			return
		}

		// Only final results matter here.
		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				finalTranscription = result.Alternatives[0].Transcript
			}
		}
	}
}

func (g *googleStream) cleanup() {
	if g.client != nil {
		g.client.Close()
	}
}

// audioEncoding converts the gateway encoding name to the Google
// Speech API enum.
func audioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "pcm16", "LINEAR16", "WAV":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
			fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
