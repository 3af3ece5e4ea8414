package stt_test

import (
	"github.com/voicelab/voicegate/adapters/stt"
	"github.com/voicelab/voicegate/domain/repositories"
)

var _ repositories.FallbackTranscriber = &stt.GoogleTranscriber{}
