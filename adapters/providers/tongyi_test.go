package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/internal/config"
)

// vendorStub is a websocket endpoint that records the type of every
// JSON message a driver sends it.
type vendorStub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	types []string
}

func (s *vendorStub) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(raw, &msg) == nil {
			s.mu.Lock()
			s.types = append(s.types, msg.Type)
			s.mu.Unlock()
		}
	}
}

func (s *vendorStub) sawType(msgType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tp := range s.types {
		if tp == msgType {
			return true
		}
	}
	return false
}

func (s *vendorStub) waitForType(t *testing.T, msgType string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !s.sawType(msgType) {
		select {
		case <-deadline:
			t.Fatalf("vendor never received %s", msgType)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func stubTongyiDriver(t *testing.T, url string) *tongyiDriver {
	t.Helper()
	d := newTongyiDriver(Dependencies{
		Logger:      zaptest.NewLogger(t),
		Credentials: config.ProviderCredentials{DashScopeAPIKey: "test-key"},
		Turn: config.TurnConfig{
			Debounce:         15 * time.Millisecond,
			SilenceWindow:    15 * time.Millisecond,
			VADThreshold:     500,
			MinChunksForTurn: 1,
		},
	}).(*tongyiDriver)
	d.url = "ws" + strings.TrimPrefix(url, "http")
	return d
}

func tongyiTestConfig() entities.SessionConfig {
	return entities.SessionConfig{
		ModelID: ModelTongyiRealtime,
		Audio:   entities.AudioConfig{SampleRate: 16000, Encoding: "pcm16", Channels: 1},
		Voice:   entities.VoiceConfig{VoiceID: "Cherry"},
	}
}

// A microphone that never crosses the VAD threshold must still get an
// answer: after a fixed quiet delay the driver commits the buffer and
// requests a response on its own.
func TestTongyiFallbackCommitsWithoutSpeech(t *testing.T) {
	stub := &vendorStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	d := stubTongyiDriver(t, srv.URL)
	if err := d.Connect(context.Background(), tongyiTestConfig()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Disconnect()

	quiet := base64.StdEncoding.EncodeToString(make([]byte, 640))
	for seq := int64(1); seq <= 3; seq++ {
		if err := d.SendAudio(quiet, seq); err != nil {
			t.Fatalf("send audio %d: %v", seq, err)
		}
	}

	stub.waitForType(t, "input_audio_buffer.commit")
	stub.waitForType(t, "response.create")
}

func TestTongyiSpeechDisablesFallback(t *testing.T) {
	stub := &vendorStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	d := stubTongyiDriver(t, srv.URL)
	if err := d.Connect(context.Background(), tongyiTestConfig()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Disconnect()

	// Samples of 0x1010 (4112) sit well above the threshold.
	loud := make([]byte, 640)
	for i := range loud {
		loud[i] = 0x10
	}
	if err := d.SendAudio(base64.StdEncoding.EncodeToString(loud), 1); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	// Once speech has been heard, the commit belongs to the VAD; the
	// quiet timer must stay silent.
	time.Sleep(4 * d.fallbackDelay)
	if stub.sawType("input_audio_buffer.commit") {
		t.Error("fallback committed despite detected speech")
	}
	if stub.sawType("response.create") {
		t.Error("fallback requested a response despite detected speech")
	}
}
