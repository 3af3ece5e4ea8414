package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
	"github.com/voicelab/voicegate/internal/config"
)

type fakeDriver struct {
	mu          sync.Mutex
	status      entities.DriverStatus
	events      chan repositories.DriverEvent
	sent        []int64
	disconnects int
	connectErr  error
	closed      bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		status: entities.StatusDisconnected,
		events: make(chan repositories.DriverEvent, 64),
	}
}

func (d *fakeDriver) Connect(ctx context.Context, cfg entities.SessionConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		d.status = entities.StatusError
		return d.connectErr
	}
	d.status = entities.StatusConnected
	return nil
}

func (d *fakeDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
	d.status = entities.StatusDisconnected
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	return nil
}

func (d *fakeDriver) SendAudio(dataB64 string, sequence int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sequence)
	return nil
}

func (d *fakeDriver) Status() entities.DriverStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *fakeDriver) Events() <-chan repositories.DriverEvent { return d.events }

func (d *fakeDriver) sentSequences() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int64, len(d.sent))
	copy(out, d.sent)
	return out
}

func (d *fakeDriver) disconnectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

type fakeRegistry struct {
	driver     *fakeDriver
	capability entities.Capability
}

func (r *fakeRegistry) NewDriver(modelID string) (repositories.Driver, entities.Capability, bool) {
	if modelID != r.capability.ID {
		return nil, entities.Capability{}, false
	}
	return r.driver, r.capability, true
}

func (r *fakeRegistry) Capabilities() []entities.Capability {
	return []entities.Capability{r.capability}
}

type recorder struct {
	mu        sync.Mutex
	envelopes []Envelope
	closeCode int
	closed    bool
}

func (r *recorder) send(env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
}

func (r *recorder) close(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.closeCode = code
	}
}

func (r *recorder) byType(msgType string) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Envelope
	for _, env := range r.envelopes {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, msgType string) Envelope {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if envs := r.byType(msgType); len(envs) > 0 {
			return envs[0]
		}
		select {
		case <-deadline:
			t.Fatalf("no %s envelope arrived", msgType)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func testCapability() entities.Capability {
	return entities.Capability{
		ID:                   "test-model",
		Name:                 "Test Model",
		Provider:             "test",
		Enabled:              true,
		SupportedSampleRates: []int{16000},
		SupportedEncodings:   []string{"pcm16"},
		DefaultSampleRate:    16000,
		DefaultEncoding:      "pcm16",
		Voices:               []entities.Voice{{ID: "v1", Name: "Voice One"}},
		DefaultVoice:         "v1",
		MaxSessionDuration:   1800,
	}
}

func testSession(t *testing.T, driver *fakeDriver, cap entities.Capability) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := NewSession(cap.ID, "user-1", "", SessionDeps{
		Logger:   zaptest.NewLogger(t),
		Registry: &fakeRegistry{driver: driver, capability: cap},
		Limits: config.LimitsConfig{
			MaxChunkBytes:       64 * 1024,
			SoftChunksPerWindow: 100,
			HardChunksPerWindow: 200,
			Window:              time.Second,
		},
		Send:  rec.send,
		Close: rec.close,
	})
	return s, rec
}

func raw(t *testing.T, msgType string, payload any) []byte {
	t.Helper()
	env := NewEnvelope(msgType, payload)
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal %s: %v", msgType, err)
	}
	return b
}

func createSession(t *testing.T, s *Session, rec *recorder) {
	t.Helper()
	var req SessionCreatePayload
	req.Audio.SampleRate = 16000
	req.Audio.Encoding = "pcm16"
	req.Voice.VoiceID = "v1"
	s.HandleMessage(raw(t, TypeSessionCreate, req))
	if envs := rec.byType(TypeSessionCreated); len(envs) != 1 {
		t.Fatalf("session.created count = %d, want 1", len(envs))
	}
}

func audioChunk(t *testing.T, seq int64) []byte {
	t.Helper()
	return raw(t, TypeAudioInput, AudioInputPayload{
		Data:     base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}),
		Sequence: seq,
	})
}

func TestUnsupportedEncodingRejectedBeforeCreated(t *testing.T) {
	driver := newFakeDriver()
	s, rec := testSession(t, driver, testCapability())

	var req SessionCreatePayload
	req.Audio.SampleRate = 16000
	req.Audio.Encoding = "opus"
	s.HandleMessage(raw(t, TypeSessionCreate, req))

	errs := rec.byType(TypeError)
	if len(errs) != 1 {
		t.Fatalf("error count = %d, want 1", len(errs))
	}
	var payload ErrorPayload
	if err := json.Unmarshal(errs[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Code != entities.CodeProtocolError {
		t.Errorf("error code = %d, want %d", payload.Code, entities.CodeProtocolError)
	}
	if created := rec.byType(TypeSessionCreated); len(created) != 0 {
		t.Error("session.created sent despite rejected encoding")
	}
	if !rec.closed || rec.closeCode != 1008 {
		t.Errorf("close code = %d (closed=%v), want 1008", rec.closeCode, rec.closed)
	}
	if got := driver.disconnectCount(); got != 1 {
		t.Errorf("disconnect count = %d, want 1", got)
	}
}

func TestUnknownModelRejected(t *testing.T) {
	rec := &recorder{}
	s := NewSession("missing-model", "user-1", "", SessionDeps{
		Logger:   zaptest.NewLogger(t),
		Registry: &fakeRegistry{driver: newFakeDriver(), capability: testCapability()},
		Limits:   config.LimitsConfig{MaxChunkBytes: 1024, SoftChunksPerWindow: 10, HardChunksPerWindow: 20, Window: time.Second},
		Send:     rec.send,
		Close:    rec.close,
	})

	s.HandleMessage(raw(t, TypeSessionCreate, SessionCreatePayload{}))

	errs := rec.byType(TypeError)
	if len(errs) != 1 {
		t.Fatalf("error count = %d, want 1", len(errs))
	}
	var payload ErrorPayload
	json.Unmarshal(errs[0].Payload, &payload)
	if payload.Code != entities.CodeConnectFailed {
		t.Errorf("error code = %d, want %d", payload.Code, entities.CodeConnectFailed)
	}
}

func TestDisabledModelRejected(t *testing.T) {
	cap := testCapability()
	cap.Enabled = false
	driver := newFakeDriver()
	s, rec := testSession(t, driver, cap)

	s.HandleMessage(raw(t, TypeSessionCreate, SessionCreatePayload{}))

	errs := rec.byType(TypeError)
	if len(errs) != 1 {
		t.Fatalf("error count = %d, want 1", len(errs))
	}
	var payload ErrorPayload
	json.Unmarshal(errs[0].Payload, &payload)
	if payload.Code != entities.CodeConfigMissing {
		t.Errorf("error code = %d, want %d", payload.Code, entities.CodeConfigMissing)
	}
	// The rejected driver must not leak its event channel.
	if got := driver.disconnectCount(); got != 1 {
		t.Errorf("disconnect count = %d, want 1", got)
	}
}

func TestNegotiationFallsBackToDefaults(t *testing.T) {
	driver := newFakeDriver()
	s, rec := testSession(t, driver, testCapability())

	var req SessionCreatePayload
	req.Audio.SampleRate = 44100 // unsupported, negotiable
	req.Audio.Encoding = "pcm16"
	req.Voice.VoiceID = "nope" // unknown, negotiable
	s.HandleMessage(raw(t, TypeSessionCreate, req))

	created := rec.waitFor(t, TypeSessionCreated)
	var payload SessionCreatedPayload
	if err := json.Unmarshal(created.Payload, &payload); err != nil {
		t.Fatalf("unmarshal created payload: %v", err)
	}
	if payload.Negotiated.SampleRate != 16000 {
		t.Errorf("negotiated sample rate = %d, want default 16000", payload.Negotiated.SampleRate)
	}
	if payload.Negotiated.VoiceID != "v1" {
		t.Errorf("negotiated voice = %q, want default v1", payload.Negotiated.VoiceID)
	}
	s.Teardown()
}

func TestSequenceGate(t *testing.T) {
	driver := newFakeDriver()
	s, rec := testSession(t, driver, testCapability())
	createSession(t, s, rec)

	for _, seq := range []int64{1, 2, 2, 1, 3} {
		s.HandleMessage(audioChunk(t, seq))
	}

	got := driver.sentSequences()
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("forwarded sequences = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("forwarded sequences = %v, want %v", got, want)
		}
	}
	s.Teardown()
}

func TestOversizedChunkErrorsAndDrops(t *testing.T) {
	driver := newFakeDriver()
	s, rec := testSession(t, driver, testCapability())
	createSession(t, s, rec)

	big := base64.StdEncoding.EncodeToString(make([]byte, 80*1024))
	s.HandleMessage(raw(t, TypeAudioInput, AudioInputPayload{Data: big, Sequence: 1}))

	if len(driver.sentSequences()) != 0 {
		t.Error("oversized chunk reached the driver")
	}
	errs := rec.byType(TypeError)
	if len(errs) != 1 {
		t.Fatalf("error count = %d, want 1", len(errs))
	}
	var payload ErrorPayload
	json.Unmarshal(errs[0].Payload, &payload)
	if payload.Code != entities.CodeProtocolError {
		t.Errorf("error code = %d, want %d", payload.Code, entities.CodeProtocolError)
	}
	if rec.closed {
		t.Error("connection closed for a single oversized chunk")
	}
	s.Teardown()
}

func TestRateLimitWarnsOnceThenCloses(t *testing.T) {
	driver := newFakeDriver()
	s, rec := testSession(t, driver, testCapability())
	createSession(t, s, rec)

	for seq := int64(1); seq <= 150; seq++ {
		s.HandleMessage(audioChunk(t, seq))
	}
	if warns := rec.byType(TypeWarning); len(warns) != 1 {
		t.Fatalf("warning count after 150 chunks = %d, want 1", len(warns))
	}
	if got := len(driver.sentSequences()); got != 100 {
		t.Errorf("forwarded chunks = %d, want 100", got)
	}
	if rec.closed {
		t.Fatal("connection closed before the hard limit")
	}

	for seq := int64(151); seq <= 200; seq++ {
		s.HandleMessage(audioChunk(t, seq))
	}
	if !rec.closed || rec.closeCode != 1008 {
		t.Errorf("close code = %d (closed=%v), want 1008 at the hard limit", rec.closeCode, rec.closed)
	}
	if warns := rec.byType(TypeWarning); len(warns) != 1 {
		t.Errorf("warning count = %d, want exactly 1", len(warns))
	}
}

func TestSessionEndDisconnectsExactlyOnce(t *testing.T) {
	driver := newFakeDriver()
	s, rec := testSession(t, driver, testCapability())
	createSession(t, s, rec)

	for seq := int64(1); seq <= 5; seq++ {
		s.HandleMessage(audioChunk(t, seq))
	}
	s.HandleMessage(raw(t, TypeSessionEnd, nil))
	s.Teardown() // transport close path races in; must stay idempotent

	if got := driver.disconnectCount(); got != 1 {
		t.Errorf("disconnect count = %d, want 1", got)
	}
	if got := len(driver.sentSequences()); got != 5 {
		t.Errorf("forwarded chunks = %d, want 5", got)
	}
}

func TestDriverEventsAreNormalized(t *testing.T) {
	driver := newFakeDriver()
	s, rec := testSession(t, driver, testCapability())
	createSession(t, s, rec)

	pcm := []byte{0x0A, 0x0B, 0x0C, 0x0D}
	driver.events <- repositories.DriverEvent{Audio: &repositories.AudioFrame{
		DataB64:  base64.StdEncoding.EncodeToString(pcm),
		Sequence: 1,
	}}
	driver.events <- repositories.DriverEvent{Transcript: &repositories.Transcription{
		Role: entities.RoleModel, Text: "hello there", Final: true,
	}}
	driver.events <- repositories.DriverEvent{Transcript: &repositories.Transcription{
		Role: entities.RoleSystem, Text: entities.TurnCompleteSentinel, Final: true,
	}}

	out := rec.waitFor(t, TypeAudioOutput)
	var audioOut AudioOutputPayload
	if err := json.Unmarshal(out.Payload, &audioOut); err != nil {
		t.Fatalf("unmarshal audio.output: %v", err)
	}
	wav, err := base64.StdEncoding.DecodeString(audioOut.Data)
	if err != nil {
		t.Fatalf("decode audio.output data: %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Errorf("output length = %d, want container header plus %d pcm bytes", len(wav), len(pcm))
	}
	if string(wav[:4]) != "RIFF" {
		t.Error("audio.output is not container-wrapped")
	}

	tr := rec.waitFor(t, TypeTranscription)
	var trPayload TranscriptionPayload
	json.Unmarshal(tr.Payload, &trPayload)
	if trPayload.Role != "model" || trPayload.Text != "hello there" {
		t.Errorf("transcription = %+v, want model/hello there", trPayload)
	}

	rec.waitFor(t, TypeTurnComplete)
	// The sentinel must never leak as transcript text.
	for _, env := range rec.byType(TypeTranscription) {
		var p TranscriptionPayload
		json.Unmarshal(env.Payload, &p)
		if p.Text == entities.TurnCompleteSentinel {
			t.Error("sentinel text leaked to the client")
		}
	}
	s.Teardown()
}

func TestDriverErrorTerminatesSession(t *testing.T) {
	driver := newFakeDriver()
	s, rec := testSession(t, driver, testCapability())
	createSession(t, s, rec)

	driver.events <- repositories.DriverEvent{Err: &repositories.DriverError{
		Code: entities.CodeUnexpectedClose, Message: "vendor went away",
	}}

	rec.waitFor(t, TypeError)
	deadline := time.After(time.Second)
	for driver.disconnectCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("driver never disconnected after error event")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestInternalErrorUsesInternalCloseCode(t *testing.T) {
	driver := newFakeDriver()
	s, rec := testSession(t, driver, testCapability())
	createSession(t, s, rec)

	driver.events <- repositories.DriverEvent{Err: &repositories.DriverError{
		Code: entities.CodeInternal, Message: "boom",
	}}

	rec.waitFor(t, TypeError)
	deadline := time.After(time.Second)
	for {
		rec.mu.Lock()
		closed, code := rec.closed, rec.closeCode
		rec.mu.Unlock()
		if closed {
			if code != 1011 {
				t.Errorf("close code = %d, want 1011", code)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("connection never closed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPingPong(t *testing.T) {
	s, rec := testSession(t, newFakeDriver(), testCapability())
	s.HandleMessage(raw(t, TypePing, nil))
	if pongs := rec.byType(TypePong); len(pongs) != 1 {
		t.Errorf("pong count = %d, want 1", len(pongs))
	}
}

func TestMalformedEnvelopeIsFatal(t *testing.T) {
	s, rec := testSession(t, newFakeDriver(), testCapability())
	s.HandleMessage([]byte("{not json"))

	errs := rec.byType(TypeError)
	if len(errs) != 1 {
		t.Fatalf("error count = %d, want 1", len(errs))
	}
	var payload ErrorPayload
	json.Unmarshal(errs[0].Payload, &payload)
	if payload.Code != entities.CodeMalformedMessage {
		t.Errorf("error code = %d, want %d", payload.Code, entities.CodeMalformedMessage)
	}
	if !rec.closed {
		t.Error("connection left open after malformed envelope")
	}
}

func TestConnectFailureTerminates(t *testing.T) {
	driver := newFakeDriver()
	driver.connectErr = fmt.Errorf("dial refused")
	s, rec := testSession(t, driver, testCapability())

	s.HandleMessage(raw(t, TypeSessionCreate, SessionCreatePayload{}))

	errs := rec.byType(TypeError)
	if len(errs) != 1 {
		t.Fatalf("error count = %d, want 1", len(errs))
	}
	var payload ErrorPayload
	json.Unmarshal(errs[0].Payload, &payload)
	if payload.Code != entities.CodeConnectFailed {
		t.Errorf("error code = %d, want %d", payload.Code, entities.CodeConnectFailed)
	}
	if created := rec.byType(TypeSessionCreated); len(created) != 0 {
		t.Error("session.created sent despite connect failure")
	}
}
