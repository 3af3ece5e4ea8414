package providers

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name          string
		msgType       byte
		flags         byte
		serialization byte
		compression   byte
		eventID       uint32
		sessionID     string
		payload       []byte
	}{
		{
			name:          "json gzip with session",
			msgType:       frameMsgFullServer,
			serialization: frameSerializationJSON,
			compression:   frameCompressionGzip,
			eventID:       150,
			sessionID:     "sess-abc-123",
			payload:       []byte(`{"type":"session.started"}`),
		},
		{
			name:          "raw audio no compression",
			msgType:       frameMsgFullServer,
			serialization: frameSerializationRaw,
			compression:   frameCompressionNone,
			eventID:       352,
			sessionID:     "s",
			payload:       bytes.Repeat([]byte{0xAB, 0xCD}, 512),
		},
		{
			name:          "last packet flag",
			msgType:       frameMsgServerAck,
			flags:         frameFlagLastPacket,
			serialization: frameSerializationRaw,
			compression:   frameCompressionGzip,
			eventID:       1,
			sessionID:     "final",
			payload:       []byte("tail"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := encodeFrame(tt.msgType, tt.flags, tt.serialization, tt.compression, tt.eventID, tt.sessionID, tt.payload)
			if err != nil {
				t.Fatalf("encodeFrame() error = %v", err)
			}

			f, err := decodeFrame(raw)
			if err != nil {
				t.Fatalf("decodeFrame() error = %v", err)
			}
			if f.Truncated {
				t.Fatal("Truncated = true for a complete frame")
			}
			if f.MsgType != tt.msgType {
				t.Errorf("MsgType = %#x, want %#x", f.MsgType, tt.msgType)
			}
			if f.Serialization != tt.serialization {
				t.Errorf("Serialization = %#x, want %#x", f.Serialization, tt.serialization)
			}
			if f.Compression != tt.compression {
				t.Errorf("Compression = %#x, want %#x", f.Compression, tt.compression)
			}
			if f.EventID != tt.eventID {
				t.Errorf("EventID = %d, want %d", f.EventID, tt.eventID)
			}
			if f.SessionID != tt.sessionID {
				t.Errorf("SessionID = %q, want %q", f.SessionID, tt.sessionID)
			}
			if !bytes.Equal(f.Payload, tt.payload) {
				t.Errorf("Payload = %v, want %v", f.Payload, tt.payload)
			}
			if tt.flags&frameFlagLastPacket != 0 && !f.IsLast() {
				t.Error("IsLast() = false, want true")
			}
		})
	}
}

func TestFrameHeaderLayout(t *testing.T) {
	raw, err := encodeFrame(frameMsgAudioClient, 0, frameSerializationRaw, frameCompressionNone, 7, "", []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("encodeFrame() error = %v", err)
	}

	if raw[0] != frameProtocolVersion<<4|frameHeaderWords {
		t.Errorf("byte0 = %#x, want %#x", raw[0], frameProtocolVersion<<4|frameHeaderWords)
	}
	if raw[1] != frameMsgAudioClient<<4|frameFlagHasEvent {
		t.Errorf("byte1 = %#x, want %#x", raw[1], frameMsgAudioClient<<4|frameFlagHasEvent)
	}
	if raw[3] != 0x00 {
		t.Errorf("reserved byte = %#x, want 0x00", raw[3])
	}
	if got := binary.BigEndian.Uint32(raw[4:8]); got != 7 {
		t.Errorf("event id = %d, want 7", got)
	}
	// No session id: payload length follows the event id directly.
	if got := binary.BigEndian.Uint32(raw[8:12]); got != 2 {
		t.Errorf("payload length = %d, want 2", got)
	}
	if !bytes.Equal(raw[12:], []byte{0x01, 0x02}) {
		t.Errorf("payload = %v, want [1 2]", raw[12:])
	}
}

func TestDecodeErrorFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(frameProtocolVersion<<4 | frameHeaderWords)
	buf.WriteByte(frameMsgServerError << 4)
	buf.WriteByte(frameSerializationRaw<<4 | frameCompressionNone)
	buf.WriteByte(0x00)
	binary.Write(&buf, binary.BigEndian, uint32(55002031))
	msg := "quota exceeded"
	binary.Write(&buf, binary.BigEndian, uint32(len(msg)))
	buf.WriteString(msg)

	f, err := decodeFrame(buf.Bytes())
	if err != nil {
		t.Fatalf("decodeFrame() error = %v", err)
	}
	if f.ErrorCode != 55002031 {
		t.Errorf("ErrorCode = %d, want 55002031", f.ErrorCode)
	}
	if f.ErrorMessage != msg {
		t.Errorf("ErrorMessage = %q, want %q", f.ErrorMessage, msg)
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	raw, err := encodeFrame(frameMsgFullServer, 0, frameSerializationRaw, frameCompressionNone, 9, "session", []byte("payload bytes"))
	if err != nil {
		t.Fatalf("encodeFrame() error = %v", err)
	}

	// Cut the frame mid-payload: declared length now exceeds the bytes.
	f, err := decodeFrame(raw[:len(raw)-5])
	if err != nil {
		t.Fatalf("decodeFrame() error = %v", err)
	}
	if !f.Truncated {
		t.Error("Truncated = false for a cut frame")
	}
	if f.EventID != 9 {
		t.Errorf("EventID = %d, want 9 (fields before the cut must survive)", f.EventID)
	}
	if f.SessionID != "session" {
		t.Errorf("SessionID = %q, want %q", f.SessionID, "session")
	}
}

func TestDecodeUnknownMsgType(t *testing.T) {
	raw := []byte{
		frameProtocolVersion<<4 | frameHeaderWords,
		0x7 << 4, // unassigned message type
		frameSerializationRaw<<4 | frameCompressionNone,
		0x00,
	}
	f, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decodeFrame() error = %v", err)
	}
	if f.MsgType != 0x7 {
		t.Errorf("MsgType = %#x, want 0x7", f.MsgType)
	}
	if f.Payload != nil {
		t.Errorf("Payload = %v, want nil for unknown type", f.Payload)
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, err := decodeFrame([]byte{0x11, 0x94}); err == nil {
		t.Error("decodeFrame(2 bytes): want error, got nil")
	}
}
