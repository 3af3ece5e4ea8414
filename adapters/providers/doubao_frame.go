package providers

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// Volcengine realtime frames are a packed binary envelope:
//
//	byte0 = (protocol version << 4) | header size in 4-byte words
//	byte1 = (message type << 4) | message flags
//	byte2 = (serialization << 4) | compression
//	byte3 = reserved, always 0x00
//	4-byte big-endian event id (flag-gated on decode)
//	optional 4-byte length + session id bytes
//	4-byte big-endian payload length + payload (gzip when flagged)
const (
	frameProtocolVersion = 0x1
	frameHeaderWords     = 0x1

	frameMsgFullClient  = 0x1
	frameMsgAudioClient = 0x2
	frameMsgFullServer  = 0x9
	frameMsgServerAck   = 0xB
	frameMsgServerError = 0xF

	frameFlagHasSequence = 0x1
	frameFlagLastPacket  = 0x2
	frameFlagHasEvent    = 0x4

	frameSerializationRaw  = 0x0
	frameSerializationJSON = 0x1

	frameCompressionNone = 0x0
	frameCompressionGzip = 0x1
)

// binaryFrame is the decoded form of one vendor envelope. Error frames
// populate ErrorCode/ErrorMessage instead of Payload. Truncated marks
// frames whose declared lengths exceeded the received bytes; such
// frames carry whatever fields decoded cleanly.
type binaryFrame struct {
	MsgType       byte
	Flags         byte
	Serialization byte
	Compression   byte
	EventID       uint32
	SessionID     string
	Payload       []byte
	Sequence      uint32
	ErrorCode     uint32
	ErrorMessage  string
	Truncated     bool
}

// IsLast reports whether the sender marked this frame terminal.
func (f *binaryFrame) IsLast() bool {
	return f.Flags&frameFlagLastPacket != 0
}

// encodeFrame builds one outbound envelope. The event flag is always
// set because every outbound frame carries an event id. Payload is
// gzip-compressed when compression is frameCompressionGzip.
func encodeFrame(msgType, flags, serialization, compression byte, eventID uint32, sessionID string, payload []byte) ([]byte, error) {
	body := payload
	if compression == frameCompressionGzip {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("compress payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress payload: %w", err)
		}
		body = zbuf.Bytes()
	}

	buf := bytes.NewBuffer(make([]byte, 0, 16+len(sessionID)+len(body)))
	buf.WriteByte(frameProtocolVersion<<4 | frameHeaderWords)
	buf.WriteByte(msgType<<4 | (flags | frameFlagHasEvent))
	buf.WriteByte(serialization<<4 | compression)
	buf.WriteByte(0x00)

	binary.Write(buf, binary.BigEndian, eventID)
	if sessionID != "" {
		binary.Write(buf, binary.BigEndian, uint32(len(sessionID)))
		buf.WriteString(sessionID)
	}
	binary.Write(buf, binary.BigEndian, uint32(len(body)))
	buf.Write(body)

	return buf.Bytes(), nil
}

// decodeFrame parses one inbound envelope. Decoding is deliberately
// forgiving: truncated frames return a partial result with Truncated
// set, and unknown message types return only the header fields. Only
// an undersized header or a corrupt gzip stream is a hard error.
func decodeFrame(raw []byte) (*binaryFrame, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(raw))
	}

	f := &binaryFrame{
		MsgType:       raw[1] >> 4,
		Flags:         raw[1] & 0x0F,
		Serialization: raw[2] >> 4,
		Compression:   raw[2] & 0x0F,
	}
	headerSize := int(raw[0]&0x0F) * 4
	if headerSize < 4 || headerSize > len(raw) {
		f.Truncated = true
		return f, nil
	}
	r := &frameReader{buf: raw[headerSize:]}

	switch f.MsgType {
	case frameMsgFullServer, frameMsgServerAck:
		if f.Flags&frameFlagHasSequence != 0 {
			f.Sequence = r.uint32()
		}
		if f.Flags&frameFlagHasEvent != 0 {
			f.EventID = r.uint32()
		}
		f.SessionID = string(r.lengthPrefixed())
		f.Payload = r.lengthPrefixed()
	case frameMsgServerError:
		f.ErrorCode = r.uint32()
		f.ErrorMessage = string(r.lengthPrefixed())
	default:
		// Unknown type: keep the tag, ignore the body.
		return f, nil
	}
	f.Truncated = r.truncated

	if len(f.Payload) > 0 && f.Compression == frameCompressionGzip {
		zr, err := gzip.NewReader(bytes.NewReader(f.Payload))
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		defer zr.Close()
		plain, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		f.Payload = plain
	}

	return f, nil
}

// frameReader consumes big-endian fields, flagging truncation instead
// of panicking when the declared lengths run past the buffer.
type frameReader struct {
	buf       []byte
	truncated bool
}

func (r *frameReader) uint32() uint32 {
	if len(r.buf) < 4 {
		r.truncated = true
		r.buf = nil
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[:4])
	r.buf = r.buf[4:]
	return v
}

func (r *frameReader) lengthPrefixed() []byte {
	n := int(r.uint32())
	if r.truncated {
		return nil
	}
	if n < 0 || n > len(r.buf) {
		r.truncated = true
		out := r.buf
		r.buf = nil
		return out
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}
