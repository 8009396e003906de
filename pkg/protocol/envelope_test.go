package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func testEnvelope() *Envelope {
	e := &Envelope{
		Signature: []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01},
		Type:      MsgTypeChatroomMessage,
		ID:        GenerateMessageID(),
		Timestamp: 1700000000,
		Content:   []byte(`{"room_id":"lobby","message":"hello"}`),
	}
	for i := range e.From {
		e.From[i] = byte(i)
		e.To[i] = byte(0xFF - i)
	}
	return e
}

func TestEnvelopeEncodeDecode(t *testing.T) {
	tests := []struct {
		name     string
		envelope *Envelope
	}{
		{name: "chat message", envelope: testEnvelope()},
		{
			name: "empty signature and content",
			envelope: &Envelope{
				Type:      MsgTypePing,
				ID:        GenerateMessageID(),
				Timestamp: math.MaxUint64,
			},
		},
		{
			name: "broadcast with large content",
			envelope: &Envelope{
				Signature: bytes.Repeat([]byte{0xAB}, 256),
				Type:      MsgTypeSearchResult,
				ID:        GenerateMessageID(),
				Content:   bytes.Repeat([]byte{0x42}, 70000),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeEnvelope(tt.envelope)
			if err != nil {
				t.Fatalf("EncodeEnvelope() error = %v", err)
			}

			if len(encoded) != tt.envelope.Size() {
				t.Errorf("EncodeEnvelope() length = %d, want %d", len(encoded), tt.envelope.Size())
			}

			decoded, err := DecodeEnvelope(encoded)
			if err != nil {
				t.Fatalf("DecodeEnvelope() error = %v", err)
			}

			if !bytes.Equal(decoded.Signature, tt.envelope.Signature) {
				t.Errorf("Signature = %x, want %x", decoded.Signature, tt.envelope.Signature)
			}
			if decoded.From != tt.envelope.From {
				t.Errorf("From mismatch")
			}
			if decoded.To != tt.envelope.To {
				t.Errorf("To mismatch")
			}
			if decoded.Type != tt.envelope.Type {
				t.Errorf("Type = %s, want %s", decoded.Type, tt.envelope.Type)
			}
			if decoded.ID != tt.envelope.ID {
				t.Errorf("ID = %s, want %s", decoded.ID, tt.envelope.ID)
			}
			if decoded.Timestamp != tt.envelope.Timestamp {
				t.Errorf("Timestamp = %d, want %d", decoded.Timestamp, tt.envelope.Timestamp)
			}
			if !bytes.Equal(decoded.Content, tt.envelope.Content) {
				t.Errorf("Content mismatch")
			}
		})
	}
}

func TestEnvelopeWireLayout(t *testing.T) {
	e := testEnvelope()
	buf, err := EncodeEnvelope(e)
	if err != nil {
		t.Fatalf("EncodeEnvelope() error = %v", err)
	}

	sigLen := len(e.Signature)
	offset := 0

	if got := binary.BigEndian.Uint64(buf[offset:]); got != uint64(sigLen) {
		t.Errorf("signature length = %d, want %d", got, sigLen)
	}
	offset += 8

	if !bytes.Equal(buf[offset:offset+sigLen], e.Signature) {
		t.Errorf("signature bytes mismatch")
	}
	offset += sigLen

	if !bytes.Equal(buf[offset:offset+64], e.From[:]) {
		t.Errorf("from bytes mismatch")
	}
	offset += 64

	if !bytes.Equal(buf[offset:offset+64], e.To[:]) {
		t.Errorf("to bytes mismatch")
	}
	offset += 64

	if buf[offset] != 0x03 {
		t.Errorf("type byte = 0x%02X, want 0x03", buf[offset])
	}
	offset++

	if !bytes.Equal(buf[offset:offset+16], e.ID[:]) {
		t.Errorf("id bytes mismatch")
	}
	offset += 16

	if got := binary.BigEndian.Uint64(buf[offset:]); got != e.Timestamp {
		t.Errorf("timestamp = %d, want %d", got, e.Timestamp)
	}
	offset += 8

	if got := int32(binary.BigEndian.Uint32(buf[offset:])); got != int32(len(e.Content)) {
		t.Errorf("content length = %d, want %d", got, len(e.Content))
	}
	offset += 4

	if !bytes.Equal(buf[offset:], e.Content) {
		t.Errorf("content bytes mismatch")
	}

	if FixedHeaderSize != 165 {
		t.Errorf("FixedHeaderSize = %d, want 165", FixedHeaderSize)
	}
}

func TestDecodeEnvelopeTruncated(t *testing.T) {
	buf, err := EncodeEnvelope(testEnvelope())
	if err != nil {
		t.Fatalf("EncodeEnvelope() error = %v", err)
	}

	for n := 1; n <= len(buf); n++ {
		_, err := DecodeEnvelope(buf[:len(buf)-n])
		if !errors.Is(err, ErrFraming) {
			t.Fatalf("DecodeEnvelope(truncated by %d) error = %v, want ErrFraming", n, err)
		}
	}
}

func TestDecodeEnvelopeTrailingBytes(t *testing.T) {
	buf, _ := EncodeEnvelope(testEnvelope())
	buf = append(buf, 0x00)

	if _, err := DecodeEnvelope(buf); !errors.Is(err, ErrFraming) {
		t.Errorf("DecodeEnvelope() error = %v, want ErrFraming", err)
	}
}

func TestDecodeEnvelopeHostileLengths(t *testing.T) {
	e := testEnvelope()
	buf, _ := EncodeEnvelope(e)

	tests := []struct {
		name   string
		mutate func(b []byte)
	}{
		{
			name: "signature length beyond buffer",
			mutate: func(b []byte) {
				binary.BigEndian.PutUint64(b, uint64(len(b)))
			},
		},
		{
			name: "signature length overflows int",
			mutate: func(b []byte) {
				binary.BigEndian.PutUint64(b, math.MaxUint64)
			},
		},
		{
			name: "negative content length",
			mutate: func(b []byte) {
				pos := FixedHeaderSize + len(e.Signature) - ContentLengthSize
				binary.BigEndian.PutUint32(b[pos:], 0xFFFFFFFF)
			},
		},
		{
			name: "content length too small",
			mutate: func(b []byte) {
				pos := FixedHeaderSize + len(e.Signature) - ContentLengthSize
				binary.BigEndian.PutUint32(b[pos:], uint32(len(e.Content)-1))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hostile := append([]byte(nil), buf...)
			tt.mutate(hostile)

			if _, err := DecodeEnvelope(hostile); !errors.Is(err, ErrFraming) {
				t.Errorf("DecodeEnvelope() error = %v, want ErrFraming", err)
			}
		})
	}
}

func TestDecodeEnvelopeDoesNotAlias(t *testing.T) {
	buf, _ := EncodeEnvelope(testEnvelope())
	decoded, err := DecodeEnvelope(buf)
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}

	for i := range buf {
		buf[i] = 0
	}

	if decoded.Signature[0] != 0xDE || decoded.Content[0] != '{' {
		t.Errorf("decoded envelope aliases input buffer")
	}
}
