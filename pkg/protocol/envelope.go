package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Envelope is the decoded wire form of a message. Content is ciphertext or
// plaintext depending on the security policy of Type.
type Envelope struct {
	Signature []byte
	From      NodeID
	To        NodeID
	Type      MessageType
	ID        MessageID
	Timestamp uint64 // Unix seconds
	Content   []byte
}

// Size returns the exact encoded size of the envelope
func (e *Envelope) Size() int {
	return FixedHeaderSize + len(e.Signature) + len(e.Content)
}

// EncodeEnvelope lays the envelope out in wire order
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	if len(e.Content) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: content of %d bytes exceeds length field", ErrAssembly, len(e.Content))
	}

	buf := make([]byte, e.Size())
	offset := 0

	binary.BigEndian.PutUint64(buf[offset:], uint64(len(e.Signature)))
	offset += SignatureLengthSize

	offset += copy(buf[offset:], e.Signature)

	offset += copy(buf[offset:], e.From[:])
	offset += copy(buf[offset:], e.To[:])

	buf[offset] = byte(e.Type)
	offset += TypeSize

	offset += copy(buf[offset:], e.ID[:])

	binary.BigEndian.PutUint64(buf[offset:], e.Timestamp)
	offset += TimestampSize

	binary.BigEndian.PutUint32(buf[offset:], uint32(int32(len(e.Content))))
	offset += ContentLengthSize

	offset += copy(buf[offset:], e.Content)

	if offset != len(buf) {
		return nil, fmt.Errorf("%w: wrote %d bytes into buffer of %d", ErrAssembly, offset, len(buf))
	}

	return buf, nil
}

// DecodeEnvelope reads an envelope strictly in wire order. The returned
// envelope does not alias buf.
func DecodeEnvelope(buf []byte) (*Envelope, error) {
	if len(buf) < FixedHeaderSize {
		return nil, fmt.Errorf("%w: buffer of %d bytes is shorter than the fixed header", ErrFraming, len(buf))
	}

	e := &Envelope{}
	offset := 0

	sigLen := binary.BigEndian.Uint64(buf[offset:])
	offset += SignatureLengthSize

	// Fixed header must still fit after the signature
	if sigLen > uint64(len(buf)-FixedHeaderSize) {
		return nil, fmt.Errorf("%w: signature length %d exceeds buffer", ErrFraming, sigLen)
	}

	e.Signature = make([]byte, sigLen)
	offset += copy(e.Signature, buf[offset:offset+int(sigLen)])

	offset += copy(e.From[:], buf[offset:offset+NodeIDSize])
	offset += copy(e.To[:], buf[offset:offset+NodeIDSize])

	e.Type = MessageType(buf[offset])
	offset += TypeSize

	offset += copy(e.ID[:], buf[offset:offset+MessageIDSize])

	e.Timestamp = binary.BigEndian.Uint64(buf[offset:])
	offset += TimestampSize

	contentLen := int32(binary.BigEndian.Uint32(buf[offset:]))
	offset += ContentLengthSize

	remaining := len(buf) - offset
	if contentLen < 0 || int(contentLen) != remaining {
		return nil, fmt.Errorf("%w: content length should be %d, was %d", ErrFraming, contentLen, remaining)
	}

	e.Content = make([]byte, remaining)
	copy(e.Content, buf[offset:])

	return e, nil
}
