package protocol

import (
	"errors"
	"fmt"
)

// DraftMessage is an outbound message whose fields may still change. Seal
// turns it into a SealedMessage; after that every setter fails with
// ErrFinalized.
type DraftMessage struct {
	store TrustStore

	from      NodeID
	to        NodeID
	msgType   MessageType
	id        MessageID
	timestamp uint64
	content   Content

	sealed *SealedMessage
}

// SealedMessage is an immutable message backed by its exact wire bytes. It
// is produced by DraftMessage.Seal or Parse.
type SealedMessage struct {
	signature []byte
	from      NodeID
	to        NodeID
	msgType   MessageType
	id        MessageID
	timestamp uint64
	content   Content
	addressed bool

	data []byte
}

// NewDraft creates a message of type t from the local node to everyone
func NewDraft(store TrustStore, t MessageType) *DraftMessage {
	return &DraftMessage{
		store:     store,
		from:      store.LocalNodeID(),
		to:        BroadcastNodeID,
		msgType:   t,
		id:        GenerateMessageID(),
		timestamp: NowUnix(),
	}
}

// ===== DRAFT ACCESSORS =====

func (d *DraftMessage) From() NodeID      { return d.from }
func (d *DraftMessage) To() NodeID        { return d.to }
func (d *DraftMessage) Type() MessageType { return d.msgType }
func (d *DraftMessage) ID() MessageID     { return d.id }
func (d *DraftMessage) Timestamp() uint64 { return d.timestamp }
func (d *DraftMessage) Content() Content  { return d.content }
func (d *DraftMessage) IsSealed() bool    { return d.sealed != nil }

func (d *DraftMessage) checkMutable() error {
	if d.sealed != nil {
		return ErrFinalized
	}
	return nil
}

// SetFrom changes the sender; it must be a known node
func (d *DraftMessage) SetFrom(id NodeID) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	if id != d.store.LocalNodeID() && !d.store.IsKnown(id) {
		return fmt.Errorf("%w: the specified node was not found (%s)", ErrValidation, id.Short())
	}
	d.from = id
	return nil
}

// SetTo changes the recipient; it must be a known node or BroadcastNodeID
func (d *DraftMessage) SetTo(id NodeID) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	if !id.IsBroadcast() && !d.store.IsKnown(id) {
		return fmt.Errorf("%w: the specified node was not found (%s)", ErrValidation, id.Short())
	}
	d.to = id
	return nil
}

// SetType changes the message type. Content already set must still fit.
func (d *DraftMessage) SetType(t MessageType) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	if !t.Defined() {
		return fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	if d.content != nil && !Accepts(t, d.content) {
		return fmt.Errorf("%w: %T for %s", ErrContentMismatch, d.content, t)
	}
	d.msgType = t
	return nil
}

// SetMessageID replaces the id with its 16-byte binary form
func (d *DraftMessage) SetMessageID(b []byte) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	id, err := MessageIDFromBytes(b)
	if err != nil {
		return err
	}
	d.id = id
	return nil
}

// SetMessageIDString replaces the id with its canonical textual form
func (d *DraftMessage) SetMessageIDString(s string) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	id, err := ParseMessageID(s)
	if err != nil {
		return err
	}
	d.id = id
	return nil
}

// SetTimestamp sets the creation time in Unix seconds
func (d *DraftMessage) SetTimestamp(ts uint64) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	d.timestamp = ts
	return nil
}

// SetContent sets the payload; its shape must match the message type
func (d *DraftMessage) SetContent(c Content) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	if !Accepts(d.msgType, c) {
		return fmt.Errorf("%w: %T for %s", ErrContentMismatch, c, d.msgType)
	}
	d.content = c
	return nil
}

// Seal signs, encrypts when the type requires it, and encodes the message.
// Sealing twice returns the same SealedMessage. A failed Seal leaves the
// draft mutable.
func (d *DraftMessage) Seal() (*SealedMessage, error) {
	if d.sealed != nil {
		return d.sealed, nil
	}

	plaintext, err := MarshalContent(d.msgType, d.content)
	if err != nil {
		return nil, err
	}

	// Sign before encrypting
	signature, err := d.store.LocalSigner().Sign(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", d.msgType, err)
	}

	payload := plaintext
	if RequiresEncryption(d.msgType) {
		enc, err := encryptorFor(d.store, d.to)
		if err != nil {
			return nil, err
		}
		payload, err = enc.Encrypt(plaintext)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt %s: %w", d.msgType, err)
		}
	}

	data, err := EncodeEnvelope(&Envelope{
		Signature: signature,
		From:      d.from,
		To:        d.to,
		Type:      d.msgType,
		ID:        d.id,
		Timestamp: d.timestamp,
		Content:   payload,
	})
	if err != nil {
		return nil, err
	}

	d.sealed = &SealedMessage{
		signature: signature,
		from:      d.from,
		to:        d.to,
		msgType:   d.msgType,
		id:        d.id,
		timestamp: d.timestamp,
		content:   cloneContent(d.content),
		addressed: true,
		data:      data,
	}
	return d.sealed, nil
}

// Parse decodes, decrypts and verifies an inbound message. The sender is
// returned whenever the framing is valid, even if a later step fails, so
// the caller can attribute the failure. Messages addressed to another node
// are returned with no content and IsAddressed false.
func Parse(store TrustStore, data []byte) (*SealedMessage, NodeID, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, NodeID{}, err
	}

	msg := &SealedMessage{
		signature: env.Signature,
		from:      env.From,
		to:        env.To,
		msgType:   env.Type,
		id:        env.ID,
		timestamp: env.Timestamp,
		data:      append([]byte(nil), data...),
	}

	if env.To != store.LocalNodeID() && !env.To.IsBroadcast() {
		return msg, env.From, nil
	}

	if !env.Type.Defined() {
		return nil, env.From, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}

	plaintext := env.Content
	if RequiresEncryption(env.Type) {
		dec, err := decryptorFor(store, env.From, env.To)
		if err != nil {
			return nil, env.From, err
		}
		plaintext, err = dec.Decrypt(env.Content)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				return nil, env.From, fmt.Errorf("%w: %s from %s: %v", ErrInvalidSignature, env.Type, env.From.Short(), err)
			}
			return nil, env.From, fmt.Errorf("failed to decrypt %s: %w", env.Type, err)
		}
	}

	if err := verifySignature(store, env.From, env.Type, plaintext, env.Signature); err != nil {
		return nil, env.From, err
	}

	content, err := UnmarshalContent(env.Type, plaintext)
	if err != nil {
		return nil, env.From, err
	}

	msg.content = content
	msg.addressed = true
	return msg, env.From, nil
}

// ===== SEALED ACCESSORS =====

func (m *SealedMessage) From() NodeID      { return m.from }
func (m *SealedMessage) To() NodeID        { return m.to }
func (m *SealedMessage) Type() MessageType { return m.msgType }
func (m *SealedMessage) ID() MessageID     { return m.id }
func (m *SealedMessage) Timestamp() uint64 { return m.timestamp }

// Content returns a copy of the decoded payload, or nil when the message
// was not addressed to the local node
func (m *SealedMessage) Content() Content { return cloneContent(m.content) }

// IsAddressed reports whether the message was for the local node (or
// broadcast) and its content was therefore decoded
func (m *SealedMessage) IsAddressed() bool { return m.addressed }

// Signature returns a copy of the signature
func (m *SealedMessage) Signature() []byte {
	return append([]byte(nil), m.signature...)
}

// Bytes returns a copy of the exact wire bytes
func (m *SealedMessage) Bytes() []byte {
	return append([]byte(nil), m.data...)
}

// Size returns the wire size in bytes
func (m *SealedMessage) Size() int { return len(m.data) }
