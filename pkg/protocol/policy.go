package protocol

import (
	"errors"
	"fmt"
)

// Encryptor encrypts content for one peer
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// Decryptor decrypts content from one peer. Implementations return an error
// wrapping ErrAuthFailed when the ciphertext was tampered with.
type Decryptor interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Signer signs content with the local node's private key
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Verifier checks a signature against one node's public key
type Verifier interface {
	Verify(data, signature []byte) error
}

// TrustStore is the read-only view of the local identity and known peers
// that messages need to sign, encrypt, decrypt and verify. Implementations
// must be safe for concurrent use.
type TrustStore interface {
	LocalNodeID() NodeID
	LocalSigner() Signer
	LocalVerifier() Verifier

	IsKnown(id NodeID) bool
	IsTrusted(id NodeID) bool

	Encryptor(id NodeID) (Encryptor, bool)
	Decryptor(id NodeID) (Decryptor, bool)
	Verifier(id NodeID) (Verifier, bool)
}

// ErrAuthFailed is wrapped by Decryptor implementations when ciphertext
// does not authenticate
var ErrAuthFailed = errors.New("message authentication failed")

var (
	// Sent before a session exists, so they cannot be encrypted
	insecureTypes = typeSet(
		MsgTypeAuth,
		MsgTypeAuthReply,
		MsgTypeHello,
		MsgTypeRequestKey,
		MsgTypeMyKey,
		MsgTypeNewSessionKey,
	)

	// Never routed past the directly connected peer
	localOnlyTypes = typeSet(
		MsgTypeTest,
	)

	unencryptedTypes = typeSet(
		MsgTypePing,
		MsgTypePong,
		MsgTypeReady,
		MsgTypeAck,
	)
)

func typeSet(types ...MessageType) (set [256]bool) {
	for _, t := range types {
		set[t] = true
	}
	return set
}

// IsInsecure reports whether t is always exchanged in plaintext
func IsInsecure(t MessageType) bool { return insecureTypes[t] }

// IsLocalOnly reports whether t must stay on the direct connection
func IsLocalOnly(t MessageType) bool { return localOnlyTypes[t] }

// IsUnencrypted reports whether t is explicitly sent without encryption
func IsUnencrypted(t MessageType) bool { return unencryptedTypes[t] }

// RequiresEncryption reports whether content of type t is encrypted on the
// wire. Anything not explicitly excluded is encrypted, unknown tags included.
func RequiresEncryption(t MessageType) bool {
	return !IsInsecure(t) && !IsLocalOnly(t) && !IsUnencrypted(t)
}

// encryptorFor selects the key used to encrypt a message for to
func encryptorFor(store TrustStore, to NodeID) (Encryptor, error) {
	if !store.IsKnown(to) {
		return nil, fmt.Errorf("%w: cannot encrypt for %s", ErrNodeNotFound, to.Short())
	}
	enc, ok := store.Encryptor(to)
	if !ok {
		return nil, fmt.Errorf("%w: no session key for %s", ErrNodeNotFound, to.Short())
	}
	return enc, nil
}

// decryptorFor selects the key used to decrypt a message. A message we sent
// ourselves (looped back via broadcast) was encrypted for its recipient, so
// the recipient's key applies.
func decryptorFor(store TrustStore, from, to NodeID) (Decryptor, error) {
	keyOwner := from
	if from == store.LocalNodeID() {
		keyOwner = to
	}

	if !store.IsKnown(keyOwner) {
		return nil, fmt.Errorf("%w: cannot decrypt message from %s", ErrNodeNotFound, keyOwner.Short())
	}
	dec, ok := store.Decryptor(keyOwner)
	if !ok {
		return nil, fmt.Errorf("%w: no session key for %s", ErrNodeNotFound, keyOwner.Short())
	}
	return dec, nil
}

// verifySignature checks signature over plaintext content. Messages from
// untrusted nodes are accepted unverified only for types that travel in
// plaintext.
func verifySignature(store TrustStore, from NodeID, t MessageType, content, signature []byte) error {
	var verifier Verifier

	switch {
	case from == store.LocalNodeID():
		verifier = store.LocalVerifier()
	case store.IsTrusted(from):
		v, ok := store.Verifier(from)
		if !ok {
			return fmt.Errorf("%w: no verification key for trusted node %s", ErrNodeNotFound, from.Short())
		}
		verifier = v
	case RequiresEncryption(t):
		return fmt.Errorf("%w: unable to verify %s from %s", ErrUntrustedSender, t, from.Short())
	default:
		return nil
	}

	if err := verifier.Verify(content, signature); err != nil {
		return fmt.Errorf("%w: %s from %s: %v", ErrInvalidSignature, t, from.Short(), err)
	}
	return nil
}
