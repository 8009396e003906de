package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrFraming is returned when an envelope is truncated or its content
	// length disagrees with the bytes actually present
	ErrFraming = errors.New("envelope framing error")

	// ErrAssembly is returned when an envelope cannot be laid out exactly
	ErrAssembly = errors.New("envelope assembly error")

	// ErrUnknownType is returned for tags this protocol version does not define
	ErrUnknownType = errors.New("unknown message type")

	// ErrNodeNotFound is returned when key material for a node is missing
	ErrNodeNotFound = errors.New("node not found")

	// ErrUntrustedSender is returned when an encrypted message comes from a
	// node whose signature cannot be checked against a trusted identity
	ErrUntrustedSender = fmt.Errorf("%w: sender is not trusted", ErrNodeNotFound)

	// ErrInvalidSignature is returned when content fails authentication
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrFinalized is returned when a sealed message is mutated
	ErrFinalized = errors.New("message has already been finalized")

	// ErrValidation is returned for malformed caller input
	ErrValidation = errors.New("invalid message field")

	// ErrContentMismatch is returned when content does not have the shape
	// registered for the message type
	ErrContentMismatch = fmt.Errorf("%w: content shape does not match message type", ErrValidation)
)

// IsPeerFault reports whether err indicates a malformed or hostile peer, as
// opposed to a message we simply cannot handle
func IsPeerFault(err error) bool {
	return errors.Is(err, ErrFraming) || errors.Is(err, ErrInvalidSignature)
}
