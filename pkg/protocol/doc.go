// Package protocol implements the Meshwork message envelope.
//
// Every message travels as a signed, optionally encrypted envelope:
//
//	signature length  8 bytes  uint64
//	signature         variable
//	from             64 bytes  sender NodeID
//	to               64 bytes  recipient NodeID or BroadcastNodeID
//	type              1 byte   MessageType
//	id               16 bytes  MessageID
//	timestamp         8 bytes  uint64 Unix seconds
//	content length    4 bytes  int32
//	content           variable
//
// All integers are big-endian.
//
// # Content
//
// Each MessageType carries exactly one content shape (Text, Counter,
// ChatMessage, SearchResultInfo, ...). Content is serialized as JSON and
// signed by the sender before it is encrypted.
//
// # Security policy
//
// Content is encrypted with the recipient's session key unless the type is
// part of the handshake (Auth, Hello, key exchange), local-only, or explicitly
// unencrypted (Ping, Pong, Ready, Ack). Encrypted messages are only accepted
// from trusted nodes whose signature verifies.
//
// # Lifecycle
//
// Outbound messages start as a DraftMessage and become an immutable
// SealedMessage through Seal. Inbound bytes become a SealedMessage through
// Parse.
//
//	draft := protocol.NewDraft(store, protocol.MsgTypeChatroomMessage)
//	draft.SetTo(peer)
//	draft.SetContent(protocol.ChatMessage{RoomID: "lobby", Message: "hello"})
//	sealed, err := draft.Seal()
//
//	msg, from, err := protocol.Parse(store, sealed.Bytes())
package protocol
