package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope field widths
const (
	SignatureLengthSize = 8
	NodeIDSize          = 64
	TypeSize            = 1
	MessageIDSize       = 16
	TimestampSize       = 8
	ContentLengthSize   = 4

	// FixedHeaderSize is the size of every envelope minus signature and content
	FixedHeaderSize = SignatureLengthSize + NodeIDSize + NodeIDSize + TypeSize +
		MessageIDSize + TimestampSize + ContentLengthSize
)

// MessageType is the one-byte wire tag of a message
type MessageType uint8

// Message types
const (
	MsgTypeAuth               MessageType = 0x00
	MsgTypeAuthReply          MessageType = 0x01
	MsgTypePrivateMessage     MessageType = 0x02
	MsgTypeChatroomMessage    MessageType = 0x03
	MsgTypeMyInfo             MessageType = 0x04
	MsgTypeReady              MessageType = 0x05
	MsgTypeJoinChat           MessageType = 0x06
	MsgTypeLeaveChat          MessageType = 0x07
	MsgTypeConnectionDown     MessageType = 0x08
	MsgTypePing               MessageType = 0x09
	MsgTypePong               MessageType = 0x0A
	MsgTypeRequestDirListing  MessageType = 0x0B
	MsgTypeRespondDirListing  MessageType = 0x0C
	MsgTypeAck                MessageType = 0x0D
	MsgTypeSearchResult       MessageType = 0x0E
	MsgTypeSearchRequest      MessageType = 0x0F
	MsgTypeRequestFile        MessageType = 0x10
	MsgTypeNonCriticalError   MessageType = 0x11
	MsgTypeCriticalError      MessageType = 0x12
	MsgTypeRequestInfo        MessageType = 0x13
	MsgTypeRequestKey         MessageType = 0x14
	MsgTypeMyKey              MessageType = 0x15
	MsgTypeChatInvite         MessageType = 0x16
	MsgTypeAddMemo            MessageType = 0x18
	MsgTypeDeleteMemo         MessageType = 0x19
	MsgTypeHello              MessageType = 0x1A
	MsgTypeNewSessionKey      MessageType = 0x1B
	MsgTypeFileDetails        MessageType = 0x1C
	MsgTypeTransportConnect   MessageType = 0x1D
	MsgTypeRequestAvatar      MessageType = 0x21
	MsgTypeAvatar             MessageType = 0x22
	MsgTypeTest               MessageType = 0x23
	MsgTypeRequestFileDetails MessageType = 0x24
)

var messageTypeNames = map[MessageType]string{
	MsgTypeAuth:               "Auth",
	MsgTypeAuthReply:          "AuthReply",
	MsgTypePrivateMessage:     "PrivateMessage",
	MsgTypeChatroomMessage:    "ChatroomMessage",
	MsgTypeMyInfo:             "MyInfo",
	MsgTypeReady:              "Ready",
	MsgTypeJoinChat:           "JoinChat",
	MsgTypeLeaveChat:          "LeaveChat",
	MsgTypeConnectionDown:     "ConnectionDown",
	MsgTypePing:               "Ping",
	MsgTypePong:               "Pong",
	MsgTypeRequestDirListing:  "RequestDirListing",
	MsgTypeRespondDirListing:  "RespondDirListing",
	MsgTypeAck:                "Ack",
	MsgTypeSearchResult:       "SearchResult",
	MsgTypeSearchRequest:      "SearchRequest",
	MsgTypeRequestFile:        "RequestFile",
	MsgTypeNonCriticalError:   "NonCriticalError",
	MsgTypeCriticalError:      "CriticalError",
	MsgTypeRequestInfo:        "RequestInfo",
	MsgTypeRequestKey:         "RequestKey",
	MsgTypeMyKey:              "MyKey",
	MsgTypeChatInvite:         "ChatInvite",
	MsgTypeAddMemo:            "AddMemo",
	MsgTypeDeleteMemo:         "DeleteMemo",
	MsgTypeHello:              "Hello",
	MsgTypeNewSessionKey:      "NewSessionKey",
	MsgTypeFileDetails:        "FileDetails",
	MsgTypeTransportConnect:   "TransportConnect",
	MsgTypeRequestAvatar:      "RequestAvatar",
	MsgTypeAvatar:             "Avatar",
	MsgTypeTest:               "Test",
	MsgTypeRequestFileDetails: "RequestFileDetails",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(0x%02X)", uint8(t))
}

// Defined reports whether t is a tag of this protocol version
func (t MessageType) Defined() bool {
	return shapes[t] != shapeNone
}

// AllMessageTypes returns every defined message type in tag order
func AllMessageTypes() []MessageType {
	types := make([]MessageType, 0, len(messageTypeNames))
	for i := 0; i < len(shapes); i++ {
		if shapes[i] != shapeNone {
			types = append(types, MessageType(i))
		}
	}
	return types
}

// NodeID identifies a node on the wire (BLAKE2b-512 of its public key)
type NodeID [NodeIDSize]byte

// BroadcastNodeID is the recipient meaning "every node on the network"
var BroadcastNodeID = NodeID{}

// IsBroadcast checks if id is the broadcast sentinel
func (id NodeID) IsBroadcast() bool {
	return id == BroadcastNodeID
}

// String returns the upper-case hex form of the id
func (id NodeID) String() string {
	return strings.ToUpper(hex.EncodeToString(id[:]))
}

// Short returns the first 8 hex characters, for logs
func (id NodeID) Short() string {
	return id.String()[:8]
}

// MarshalText implements encoding.TextMarshaler
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseNodeID parses the hex form of a node id (either case)
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: node id is not hex: %v", ErrValidation, err)
	}
	if len(raw) != NodeIDSize {
		return id, fmt.Errorf("%w: node id must be %d bytes, got %d", ErrValidation, NodeIDSize, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// MessageID is the random 16-byte identifier of a message
type MessageID [MessageIDSize]byte

// GenerateMessageID generates a random (v4 UUID) message id
func GenerateMessageID() MessageID {
	return MessageID(uuid.New())
}

// MessageIDFromBytes validates and converts the binary form of a message id
func MessageIDFromBytes(b []byte) (MessageID, error) {
	var id MessageID
	if len(b) != MessageIDSize {
		return id, fmt.Errorf("%w: message id must be %d bytes, got %d", ErrValidation, MessageIDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseMessageID parses the canonical textual form of a message id
func ParseMessageID(s string) (MessageID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return MessageID{}, fmt.Errorf("%w: invalid message id %q: %v", ErrValidation, s, err)
	}
	return MessageID(u), nil
}

// String returns the canonical textual form
func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

// NowUnix returns current time in Unix seconds
func NowUnix() uint64 {
	return uint64(time.Now().Unix())
}
