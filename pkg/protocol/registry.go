package protocol

import (
	"encoding/json"
	"fmt"
)

// shape identifies the Go type a message type's content decodes into
type shape uint8

const (
	shapeNone shape = iota
	shapeText
	shapeCounter
	shapeBlob
	shapeAuthInfo
	shapeChatMessage
	shapeChatAction
	shapeChatInviteInfo
	shapeNodeInfo
	shapeConnectionInfo
	shapeSharedFileListing
	shapeSharedDirectoryInfo
	shapeSearchRequestInfo
	shapeSearchResultInfo
	shapeRequestFileInfo
	shapeMeshworkError
	shapeKeyInfo
	shapeMemoInfo
	shapeHelloInfo
	shapeCount
)

// shapes maps every wire tag to its content shape. Tags left at shapeNone
// are not defined by this protocol version.
var shapes = [256]shape{
	MsgTypeAuth:               shapeAuthInfo,
	MsgTypeAuthReply:          shapeAuthInfo,
	MsgTypePrivateMessage:     shapeText,
	MsgTypeChatroomMessage:    shapeChatMessage,
	MsgTypeMyInfo:             shapeNodeInfo,
	MsgTypeReady:              shapeText,
	MsgTypeJoinChat:           shapeChatAction,
	MsgTypeLeaveChat:          shapeChatAction,
	MsgTypeConnectionDown:     shapeConnectionInfo,
	MsgTypePing:               shapeCounter,
	MsgTypePong:               shapeCounter,
	MsgTypeRequestDirListing:  shapeText,
	MsgTypeRespondDirListing:  shapeSharedDirectoryInfo,
	MsgTypeAck:                shapeText,
	MsgTypeSearchResult:       shapeSearchResultInfo,
	MsgTypeSearchRequest:      shapeSearchRequestInfo,
	MsgTypeRequestFile:        shapeRequestFileInfo,
	MsgTypeNonCriticalError:   shapeMeshworkError,
	MsgTypeCriticalError:      shapeMeshworkError,
	MsgTypeRequestInfo:        shapeText,
	MsgTypeRequestKey:         shapeText,
	MsgTypeMyKey:              shapeKeyInfo,
	MsgTypeChatInvite:         shapeChatInviteInfo,
	MsgTypeAddMemo:            shapeMemoInfo,
	MsgTypeDeleteMemo:         shapeText,
	MsgTypeHello:              shapeHelloInfo,
	MsgTypeNewSessionKey:      shapeBlob,
	MsgTypeFileDetails:        shapeSharedFileListing,
	MsgTypeTransportConnect:   shapeText,
	MsgTypeRequestAvatar:      shapeText,
	MsgTypeAvatar:             shapeBlob,
	MsgTypeTest:               shapeText,
	MsgTypeRequestFileDetails: shapeText,
}

// decoders is indexed by shape
var decoders = [shapeCount]func([]byte) (Content, error){
	shapeNone:                nil,
	shapeText:                decodeAs[Text],
	shapeCounter:             decodeAs[Counter],
	shapeBlob:                decodeAs[Blob],
	shapeAuthInfo:            decodeAs[AuthInfo],
	shapeChatMessage:         decodeAs[ChatMessage],
	shapeChatAction:          decodeAs[ChatAction],
	shapeChatInviteInfo:      decodeAs[ChatInviteInfo],
	shapeNodeInfo:            decodeAs[NodeInfo],
	shapeConnectionInfo:      decodeAs[ConnectionInfo],
	shapeSharedFileListing:   decodeAs[SharedFileListing],
	shapeSharedDirectoryInfo: decodeAs[SharedDirectoryInfo],
	shapeSearchRequestInfo:   decodeAs[SearchRequestInfo],
	shapeSearchResultInfo:    decodeAs[SearchResultInfo],
	shapeRequestFileInfo:     decodeAs[RequestFileInfo],
	shapeMeshworkError:       decodeAs[MeshworkError],
	shapeKeyInfo:             decodeAs[KeyInfo],
	shapeMemoInfo:            decodeAs[MemoInfo],
	shapeHelloInfo:           decodeAs[HelloInfo],
}

func decodeAs[T Content](data []byte) (Content, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ContentFor returns the zero value of the content shape carried by t
func ContentFor(t MessageType) (Content, error) {
	if !t.Defined() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return decoders[shapes[t]]([]byte("null"))
}

// Accepts reports whether c has the content shape registered for t
func Accepts(t MessageType, c Content) bool {
	return c != nil && t.Defined() && c.contentShape() == shapes[t]
}

// MarshalContent serializes c as the payload of a message of type t
func MarshalContent(t MessageType, c Content) ([]byte, error) {
	if !t.Defined() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	if !Accepts(t, c) {
		return nil, fmt.Errorf("%w: %T for %s", ErrContentMismatch, c, t)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s content: %w", t, err)
	}
	return data, nil
}

// UnmarshalContent decodes the plaintext payload of a message of type t
func UnmarshalContent(t MessageType, data []byte) (Content, error) {
	if !t.Defined() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}

	c, err := decoders[shapes[t]](data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize %s content: %w", t, err)
	}
	return c, nil
}
