package protocol

import "slices"

// Content is the typed payload of a message. The set of implementations is
// closed; see registry.go for which shape each message type carries.
type Content interface {
	contentShape() shape
}

// Text is the payload of message types that carry a bare string
type Text string

// Counter is the payload of Ping and Pong
type Counter uint64

// Blob is the payload of message types that carry raw bytes
type Blob []byte

// AuthInfo is exchanged while a connection is being authenticated
type AuthInfo struct {
	ProtocolVersion int    `json:"protocol_version"`
	NetworkName     string `json:"network_name"`
	NickName        string `json:"nick_name"`
}

// ChatMessage is a message posted to a chat room
type ChatMessage struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

// ChatAction announces a node joining or leaving a chat room
type ChatAction struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

// ChatInviteInfo invites a node into a chat room
type ChatInviteInfo struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
	Message  string `json:"message"`
	Password string `json:"password,omitempty"`
}

// NodeInfo describes a node and what it shares
type NodeInfo struct {
	NickName       string `json:"nick_name"`
	RealName       string `json:"real_name,omitempty"`
	Email          string `json:"email,omitempty"`
	AvatarSize     int    `json:"avatar_size"`
	DirectoryCount int    `json:"directory_count"`
	FileCount      int    `json:"file_count"`
	Bytes          int64  `json:"bytes"`
	ClientName     string `json:"client_name"`
	ClientVersion  string `json:"client_version"`
}

// ConnectionInfo names the two ends of a connection between nodes
type ConnectionInfo struct {
	SourceNodeID NodeID `json:"source_node_id"`
	DestNodeID   NodeID `json:"dest_node_id"`
}

// SharedFileListing describes one shared file
type SharedFileListing struct {
	Name        string   `json:"name"`
	FullPath    string   `json:"full_path"`
	Size        int64    `json:"size"`
	Type        string   `json:"type"`
	InfoHash    string   `json:"info_hash"`
	SHA1        string   `json:"sha1,omitempty"`
	PieceLength int      `json:"piece_length,omitempty"`
	Pieces      []string `json:"pieces,omitempty"`
}

// SharedDirectoryInfo describes a shared directory and its direct children
type SharedDirectoryInfo struct {
	Name        string              `json:"name"`
	FullPath    string              `json:"full_path"`
	Files       []SharedFileListing `json:"files,omitempty"`
	Directories []string            `json:"directories,omitempty"`
}

// SearchRequestInfo asks the network for files matching a query
type SearchRequestInfo struct {
	SearchID int32  `json:"search_id"`
	Query    string `json:"query"`
}

// SearchResultInfo answers a SearchRequestInfo with the same SearchID
type SearchResultInfo struct {
	SearchID    int32                 `json:"search_id"`
	Files       []SharedFileListing   `json:"files,omitempty"`
	Directories []SharedDirectoryInfo `json:"directories,omitempty"`
}

// RequestFileInfo asks a node to start sending a file
type RequestFileInfo struct {
	FullPath   string `json:"full_path"`
	TransferID string `json:"transfer_id"`
}

// MeshworkError reports a failure back to the sender
type MeshworkError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e MeshworkError) Error() string {
	return e.Message
}

// KeyInfo carries a node's public key in PEM form
type KeyInfo struct {
	Key  string `json:"key"`
	Info string `json:"info,omitempty"`
}

// MemoInfo is a note a node pins for the network
type MemoInfo struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	CreatedOn int64  `json:"created_on"`
}

// HelloInfo is broadcast by a node that just joined the network
type HelloInfo struct {
	KnownConnections []ConnectionInfo `json:"known_connections,omitempty"`
	KnownMemos       []MemoInfo       `json:"known_memos,omitempty"`
	KnownChatRooms   []ChatAction     `json:"known_chat_rooms,omitempty"`
}

func (Text) contentShape() shape                { return shapeText }
func (Counter) contentShape() shape             { return shapeCounter }
func (Blob) contentShape() shape                { return shapeBlob }
func (AuthInfo) contentShape() shape            { return shapeAuthInfo }
func (ChatMessage) contentShape() shape         { return shapeChatMessage }
func (ChatAction) contentShape() shape          { return shapeChatAction }
func (ChatInviteInfo) contentShape() shape      { return shapeChatInviteInfo }
func (NodeInfo) contentShape() shape            { return shapeNodeInfo }
func (ConnectionInfo) contentShape() shape      { return shapeConnectionInfo }
func (SharedFileListing) contentShape() shape   { return shapeSharedFileListing }
func (SharedDirectoryInfo) contentShape() shape { return shapeSharedDirectoryInfo }
func (SearchRequestInfo) contentShape() shape   { return shapeSearchRequestInfo }
func (SearchResultInfo) contentShape() shape    { return shapeSearchResultInfo }
func (RequestFileInfo) contentShape() shape     { return shapeRequestFileInfo }
func (MeshworkError) contentShape() shape       { return shapeMeshworkError }
func (KeyInfo) contentShape() shape             { return shapeKeyInfo }
func (MemoInfo) contentShape() shape            { return shapeMemoInfo }
func (HelloInfo) contentShape() shape           { return shapeHelloInfo }

// cloneContent returns c with every slice copied, so a sealed message does
// not share memory with the caller
func cloneContent(c Content) Content {
	switch v := c.(type) {
	case Blob:
		return slices.Clone(v)
	case SharedFileListing:
		return cloneListing(v)
	case SharedDirectoryInfo:
		return cloneDirectory(v)
	case SearchResultInfo:
		v.Files = cloneListings(v.Files)
		if v.Directories != nil {
			dirs := make([]SharedDirectoryInfo, len(v.Directories))
			for i, d := range v.Directories {
				dirs[i] = cloneDirectory(d)
			}
			v.Directories = dirs
		}
		return v
	case HelloInfo:
		v.KnownConnections = slices.Clone(v.KnownConnections)
		v.KnownMemos = slices.Clone(v.KnownMemos)
		v.KnownChatRooms = slices.Clone(v.KnownChatRooms)
		return v
	default:
		return c
	}
}

func cloneListing(l SharedFileListing) SharedFileListing {
	l.Pieces = slices.Clone(l.Pieces)
	return l
}

func cloneListings(ls []SharedFileListing) []SharedFileListing {
	if ls == nil {
		return nil
	}
	out := make([]SharedFileListing, len(ls))
	for i, l := range ls {
		out[i] = cloneListing(l)
	}
	return out
}

func cloneDirectory(d SharedDirectoryInfo) SharedDirectoryInfo {
	d.Files = cloneListings(d.Files)
	d.Directories = slices.Clone(d.Directories)
	return d
}
