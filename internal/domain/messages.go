package domain

// WebSocket message types from client.
const (
	MsgTypeJoin            = "join"
	MsgTypePlaybackControl = "playbackControl"
	MsgTypeRequestSync     = "requestSync"
	MsgTypeChatMessage     = "chatMessage"
	MsgTypeLeave           = "leave"
	MsgTypePing            = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeRoomState      = "roomState"
	MsgTypePlaybackUpdate = "playbackUpdate"
	MsgTypeSyncPlayback   = "syncPlayback"
	MsgTypeNewChatMessage = "newChatMessage"
	MsgTypeUserJoined     = "userJoined"
	MsgTypeUserLeft       = "userLeft"
	MsgTypeHostChanged    = "hostChanged"
	MsgTypeVideoUpdated   = "videoUpdated"
	MsgTypeError          = "error"
	MsgTypePong           = "pong"
)

// MsgTypeUserNameChanged is sent by a client to rename itself and broadcast
// by the server once applied.
const MsgTypeUserNameChanged = "userNameChanged"

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNotInRoom     = "NOT_IN_ROOM"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type JoinMessage struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
	VisitorID   string `json:"visitorId"`
}

// PlaybackControlMessage leaves CurrentTime and IsPlaying nil when the
// client did not send them.
type PlaybackControlMessage struct {
	Type           string   `json:"type"`
	RoomID         string   `json:"roomId"`
	Action         string   `json:"action"`
	CurrentTime    *float64 `json:"currentTime,omitempty"`
	IsPlaying      *bool    `json:"isPlaying,omitempty"`
	WaitingForUser string   `json:"waitingForUser,omitempty"`
}

type RequestSyncMessage struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName,omitempty"`
}

type ChatMessageIn struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender,omitempty"`
	VisitorID string `json:"visitorId,omitempty"`
	Message   string `json:"message"`
}

type RenameMessage struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	NewName string `json:"newName"`
}

type LeaveMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// Server -> Client messages

// SelfInfo tells a client which identity the server bound it to.
type SelfInfo struct {
	ConnectionID string `json:"connectionId"`
	VisitorID    string `json:"visitorId"`
}

type RoomStateMessage struct {
	Type string        `json:"type"`
	Room *RoomSnapshot `json:"room"`
	Self SelfInfo      `json:"self"`
}

type PlaybackUpdateMessage struct {
	Type           string  `json:"type"`
	Action         string  `json:"action"`
	CurrentTime    float64 `json:"currentTime"`
	IsPlaying      bool    `json:"isPlaying"`
	InitiatorID    string  `json:"initiatorId"`
	WaitingForUser string  `json:"waitingForUser,omitempty"`
	Seq            uint64  `json:"seq"`
}

type SyncPlaybackMessage struct {
	Type string `json:"type"`
	PlaybackState
}

type NewChatMessage struct {
	Type string `json:"type"`
	ChatMessage
}

type UserJoinedMessage struct {
	Type string `json:"type"`
	Viewer
}

type UserLeftMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	VisitorID    string `json:"visitorId"`
	Name         string `json:"name"`
}

type UserNameChangedMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	VisitorID    string `json:"visitorId"`
	OldName      string `json:"oldName"`
	NewName      string `json:"newName"`
}

type HostChangedMessage struct {
	Type          string `json:"type"`
	HostVisitorID string `json:"hostVisitorId"`
	HostName      string `json:"hostName"`
}

type VideoUpdatedMessage struct {
	Type string `json:"type"`
	VideoInfo
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

// NewSyncPlayback wraps a state for unicast.
func NewSyncPlayback(st PlaybackState) *SyncPlaybackMessage {
	return &SyncPlaybackMessage{Type: MsgTypeSyncPlayback, PlaybackState: st}
}
