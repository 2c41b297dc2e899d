package domain

import "time"

// Playback actions accepted in playbackControl.
const (
	ActionPlay       = "play"
	ActionPause      = "pause"
	ActionSeek       = "seek"
	ActionTimeUpdate = "timeupdate"
)

// ValidAction reports whether a is a known playback action.
func ValidAction(a string) bool {
	switch a {
	case ActionPlay, ActionPause, ActionSeek, ActionTimeUpdate:
		return true
	}
	return false
}

// Room creation defaults.
const (
	DefaultHostName  = "Anonymous"
	DefaultRoomName  = "Untitled Planet"
	DefaultRoomTheme = "General"
)

// PlaybackState is the room's shared notion of position and play/pause.
type PlaybackState struct {
	IsPlaying      bool      `json:"isPlaying"`
	CurrentTime    float64   `json:"currentTime"`
	LastUpdated    time.Time `json:"lastUpdated"`
	WaitingForUser string    `json:"waitingForUser,omitempty"`
	Seq            uint64    `json:"seq"`
}

// Viewer is a participant. ConnectionID is the most recently bound connection.
type Viewer struct {
	ConnectionID string    `json:"connectionId"`
	VisitorID    string    `json:"visitorId"`
	Name         string    `json:"name"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// ChatMessage is one chat history entry.
type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	VisitorID string    `json:"visitorId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	IsSystem  bool      `json:"isSystem"`
}

// VideoInfo describes the blob a room is watching.
type VideoInfo struct {
	FileName     string `json:"fileName"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	Path         string `json:"path"`
}

// RoomSnapshot is a point-in-time copy of a room, safe to serialize.
type RoomSnapshot struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Theme         string        `json:"theme"`
	Host          string        `json:"host"`
	HostVisitorID string        `json:"hostVisitorId,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	VideoInfo     *VideoInfo    `json:"videoInfo,omitempty"`
	PlaybackState PlaybackState `json:"playbackState"`
	Users         []Viewer      `json:"users"`
	ChatHistory   []ChatMessage `json:"chatHistory"`
}

// RoomSummary is the listing view of a room.
type RoomSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Theme       string    `json:"theme"`
	Host        string    `json:"host"`
	CreatedAt   time.Time `json:"createdAt"`
	ViewerCount int       `json:"viewerCount"`
	HasVideo    bool      `json:"hasVideo"`
}

// CreateRoomRequest is the body of POST /api/rooms.
type CreateRoomRequest struct {
	HostName  string `json:"hostName"`
	RoomName  string `json:"roomName"`
	RoomTheme string `json:"roomTheme"`
}

// ApplyDefaults fills empty fields.
func (r *CreateRoomRequest) ApplyDefaults() {
	if r.HostName == "" {
		r.HostName = DefaultHostName
	}
	if r.RoomName == "" {
		r.RoomName = DefaultRoomName
	}
	if r.RoomTheme == "" {
		r.RoomTheme = DefaultRoomTheme
	}
}

// CreateRoomResponse is returned by POST /api/rooms.
type CreateRoomResponse struct {
	RoomID    string `json:"roomId"`
	RoomName  string `json:"roomName"`
	RoomTheme string `json:"roomTheme"`
}

// ListRoomsResponse is returned by GET /api/rooms.
type ListRoomsResponse struct {
	Count int           `json:"count"`
	Rooms []RoomSummary `json:"rooms"`
}
