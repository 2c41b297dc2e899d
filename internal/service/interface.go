package service

import (
	"context"
	"io"

	"github.com/MayoPickle/tofu-chillsync/internal/domain"
	"github.com/MayoPickle/tofu-chillsync/internal/hub"
)

// SyncService handles the WebSocket synchronization protocol.
type SyncService interface {
	HandleJoin(ctx context.Context, client *hub.Client, msg *domain.JoinMessage) error
	HandlePlaybackControl(ctx context.Context, client *hub.Client, msg *domain.PlaybackControlMessage) error
	HandleRequestSync(ctx context.Context, client *hub.Client, msg *domain.RequestSyncMessage) error
	HandleChatMessage(ctx context.Context, client *hub.Client, msg *domain.ChatMessageIn) error
	HandleRename(ctx context.Context, client *hub.Client, msg *domain.RenameMessage) error
	HandleLeave(ctx context.Context, client *hub.Client, msg *domain.LeaveMessage) error
	HandleDisconnect(ctx context.Context, client *hub.Client) error
}

// Upload is a video file received over HTTP.
type Upload struct {
	OriginalName string
	MimeType     string
	Size         int64
	Body         io.Reader
}

// RoomService backs the HTTP room admin surface.
type RoomService interface {
	CreateRoom(ctx context.Context, req *domain.CreateRoomRequest) (*domain.CreateRoomResponse, error)
	ListRooms(ctx context.Context) (*domain.ListRoomsResponse, error)
	GetRoom(ctx context.Context, roomID string) (*domain.RoomSnapshot, error)
	UploadVideo(ctx context.Context, roomID string, upload *Upload) (*domain.VideoInfo, error)
}
