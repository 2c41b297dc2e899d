package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/MayoPickle/tofu-chillsync/internal/audit"
	"github.com/MayoPickle/tofu-chillsync/internal/domain"
	"github.com/MayoPickle/tofu-chillsync/internal/room"
	"github.com/MayoPickle/tofu-chillsync/pkg/log"
	"github.com/MayoPickle/tofu-chillsync/pkg/pubsub"
	"github.com/MayoPickle/tofu-chillsync/pkg/storage"
)

type roomService struct {
	registry *room.Registry
	blobs    storage.BlobStore
	events   *EventSink
	clean    *Sanitizer
	now      func() time.Time
}

func NewRoomService(reg *room.Registry, blobs storage.BlobStore, events *EventSink) RoomService {
	return &roomService{
		registry: reg,
		blobs:    blobs,
		events:   events,
		clean:    NewSanitizer(),
		now:      time.Now,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, req *domain.CreateRoomRequest) (*domain.CreateRoomResponse, error) {
	host := s.clean.Label(req.HostName, domain.DefaultHostName)
	name := s.clean.Label(req.RoomName, domain.DefaultRoomName)
	theme := s.clean.Label(req.RoomTheme, domain.DefaultRoomTheme)

	rs, err := s.registry.Create(host, name, theme)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	audit.LogWithDetail(ctx, audit.ActionCreateRoom, rs.ID(), "", name, "room created")
	s.events.Emit(pubsub.EventRoomCreated, rs.ID(), pubsub.RoomCreatedPayload{
		RoomID: rs.ID(), Name: name, Theme: theme, Host: host,
	})

	return &domain.CreateRoomResponse{
		RoomID:    rs.ID(),
		RoomName:  rs.Name(),
		RoomTheme: rs.Theme(),
	}, nil
}

func (s *roomService) ListRooms(ctx context.Context) (*domain.ListRoomsResponse, error) {
	rooms, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.ListRoomsResponse{Count: len(rooms), Rooms: rooms}, nil
}

func (s *roomService) GetRoom(ctx context.Context, roomID string) (*domain.RoomSnapshot, error) {
	rs, err := s.registry.Get(roomID)
	if err != nil {
		return nil, err
	}
	snap, err := rs.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// UploadVideo stores the file, points the room at it and resets playback.
// The room is checked before anything is written.
func (s *roomService) UploadVideo(ctx context.Context, roomID string, upload *Upload) (*domain.VideoInfo, error) {
	l := log.Ctx(ctx)

	rs, err := s.registry.Get(roomID)
	if err != nil {
		return nil, err
	}
	if upload == nil || upload.Body == nil {
		return nil, ErrMissingFile
	}

	key, err := s.blobKey(upload.OriginalName)
	if err != nil {
		return nil, fmt.Errorf("failed to name upload: %w", err)
	}
	if err := s.blobs.Put(ctx, key, upload.Body, upload.Size, upload.MimeType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	url, err := s.blobs.URL(ctx, key)
	if err != nil {
		s.removeBlob(ctx, key)
		return nil, fmt.Errorf("failed to resolve upload url: %w", err)
	}

	info := domain.VideoInfo{
		FileName:     key,
		OriginalName: upload.OriginalName,
		MimeType:     upload.MimeType,
		Size:         upload.Size,
		Path:         url,
	}

	prev, _, err := rs.SetVideo(ctx, info)
	if err != nil {
		s.removeBlob(ctx, key)
		return nil, err
	}
	if prev != nil && prev.FileName != key {
		s.removeBlob(ctx, prev.FileName)
	}

	audit.LogWithDetail(ctx, audit.ActionUploadVideo, roomID, "", info.OriginalName, "video uploaded")
	s.events.Emit(pubsub.EventVideoUpdated, roomID, pubsub.VideoPayload{
		RoomID:       roomID,
		FileName:     info.FileName,
		OriginalName: info.OriginalName,
		MimeType:     info.MimeType,
		Size:         info.Size,
	})
	l.Info().Str(log.FieldRoomID, roomID).Str("file_name", key).Int64("size", info.Size).Msg("video stored")

	return &info, nil
}

// blobKey builds "<unix millis>-<9 digits><ext>".
func (s *roomService) blobKey(originalName string) (string, error) {
	suffix, err := gonanoid.Generate("0123456789", 9)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), suffix, cleanExt(originalName)), nil
}

func cleanExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func (s *roomService) removeBlob(ctx context.Context, key string) {
	if err := s.blobs.Remove(ctx, key); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("file_name", key).Msg("failed to remove blob")
	}
}
