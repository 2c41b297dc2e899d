package service

import (
	"context"
	"errors"
	"time"

	"github.com/MayoPickle/tofu-chillsync/internal/audit"
	"github.com/MayoPickle/tofu-chillsync/internal/domain"
	"github.com/MayoPickle/tofu-chillsync/internal/hub"
	"github.com/MayoPickle/tofu-chillsync/internal/room"
	"github.com/MayoPickle/tofu-chillsync/pkg/log"
	"github.com/MayoPickle/tofu-chillsync/pkg/pubsub"
)

type syncService struct {
	hub      *hub.Hub
	registry *room.Registry
	events   *EventSink
	clean    *Sanitizer
}

func NewSyncService(h *hub.Hub, reg *room.Registry, events *EventSink) SyncService {
	return &syncService{
		hub:      h,
		registry: reg,
		events:   events,
		clean:    NewSanitizer(),
	}
}

// fail reports err to the requesting client only and returns it.
func (s *syncService) fail(c *hub.Client, err error) error {
	if sendErr := c.SendMessage(domain.NewErrorMessage(errorCode(err), errorText(err))); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	return err
}

// resolveRoom picks the room a message targets: the one it names, or the
// client's current room.
func (s *syncService) resolveRoom(c *hub.Client, roomID string) (*room.Session, error) {
	if roomID == "" {
		roomID = c.Session.GetCurrentRoom()
	}
	if roomID == "" {
		return nil, room.ErrNotInRoom
	}
	return s.registry.Get(roomID)
}

func (s *syncService) HandleJoin(ctx context.Context, c *hub.Client, msg *domain.JoinMessage) error {
	rs, err := s.registry.Get(msg.RoomID)
	if err != nil {
		return s.fail(c, err)
	}

	// Leave current room if any
	if current := c.Session.GetCurrentRoom(); current != "" && current != msg.RoomID {
		s.leave(ctx, c, current)
	}

	name := s.clean.Name(msg.DisplayName)
	s.hub.JoinRoom(c, rs.ID())

	res, err := rs.Join(ctx, c.ID, msg.VisitorID, name)
	if err != nil {
		s.hub.LeaveRoom(c, rs.ID())
		return s.fail(c, err)
	}
	c.Session.JoinRoom(rs.ID(), res.Viewer.VisitorID, res.Viewer.Name)

	v := res.Viewer
	switch {
	case !res.Rebound:
		audit.LogWithDetail(ctx, audit.ActionJoin, rs.ID(), v.VisitorID, v.Name, "viewer joined")
		s.events.Emit(pubsub.EventViewerJoined, rs.ID(), pubsub.ViewerPayload{
			RoomID: rs.ID(), ConnectionID: c.ID, VisitorID: v.VisitorID, Name: v.Name,
		})
	case res.OldName != "":
		audit.LogWithDetail(ctx, audit.ActionRejoin, rs.ID(), v.VisitorID, v.Name, "viewer rejoined under a new name")
		s.events.Emit(pubsub.EventViewerRenamed, rs.ID(), pubsub.ViewerPayload{
			RoomID: rs.ID(), ConnectionID: c.ID, VisitorID: v.VisitorID, Name: v.Name, OldName: res.OldName,
		})
	default:
		audit.Log(ctx, audit.ActionRejoin, rs.ID(), v.VisitorID, "viewer rejoined")
	}
	return nil
}

func (s *syncService) HandlePlaybackControl(ctx context.Context, c *hub.Client, msg *domain.PlaybackControlMessage) error {
	rs, err := s.resolveRoom(c, msg.RoomID)
	if err != nil {
		return s.fail(c, err)
	}

	st, err := rs.ApplyPlaybackControl(ctx, room.PlaybackCommand{
		ConnectionID:   c.ID,
		Action:         msg.Action,
		CurrentTime:    msg.CurrentTime,
		IsPlaying:      msg.IsPlaying,
		WaitingForUser: s.waitingName(msg.WaitingForUser),
	})
	if err != nil {
		return s.fail(c, err)
	}

	l := log.Ctx(ctx)
	l.Debug().
		Str(log.FieldRoomID, rs.ID()).
		Str(log.FieldAction, msg.Action).
		Float64("current_time", st.CurrentTime).
		Bool("is_playing", st.IsPlaying).
		Uint64("seq", st.Seq).
		Msg("playback updated")

	s.events.Emit(pubsub.EventPlaybackChanged, rs.ID(), pubsub.PlaybackPayload{
		RoomID:      rs.ID(),
		Action:      msg.Action,
		CurrentTime: st.CurrentTime,
		IsPlaying:   st.IsPlaying,
		Seq:         st.Seq,
		InitiatorID: c.ID,
	})
	return nil
}

func (s *syncService) waitingName(name string) string {
	if name == "" {
		return ""
	}
	return s.clean.Name(name)
}

func (s *syncService) HandleRequestSync(ctx context.Context, c *hub.Client, msg *domain.RequestSyncMessage) error {
	rs, err := s.resolveRoom(c, msg.RoomID)
	if err != nil {
		return s.fail(c, err)
	}
	if _, err := rs.RequestSync(ctx, c.ID); err != nil {
		return s.fail(c, err)
	}
	return nil
}

func (s *syncService) HandleChatMessage(ctx context.Context, c *hub.Client, msg *domain.ChatMessageIn) error {
	rs, err := s.resolveRoom(c, msg.RoomID)
	if err != nil {
		return s.fail(c, err)
	}

	text := s.clean.Chat(msg.Message)
	if text == "" {
		return s.fail(c, ErrEmptyMessage)
	}

	chat, err := rs.PostChatMessage(ctx, c.ID, msg.Sender, msg.VisitorID, text)
	if err != nil {
		return s.fail(c, err)
	}

	s.events.Emit(pubsub.EventChatMessage, rs.ID(), pubsub.ChatPayload{
		RoomID:    rs.ID(),
		MessageID: chat.ID,
		Sender:    chat.Sender,
		VisitorID: chat.VisitorID,
		Text:      chat.Message,
	})
	return nil
}

func (s *syncService) HandleRename(ctx context.Context, c *hub.Client, msg *domain.RenameMessage) error {
	rs, err := s.resolveRoom(c, msg.RoomID)
	if err != nil {
		return s.fail(c, err)
	}

	name := s.clean.Name(msg.NewName)
	v, old, err := rs.Rename(ctx, c.ID, name)
	if err != nil {
		return s.fail(c, err)
	}
	c.Session.Rename(v.Name)
	if old == v.Name {
		return nil
	}

	audit.LogWithDetail(ctx, audit.ActionRename, rs.ID(), v.VisitorID, old+" -> "+v.Name, "viewer renamed")
	s.events.Emit(pubsub.EventViewerRenamed, rs.ID(), pubsub.ViewerPayload{
		RoomID: rs.ID(), ConnectionID: c.ID, VisitorID: v.VisitorID, Name: v.Name, OldName: old,
	})
	return nil
}

func (s *syncService) HandleLeave(ctx context.Context, c *hub.Client, msg *domain.LeaveMessage) error {
	current := c.Session.GetCurrentRoom()
	if current == "" || (msg.RoomID != "" && msg.RoomID != current) {
		return nil
	}
	s.leave(ctx, c, current)
	return nil
}

func (s *syncService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	l := log.Ctx(ctx)
	l.Debug().
		Str(log.FieldVisitorID, c.Session.GetVisitorID()).
		Str(log.FieldViewerName, c.Session.GetDisplayName()).
		Dur("idle", c.Session.IdleFor(time.Now())).
		Msg("connection closed")

	if !c.Session.IsInRoom() {
		return nil
	}
	s.leave(ctx, c, c.Session.GetCurrentRoom())
	return nil
}

func (s *syncService) leave(ctx context.Context, c *hub.Client, roomID string) {
	s.hub.LeaveRoom(c, roomID)
	c.Session.LeaveRoom()

	rs, err := s.registry.Get(roomID)
	if err != nil {
		return
	}
	res, err := rs.Leave(ctx, c.ID)
	if err != nil {
		if !errors.Is(err, room.ErrNotInRoom) {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to leave room")
		}
		return
	}
	if !res.Removed {
		return
	}

	v := res.Viewer
	audit.LogWithDetail(ctx, audit.ActionLeave, roomID, v.VisitorID, v.Name, "viewer left")
	s.events.Emit(pubsub.EventViewerLeft, roomID, pubsub.ViewerPayload{
		RoomID: roomID, ConnectionID: c.ID, VisitorID: v.VisitorID, Name: v.Name,
	})
	if res.NewHost != nil {
		l := log.Ctx(ctx)
		l.Info().
			Str(log.FieldRoomID, roomID).
			Str(log.FieldVisitorID, res.NewHost.VisitorID).
			Msg("host promoted")
	}
}
