package room

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"io"
	"math"
	"runtime/debug"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/oklog/ulid/v2"

	"github.com/MayoPickle/tofu-chillsync/internal/domain"
	"github.com/MayoPickle/tofu-chillsync/internal/identity"
	"github.com/MayoPickle/tofu-chillsync/pkg/log"
)

const systemSender = "System"

// Broadcaster delivers server messages to the connections of a room.
// Implementations must deliver in call order.
type Broadcaster interface {
	BroadcastToRoom(roomID string, message interface{}, exclude string) error
	SendToConnection(connectionID string, message interface{}) error
}

// PlaybackCommand is one playbackControl request. Nil pointers mean the
// client did not send the field.
type PlaybackCommand struct {
	ConnectionID   string
	Action         string
	CurrentTime    *float64
	IsPlaying      *bool
	WaitingForUser string
}

// JoinResult is returned to the joining connection.
type JoinResult struct {
	Snapshot domain.RoomSnapshot
	Viewer   domain.Viewer
	Rebound  bool
	OldName  string
}

// LeaveResult reports whether the viewer actually left.
type LeaveResult struct {
	Viewer  domain.Viewer
	Removed bool
	NewHost *domain.Viewer
}

// Session is the authoritative state of one room. Every mutation runs on the
// session's own goroutine in arrival order; the exported methods enqueue a
// command and wait for it.
type Session struct {
	id        string
	name      string
	theme     string
	host      string
	createdAt time.Time

	clock           clock.Clock
	bc              Broadcaster
	hostOnlyControl bool

	// owned by loop
	roster      *identity.Reconciler
	playback    domain.PlaybackState
	video       *domain.VideoInfo
	chat        *chatHistory
	hostVisitor string
	entropy     io.Reader

	commands chan func()
	closing  chan struct{}
	stopped  chan struct{}
}

func newSession(id, hostName, name, theme string, bc Broadcaster, opts Options) *Session {
	s := &Session{
		id:              id,
		name:            name,
		theme:           theme,
		host:            hostName,
		clock:           opts.Clock,
		bc:              bc,
		hostOnlyControl: opts.HostOnlyControl,
		roster:          identity.NewReconciler(),
		chat:            newChatHistory(opts.ChatHistoryLimit),
		entropy:         ulid.Monotonic(crand.Reader, 0),
		commands:        make(chan func(), 256),
		closing:         make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	s.createdAt = s.clock.Now().UTC()
	s.playback.LastUpdated = s.createdAt
	go s.loop()
	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Name() string         { return s.name }
func (s *Session) Theme() string        { return s.theme }
func (s *Session) Host() string         { return s.host }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.commands:
			s.run(fn)
		case <-s.closing:
			return
		}
	}
}

// run keeps one bad command from taking the room down.
func (s *Session) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l := log.L()
			l.Error().
				Str(log.FieldRoomID, s.id).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("room command panicked")
		}
	}()
	fn()
}

// do runs fn on the loop and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	cmd := func() {
		defer close(done)
		fn()
	}

	select {
	case s.commands <- cmd:
	case <-s.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-s.stopped:
		// the loop may have run cmd just before stopping
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Close stops the loop. Pending callers get ErrClosed.
func (s *Session) Close() {
	select {
	case <-s.closing:
	default:
		close(s.closing)
	}
	<-s.stopped
}

// Join registers connectionID for visitorID, or rebinds it when the visitor is
// already present. The room snapshot is sent to the joining connection.
func (s *Session) Join(ctx context.Context, connectionID, visitorID, displayName string) (JoinResult, error) {
	var res JoinResult
	err := s.do(ctx, func() {
		vid := visitorID
		if vid == "" {
			vid = connectionID
		}
		if v, ok := s.roster.Lookup(connectionID); ok && v.VisitorID != vid {
			s.leaveLocked(connectionID)
		}

		jr := s.roster.Join(connectionID, visitorID, displayName, s.clock.Now().UTC())
		res.Viewer = jr.Viewer
		res.Rebound = jr.Rebound

		switch {
		case !jr.Rebound:
			if s.hostVisitor == "" {
				s.hostVisitor = jr.Viewer.VisitorID
			}
			s.broadcast(&domain.UserJoinedMessage{Type: domain.MsgTypeUserJoined, Viewer: jr.Viewer}, connectionID)
			s.postSystem(fmt.Sprintf("%s joined the room", jr.Viewer.Name), connectionID)
		case jr.Renamed():
			res.OldName = jr.OldName
			s.broadcastRename(jr.Viewer, jr.OldName, connectionID)
		}

		res.Snapshot = s.snapshot()
		s.send(connectionID, &domain.RoomStateMessage{
			Type: domain.MsgTypeRoomState,
			Room: &res.Snapshot,
			Self: domain.SelfInfo{ConnectionID: connectionID, VisitorID: jr.Viewer.VisitorID},
		})
	})
	return res, err
}

// Leave unbinds connectionID. The viewer stays while another connection
// shares its visitor id.
func (s *Session) Leave(ctx context.Context, connectionID string) (LeaveResult, error) {
	var res LeaveResult
	var opErr error
	err := s.do(ctx, func() {
		res, opErr = s.leaveLocked(connectionID)
	})
	if err != nil {
		return res, err
	}
	return res, opErr
}

func (s *Session) leaveLocked(connectionID string) (LeaveResult, error) {
	lr, err := s.roster.Leave(connectionID)
	if err != nil {
		return LeaveResult{}, ErrNotInRoom
	}
	res := LeaveResult{Viewer: lr.Viewer, Removed: lr.Removed}
	if !lr.Removed {
		return res, nil
	}

	v := lr.Viewer
	s.broadcast(&domain.UserLeftMessage{
		Type:         domain.MsgTypeUserLeft,
		ConnectionID: connectionID,
		VisitorID:    v.VisitorID,
		Name:         v.Name,
	}, "")
	s.postSystem(fmt.Sprintf("%s left the room", v.Name), "")

	if v.VisitorID == s.hostVisitor {
		s.hostVisitor = ""
		if viewers := s.roster.Viewers(); len(viewers) > 0 {
			next := viewers[0]
			s.hostVisitor = next.VisitorID
			res.NewHost = &next
			s.broadcast(&domain.HostChangedMessage{
				Type:          domain.MsgTypeHostChanged,
				HostVisitorID: next.VisitorID,
				HostName:      next.Name,
			}, "")
		}
	}
	return res, nil
}

// ApplyPlaybackControl mutates the playback state and broadcasts the result
// to every connection, the initiator included.
func (s *Session) ApplyPlaybackControl(ctx context.Context, cmd PlaybackCommand) (domain.PlaybackState, error) {
	if !domain.ValidAction(cmd.Action) {
		return domain.PlaybackState{}, ErrInvalidAction
	}
	if t := cmd.CurrentTime; t != nil && (*t < 0 || math.IsNaN(*t) || math.IsInf(*t, 0)) {
		return domain.PlaybackState{}, ErrInvalidTime
	}

	var st domain.PlaybackState
	var opErr error
	err := s.do(ctx, func() {
		v, ok := s.roster.Lookup(cmd.ConnectionID)
		if !ok {
			opErr = ErrNotInRoom
			return
		}
		if s.hostOnlyControl && v.VisitorID != s.hostVisitor {
			opErr = ErrNotHost
			return
		}
		st = s.applyLocked(cmd)
	})
	if err != nil {
		return st, err
	}
	return st, opErr
}

func (s *Session) applyLocked(cmd PlaybackCommand) domain.PlaybackState {
	prev := s.playback
	next := prev

	switch {
	case cmd.IsPlaying != nil:
		next.IsPlaying = *cmd.IsPlaying
	case cmd.Action == domain.ActionPlay:
		next.IsPlaying = true
	case cmd.Action == domain.ActionPause:
		next.IsPlaying = false
	}

	if cmd.CurrentTime != nil {
		next.CurrentTime = *cmd.CurrentTime
	}
	// Only an explicit seek may move a playing room backwards.
	if cmd.Action != domain.ActionSeek && prev.IsPlaying && next.IsPlaying && next.CurrentTime < prev.CurrentTime {
		next.CurrentTime = prev.CurrentTime
	}

	next.WaitingForUser = ""
	switch {
	case next.IsPlaying:
	case cmd.WaitingForUser != "":
		next.WaitingForUser = cmd.WaitingForUser
	case cmd.Action == domain.ActionTimeUpdate:
		// heartbeats do not end an admission wait
		next.WaitingForUser = prev.WaitingForUser
	}
	next.LastUpdated = s.clock.Now().UTC()
	next.Seq = prev.Seq + 1
	s.playback = next

	s.broadcast(&domain.PlaybackUpdateMessage{
		Type:           domain.MsgTypePlaybackUpdate,
		Action:         cmd.Action,
		CurrentTime:    next.CurrentTime,
		IsPlaying:      next.IsPlaying,
		InitiatorID:    cmd.ConnectionID,
		WaitingForUser: next.WaitingForUser,
		Seq:            next.Seq,
	}, "")
	return next
}

// RequestSync sends the current playback state to connectionID only.
func (s *Session) RequestSync(ctx context.Context, connectionID string) (domain.PlaybackState, error) {
	var st domain.PlaybackState
	err := s.do(ctx, func() {
		st = s.playback
		s.send(connectionID, domain.NewSyncPlayback(st))
	})
	return st, err
}

// PostChatMessage appends a chat line from the viewer bound to connectionID.
// The roster's name and visitor id win over what the client claims.
func (s *Session) PostChatMessage(ctx context.Context, connectionID, sender, visitorID, text string) (domain.ChatMessage, error) {
	var msg domain.ChatMessage
	var opErr error
	err := s.do(ctx, func() {
		if v, ok := s.roster.Lookup(connectionID); ok {
			sender, visitorID = v.Name, v.VisitorID
		} else {
			opErr = ErrNotInRoom
			return
		}
		msg = s.appendChat(sender, visitorID, text, false)
		s.broadcast(&domain.NewChatMessage{Type: domain.MsgTypeNewChatMessage, ChatMessage: msg}, "")
	})
	if err != nil {
		return msg, err
	}
	return msg, opErr
}

// Rename changes the display name of the viewer bound to connectionID.
func (s *Session) Rename(ctx context.Context, connectionID, newName string) (domain.Viewer, string, error) {
	var v domain.Viewer
	var old string
	var opErr error
	err := s.do(ctx, func() {
		v, old, opErr = s.roster.Rename(connectionID, newName)
		if opErr != nil {
			opErr = ErrNotInRoom
			return
		}
		if old != newName {
			s.broadcastRename(v, old, "")
		}
	})
	if err != nil {
		return v, old, err
	}
	return v, old, opErr
}

// SetVideo records a new video, resets playback and broadcasts both. The
// previously stored video, if any, is returned so the caller can drop its blob.
func (s *Session) SetVideo(ctx context.Context, info domain.VideoInfo) (*domain.VideoInfo, domain.PlaybackState, error) {
	var prev *domain.VideoInfo
	var st domain.PlaybackState
	err := s.do(ctx, func() {
		prev = s.video
		s.video = &info
		s.playback = domain.PlaybackState{
			IsPlaying:   false,
			CurrentTime: 0,
			LastUpdated: s.clock.Now().UTC(),
			Seq:         s.playback.Seq + 1,
		}
		st = s.playback

		s.broadcast(&domain.VideoUpdatedMessage{Type: domain.MsgTypeVideoUpdated, VideoInfo: info}, "")
		s.broadcast(&domain.PlaybackUpdateMessage{
			Type:        domain.MsgTypePlaybackUpdate,
			Action:      domain.ActionPause,
			CurrentTime: 0,
			IsPlaying:   false,
			Seq:         st.Seq,
		}, "")
	})
	return prev, st, err
}

// Snapshot returns a copy of the room.
func (s *Session) Snapshot(ctx context.Context) (domain.RoomSnapshot, error) {
	var snap domain.RoomSnapshot
	err := s.do(ctx, func() {
		snap = s.snapshot()
	})
	return snap, err
}

// Summary returns the listing view of the room.
func (s *Session) Summary(ctx context.Context) (domain.RoomSummary, error) {
	sum := domain.RoomSummary{
		ID:        s.id,
		Name:      s.name,
		Theme:     s.theme,
		Host:      s.host,
		CreatedAt: s.createdAt,
	}
	err := s.do(ctx, func() {
		sum.ViewerCount = s.roster.Len()
		sum.HasVideo = s.video != nil
	})
	return sum, err
}

// Playback returns the current playback state without notifying anyone.
func (s *Session) Playback(ctx context.Context) (domain.PlaybackState, error) {
	var st domain.PlaybackState
	err := s.do(ctx, func() {
		st = s.playback
	})
	return st, err
}

func (s *Session) snapshot() domain.RoomSnapshot {
	snap := domain.RoomSnapshot{
		ID:            s.id,
		Name:          s.name,
		Theme:         s.theme,
		Host:          s.host,
		HostVisitorID: s.hostVisitor,
		CreatedAt:     s.createdAt,
		PlaybackState: s.playback,
		Users:         s.roster.Viewers(),
		ChatHistory:   s.chat.snapshot(),
	}
	if s.video != nil {
		v := *s.video
		snap.VideoInfo = &v
	}
	return snap
}

func (s *Session) broadcastRename(v domain.Viewer, oldName, exclude string) {
	s.broadcast(&domain.UserNameChangedMessage{
		Type:         domain.MsgTypeUserNameChanged,
		ConnectionID: v.ConnectionID,
		VisitorID:    v.VisitorID,
		OldName:      oldName,
		NewName:      v.Name,
	}, exclude)
	s.postSystem(fmt.Sprintf("%s is now known as %s", oldName, v.Name), exclude)
}

func (s *Session) postSystem(text, exclude string) {
	msg := s.appendChat(systemSender, "", text, true)
	s.broadcast(&domain.NewChatMessage{Type: domain.MsgTypeNewChatMessage, ChatMessage: msg}, exclude)
}

func (s *Session) appendChat(sender, visitorID, text string, system bool) domain.ChatMessage {
	now := s.clock.Now().UTC()
	msg := domain.ChatMessage{
		ID:        ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		Sender:    sender,
		VisitorID: visitorID,
		Message:   text,
		Timestamp: now,
		IsSystem:  system,
	}
	s.chat.add(msg)
	return msg
}

func (s *Session) broadcast(message interface{}, exclude string) {
	if err := s.bc.BroadcastToRoom(s.id, message, exclude); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldRoomID, s.id).Msg("failed to broadcast")
	}
}

func (s *Session) send(connectionID string, message interface{}) {
	if err := s.bc.SendToConnection(connectionID, message); err != nil {
		l := log.L()
		l.Warn().Err(err).
			Str(log.FieldRoomID, s.id).
			Str(log.FieldConnectionID, connectionID).
			Msg("failed to send")
	}
}
