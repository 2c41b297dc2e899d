// Package reconcile keeps a local video player aligned with a room's shared
// playback state while letting the local user drive playback.
//
// Every player call made on behalf of a remote update registers an
// expectation; the event the player fires in response consumes it instead of
// being forwarded to the server. Updates the server echoes back to their
// initiator are recognized by connection id and dropped.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/MayoPickle/tofu-chillsync/internal/domain"
	pkglog "github.com/MayoPickle/tofu-chillsync/pkg/log"
)

const (
	DefaultTolerance      = 1.0
	MinTolerance          = 0.5
	DefaultHeartbeat      = 30.0
	DefaultAdmissionGrace = 3 * time.Second

	playTimeout = 5 * time.Second
)

// Player is the local video engine.
type Player interface {
	Ready() bool
	Paused() bool
	Position() float64
	Play(ctx context.Context) error
	Pause()
	Seek(t float64)
}

// Transport delivers protocol messages to the server.
type Transport interface {
	Send(v interface{}) error
}

// Config configures an Engine.
type Config struct {
	RoomID      string
	DisplayName string
	VisitorID   string

	// Tolerance is the drift, in seconds, below which remote positions are
	// not applied. Values under MinTolerance are raised to it.
	Tolerance float64
	// Heartbeat is the playback distance, in seconds, between position
	// broadcasts while playing.
	Heartbeat      float64
	AdmissionGrace time.Duration

	Clock  clock.Clock
	Logger *zerolog.Logger

	OnStateChange func(from, to State)
	OnWaiting     func(name string)
	OnVideo       func(info domain.VideoInfo)
}

func (c *Config) applyDefaults() {
	if c.Tolerance == 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.Tolerance < MinTolerance {
		c.Tolerance = MinTolerance
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.AdmissionGrace <= 0 {
		c.AdmissionGrace = DefaultAdmissionGrace
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

type update struct {
	action string
	state  domain.PlaybackState
}

// Engine is the per-client reconciliation state machine. Player methods are
// never called with the engine's lock held, so players may fire events
// synchronously from inside Play, Pause and Seek.
type Engine struct {
	cfg    Config
	player Player
	tx     Transport
	logger zerolog.Logger

	mu          sync.Mutex
	notes       []func()
	state       State
	self        domain.SelfInfo
	hostVisitor string
	lastSeq     uint64
	foreign     bool // remote state applied since the last forwarded action
	expect      expectations
	pending     *update
	lastBeat    float64
	waiting     string
	admitGen    uint64
	admitTimer  *clock.Timer
}

// NewEngine creates a disconnected engine.
func NewEngine(cfg Config, player Player, tx Transport) *Engine {
	cfg.applyDefaults()

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = pkglog.L()
	}
	logger = logger.With().
		Str(pkglog.FieldRoomID, cfg.RoomID).
		Str(pkglog.FieldVisitorID, cfg.VisitorID).
		Logger()

	return &Engine{
		cfg:    cfg,
		player: player,
		tx:     tx,
		logger: logger,
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Self returns the identity the server bound this client to.
func (e *Engine) Self() domain.SelfInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// Waiting returns the viewer the room is paused for, if any.
func (e *Engine) Waiting() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waiting
}

func (e *Engine) IsHost() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isHostLocked()
}

func (e *Engine) LastSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeq
}

func (e *Engine) isHostLocked() bool {
	return e.self.VisitorID != "" && e.self.VisitorID == e.hostVisitor
}

// unlock releases the lock and then runs queued observer callbacks.
func (e *Engine) unlock() {
	notes := e.notes
	e.notes = nil
	e.mu.Unlock()
	for _, fn := range notes {
		fn()
	}
}

func (e *Engine) setStateLocked(s State) {
	if s == e.state {
		return
	}
	from := e.state
	e.state = s
	e.logger.Debug().Str("from", from.String()).Str("to", s.String()).Msg("State changed")
	if cb := e.cfg.OnStateChange; cb != nil {
		e.notes = append(e.notes, func() { cb(from, s) })
	}
}

func (e *Engine) setWaitingLocked(name string) {
	if name == e.waiting {
		return
	}
	e.waiting = name
	if cb := e.cfg.OnWaiting; cb != nil {
		e.notes = append(e.notes, func() { cb(name) })
	}
}

func (e *Engine) stopAdmissionLocked() {
	e.admitGen++
	if e.admitTimer != nil {
		e.admitTimer.Stop()
		e.admitTimer = nil
	}
}

func (e *Engine) send(v interface{}) {
	if err := e.tx.Send(v); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to send message")
	}
}

func (e *Engine) sendControl(action string, at float64, isPlaying *bool, waiting string) {
	e.mu.Lock()
	e.foreign = false
	e.mu.Unlock()
	e.send(&domain.PlaybackControlMessage{
		Type:           domain.MsgTypePlaybackControl,
		RoomID:         e.cfg.RoomID,
		Action:         action,
		CurrentTime:    &at,
		IsPlaying:      isPlaying,
		WaitingForUser: waiting,
	})
}

func (e *Engine) displayName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.DisplayName
}

func (e *Engine) requestSync() {
	e.send(&domain.RequestSyncMessage{
		Type:        domain.MsgTypeRequestSync,
		RoomID:      e.cfg.RoomID,
		DisplayName: e.displayName(),
	})
}

func boolPtr(b bool) *bool { return &b }

// Connected starts the protocol on a fresh transport by sending join.
func (e *Engine) Connected() {
	e.mu.Lock()
	e.stopAdmissionLocked()
	e.expect.reset()
	e.pending = nil
	e.lastSeq = 0
	e.self = domain.SelfInfo{}
	e.setWaitingLocked("")
	e.setStateLocked(StateConnecting)
	e.unlock()

	e.send(&domain.JoinMessage{
		Type:        domain.MsgTypeJoin,
		RoomID:      e.cfg.RoomID,
		DisplayName: e.displayName(),
		VisitorID:   e.cfg.VisitorID,
	})
}

// Disconnected is called when the transport is lost. Pending admission
// timers become no-ops.
func (e *Engine) Disconnected() {
	e.mu.Lock()
	e.stopAdmissionLocked()
	e.expect.reset()
	e.pending = nil
	e.foreign = false
	e.setWaitingLocked("")
	e.setStateLocked(StateDisconnected)
	e.unlock()
}

// Leave tells the server this client is leaving and disconnects the engine.
func (e *Engine) Leave() {
	e.send(&domain.LeaveMessage{Type: domain.MsgTypeLeave, RoomID: e.cfg.RoomID})
	e.Disconnected()
}

// SendChat posts a chat message under the bound identity.
func (e *Engine) SendChat(text string) {
	e.send(&domain.ChatMessageIn{
		Type:    domain.MsgTypeChatMessage,
		RoomID:  e.cfg.RoomID,
		Sender:  e.displayName(),
		Message: text,
	})
}

// Rename asks the server to change this viewer's display name.
func (e *Engine) Rename(name string) {
	e.mu.Lock()
	e.cfg.DisplayName = name
	e.unlock()
	e.send(&domain.RenameMessage{Type: domain.MsgTypeUserNameChanged, RoomID: e.cfg.RoomID, NewName: name})
}

// Local player events.

func (e *Engine) OnPlay() {
	pos := e.player.Position()
	e.mu.Lock()
	if e.expect.consume(expectPlay, pos, e.cfg.Tolerance) || !e.state.inRoom() {
		e.unlock()
		return
	}
	e.setWaitingLocked("")
	e.lastBeat = pos
	e.unlock()

	e.sendControl(domain.ActionPlay, pos, boolPtr(true), "")
}

func (e *Engine) OnPause() {
	pos := e.player.Position()
	e.mu.Lock()
	if e.expect.consume(expectPause, pos, e.cfg.Tolerance) || !e.state.inRoom() {
		e.unlock()
		return
	}
	e.setWaitingLocked("")
	e.unlock()

	e.sendControl(domain.ActionPause, pos, boolPtr(false), "")
}

func (e *Engine) OnSeeked() {
	pos := e.player.Position()
	e.mu.Lock()
	if e.expect.consume(expectSeek, pos, e.cfg.Tolerance) {
		if e.state == StateDiverged && !e.expect.has(expectSeek) {
			e.setStateLocked(StateSynced)
		}
		e.unlock()
		return
	}
	if !e.state.inRoom() {
		e.unlock()
		return
	}
	e.setWaitingLocked("")
	e.lastBeat = pos
	e.unlock()

	e.sendControl(domain.ActionSeek, pos, nil, "")
}

// OnTimeUpdate broadcasts the local position once every Heartbeat seconds of
// playback. Heartbeats never carry a play flag so they cannot resume a room.
func (e *Engine) OnTimeUpdate() {
	if e.player.Paused() {
		return
	}
	pos := e.player.Position()
	e.mu.Lock()
	if !e.state.inRoom() || e.waiting != "" {
		e.unlock()
		return
	}
	if pos < e.lastBeat {
		e.lastBeat = pos
	}
	if pos-e.lastBeat < e.cfg.Heartbeat {
		e.unlock()
		return
	}
	e.lastBeat = pos
	e.unlock()

	e.sendControl(domain.ActionTimeUpdate, pos, nil, "")
}

// OnReady applies any buffered update and asks for a fresh sync.
func (e *Engine) OnReady() {
	e.mu.Lock()
	p := e.pending
	e.pending = nil
	joined := e.state.inRoom()
	e.unlock()

	if p != nil {
		e.apply(*p)
	}
	if joined {
		e.requestSync()
	}
}

// HandleMessage processes one server frame.
func (e *Engine) HandleMessage(data []byte) error {
	var base domain.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	switch base.Type {
	case domain.MsgTypeRoomState:
		var m domain.RoomStateMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode %s: %w", base.Type, err)
		}
		e.handleRoomState(&m)
	case domain.MsgTypePlaybackUpdate:
		var m domain.PlaybackUpdateMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode %s: %w", base.Type, err)
		}
		e.handlePlaybackUpdate(&m)
	case domain.MsgTypeSyncPlayback:
		var m domain.SyncPlaybackMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode %s: %w", base.Type, err)
		}
		e.handleSync(&m)
	case domain.MsgTypeUserJoined:
		var m domain.UserJoinedMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode %s: %w", base.Type, err)
		}
		e.handleUserJoined(&m)
	case domain.MsgTypeHostChanged:
		var m domain.HostChangedMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode %s: %w", base.Type, err)
		}
		e.mu.Lock()
		e.hostVisitor = m.HostVisitorID
		e.unlock()
		e.logger.Info().Str("host", m.HostName).Msg("Host changed")
	case domain.MsgTypeVideoUpdated:
		var m domain.VideoUpdatedMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode %s: %w", base.Type, err)
		}
		e.handleVideoUpdated(&m)
	case domain.MsgTypeError:
		var m domain.ErrorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode %s: %w", base.Type, err)
		}
		e.logger.Warn().Str("code", m.Code).Msg(m.Message)
	case domain.MsgTypeUserLeft, domain.MsgTypeUserNameChanged, domain.MsgTypeNewChatMessage, domain.MsgTypePong:
		e.logger.Debug().Str(pkglog.FieldMessageType, base.Type).Msg("Room event")
	default:
		e.logger.Debug().Str(pkglog.FieldMessageType, base.Type).Msg("Unknown message type")
	}
	return nil
}

func (e *Engine) handleRoomState(m *domain.RoomStateMessage) {
	if m.Room == nil {
		return
	}
	e.mu.Lock()
	if e.state == StateDisconnected {
		e.unlock()
		return
	}
	e.self = m.Self
	e.hostVisitor = m.Room.HostVisitorID
	e.lastSeq = m.Room.PlaybackState.Seq
	e.setStateLocked(StateJoined)
	e.unlock()

	e.logger.Info().
		Str(pkglog.FieldConnectionID, m.Self.ConnectionID).
		Int("viewers", len(m.Room.Users)).
		Msg("Joined room")

	e.apply(update{state: m.Room.PlaybackState})
	e.requestSync()
}

func (e *Engine) handlePlaybackUpdate(m *domain.PlaybackUpdateMessage) {
	e.mu.Lock()
	if !e.state.inRoom() {
		e.unlock()
		return
	}
	if m.Seq != 0 && m.Seq <= e.lastSeq {
		e.unlock()
		e.logger.Debug().Uint64("seq", m.Seq).Msg("Dropped stale playback update")
		return
	}
	if m.Seq > e.lastSeq {
		e.lastSeq = m.Seq
	}
	// An own echo is redundant unless another update landed after the
	// action was forwarded; the echo then carries the room's last write.
	own := m.InitiatorID != "" && m.InitiatorID == e.self.ConnectionID
	if own && !e.foreign {
		e.unlock()
		return
	}
	if !own {
		e.foreign = true
	}
	e.unlock()

	e.apply(update{
		action: m.Action,
		state: domain.PlaybackState{
			IsPlaying:      m.IsPlaying,
			CurrentTime:    m.CurrentTime,
			WaitingForUser: m.WaitingForUser,
			Seq:            m.Seq,
		},
	})
}

func (e *Engine) handleSync(m *domain.SyncPlaybackMessage) {
	e.mu.Lock()
	if !e.state.inRoom() || m.Seq < e.lastSeq {
		e.unlock()
		return
	}
	e.lastSeq = m.Seq
	e.foreign = true
	e.unlock()

	e.apply(update{state: m.PlaybackState})
}

// handleUserJoined runs the admission wait when this client is the host and
// is playing: pause everyone for the newcomer, then resume after the grace
// delay unless someone else moved the room on in the meantime.
func (e *Engine) handleUserJoined(m *domain.UserJoinedMessage) {
	paused := e.player.Paused()

	e.mu.Lock()
	if !e.state.inRoom() || !e.isHostLocked() || m.VisitorID == e.self.VisitorID {
		e.unlock()
		return
	}
	admitting := e.admitTimer != nil && e.waiting != ""
	if paused && !admitting {
		e.unlock()
		return
	}
	e.stopAdmissionLocked()
	gen := e.admitGen
	e.setWaitingLocked(m.Name)
	if !paused {
		e.expect.add(expectPause, 0)
	}
	e.admitTimer = e.cfg.Clock.AfterFunc(e.cfg.AdmissionGrace, func() { e.finishAdmission(gen) })
	e.unlock()

	if !paused {
		e.player.Pause()
	}
	e.logger.Info().Str(pkglog.FieldViewerName, m.Name).Msg("Pausing for new viewer")
	e.sendControl(domain.ActionPause, e.player.Position(), boolPtr(false), m.Name)
}

func (e *Engine) finishAdmission(gen uint64) {
	paused := e.player.Paused()

	e.mu.Lock()
	if gen != e.admitGen || !e.state.inRoom() || e.waiting == "" {
		e.unlock()
		return
	}
	e.admitTimer = nil
	e.setWaitingLocked("")
	if paused {
		e.expect.add(expectPlay, 0)
	}
	e.unlock()

	if paused {
		e.play()
	}
	pos := e.player.Position()
	e.mu.Lock()
	e.lastBeat = pos
	e.unlock()
	e.sendControl(domain.ActionPlay, pos, boolPtr(true), "")
}

func (e *Engine) handleVideoUpdated(m *domain.VideoUpdatedMessage) {
	e.logger.Info().Str("file", m.FileName).Msg("Video updated")
	if cb := e.cfg.OnVideo; cb != nil {
		cb(m.VideoInfo)
	}
	e.apply(update{action: domain.ActionPause})
	e.requestSync()
}

// apply moves the local player to st, or buffers it until the player is
// ready. Newer buffered updates replace older ones.
func (e *Engine) apply(u update) {
	if !e.player.Ready() {
		e.mu.Lock()
		if e.state.inRoom() {
			e.pending = &u
		}
		e.setWaitingLocked(u.state.WaitingForUser)
		e.unlock()
		return
	}

	paused := e.player.Paused()
	pos := e.player.Position()
	target := u.state.CurrentTime

	e.mu.Lock()
	if !e.state.inRoom() {
		e.unlock()
		return
	}
	e.pending = nil
	e.setWaitingLocked(u.state.WaitingForUser)

	doPause := !u.state.IsPlaying && !paused
	doSeek := math.Abs(pos-target) > e.cfg.Tolerance
	doPlay := u.state.IsPlaying && paused

	if doPause {
		e.expect.add(expectPause, target)
	}
	if doSeek {
		e.expect.add(expectSeek, target)
		e.setStateLocked(StateDiverged)
	} else if !e.expect.has(expectSeek) {
		e.setStateLocked(StateSynced)
	}
	if doPlay {
		e.expect.add(expectPlay, target)
	}
	e.lastBeat = target
	e.unlock()

	if doPause {
		e.player.Pause()
	}
	if doSeek {
		e.player.Seek(target)
	}
	if doPlay {
		e.play()
	}
}

// play starts the local player for a remote update. A refusal stays local.
func (e *Engine) play() {
	ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
	defer cancel()

	if err := e.player.Play(ctx); err != nil {
		e.mu.Lock()
		e.expect.withdraw(expectPlay)
		e.unlock()
		e.logger.Warn().Err(err).Msg("Local player refused to play")
	}
}
