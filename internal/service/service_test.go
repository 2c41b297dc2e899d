package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MayoPickle/tofu-chillsync/internal/config"
	"github.com/MayoPickle/tofu-chillsync/internal/domain"
	"github.com/MayoPickle/tofu-chillsync/internal/hub"
	"github.com/MayoPickle/tofu-chillsync/internal/room"
	"github.com/MayoPickle/tofu-chillsync/pkg/pubsub"
)

type published struct {
	channel string
	event   *pubsub.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(_ context.Context, channel string, event *pubsub.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{channel: channel, event: event})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.event.Type)
	}
	return out
}

type fixture struct {
	hub      *hub.Hub
	registry *room.Registry
	sync     SyncService
	rooms    RoomService
	pub      *fakePublisher
	roomID   string
}

func newFixture(t *testing.T, opts room.Options) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	h := hub.NewHub(config.WebSocketConfig{})
	go h.Run(ctx)

	reg := room.NewRegistry(h, opts)
	pub := &fakePublisher{}
	sink := NewEventSink(pub, "test", 64)
	sinkDone := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(sinkDone)
	}()

	t.Cleanup(func() {
		reg.Close()
		cancel()
		<-sinkDone
	})

	f := &fixture{
		hub:      h,
		registry: reg,
		sync:     NewSyncService(h, reg, sink),
		rooms:    NewRoomService(reg, newMemBlobs(), sink),
		pub:      pub,
	}
	resp, err := f.rooms.CreateRoom(ctx, &domain.CreateRoomRequest{})
	require.NoError(t, err)
	f.roomID = resp.RoomID
	return f
}

func (f *fixture) client(id string) *hub.Client {
	c := hub.NewClient(id, f.hub, nil, config.WebSocketConfig{})
	f.hub.Register(c)
	return c
}

func (f *fixture) join(t *testing.T, c *hub.Client, visitorID, name string) {
	t.Helper()
	require.NoError(t, f.sync.HandleJoin(context.Background(), c, &domain.JoinMessage{
		RoomID: f.roomID, VisitorID: visitorID, DisplayName: name,
	}))
	next(t, c, domain.MsgTypeRoomState)
}

// next returns the first queued message of type typ, skipping others.
func next(t *testing.T, c *hub.Client, typ string) map[string]interface{} {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data := <-c.Send:
			var m map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &m))
			if m["type"] == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("%s: no %s message", c.ID, typ)
			return nil
		}
	}
}

// none asserts no message of type typ arrives shortly.
func none(t *testing.T, c *hub.Client, typ string) {
	t.Helper()
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case data := <-c.Send:
			var m map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &m))
			assert.NotEqual(t, typ, m["type"], "unexpected %s", data)
		case <-deadline:
			return
		}
	}
}

func ptr[T any](v T) *T { return &v }

func TestJoinUnknownRoomRepliesNotFound(t *testing.T) {
	f := newFixture(t, room.Options{})
	c := f.client("c1")

	err := f.sync.HandleJoin(context.Background(), c, &domain.JoinMessage{RoomID: "ZZZZZZ", VisitorID: "v1"})
	assert.ErrorIs(t, err, room.ErrRoomNotFound)

	m := next(t, c, domain.MsgTypeError)
	assert.Equal(t, domain.ErrCodeNotFound, m["code"])
}

func TestJoinAnnouncesToOthers(t *testing.T) {
	f := newFixture(t, room.Options{})
	alice := f.client("a")
	bob := f.client("b")

	f.join(t, alice, "v1", "Alice")
	require.NoError(t, f.sync.HandleJoin(context.Background(), bob, &domain.JoinMessage{
		RoomID: f.roomID, VisitorID: "v2", DisplayName: "<i>Bob</i>",
	}))

	state := next(t, bob, domain.MsgTypeRoomState)
	roomState := state["room"].(map[string]interface{})
	assert.Len(t, roomState["users"], 2)
	assert.Equal(t, "v1", roomState["hostVisitorId"])

	joined := next(t, alice, domain.MsgTypeUserJoined)
	assert.Equal(t, "Bob", joined["name"])
	assert.Equal(t, "b", joined["connectionId"])
	chat := next(t, alice, domain.MsgTypeNewChatMessage)
	assert.Equal(t, true, chat["isSystem"])

	assert.Equal(t, f.roomID, bob.Session.GetCurrentRoom())
	assert.Equal(t, "v2", bob.Session.GetVisitorID())
}

func TestPlaybackBroadcastReachesInitiator(t *testing.T) {
	f := newFixture(t, room.Options{})
	alice := f.client("a")
	bob := f.client("b")
	f.join(t, alice, "v1", "Alice")
	f.join(t, bob, "v2", "Bob")

	require.NoError(t, f.sync.HandlePlaybackControl(context.Background(), alice, &domain.PlaybackControlMessage{
		RoomID: f.roomID, Action: domain.ActionSeek, CurrentTime: ptr(120.0),
	}))

	for _, c := range []*hub.Client{alice, bob} {
		m := next(t, c, domain.MsgTypePlaybackUpdate)
		assert.Equal(t, "a", m["initiatorId"])
		assert.Equal(t, 120.0, m["currentTime"])
		assert.Equal(t, false, m["isPlaying"])
	}
}

func TestBadPlaybackOnlyAnswersRequester(t *testing.T) {
	f := newFixture(t, room.Options{})
	alice := f.client("a")
	bob := f.client("b")
	f.join(t, alice, "v1", "Alice")
	f.join(t, bob, "v2", "Bob")

	err := f.sync.HandlePlaybackControl(context.Background(), alice, &domain.PlaybackControlMessage{
		Action: "fastforward",
	})
	assert.ErrorIs(t, err, room.ErrInvalidAction)

	m := next(t, alice, domain.MsgTypeError)
	assert.Equal(t, domain.ErrCodeBadRequest, m["code"])
	none(t, bob, domain.MsgTypeError)
	none(t, bob, domain.MsgTypePlaybackUpdate)
}

func TestHostOnlyControlForbidsGuests(t *testing.T) {
	f := newFixture(t, room.Options{HostOnlyControl: true})
	host := f.client("h")
	guest := f.client("g")
	f.join(t, host, "vh", "Host")
	f.join(t, guest, "vg", "Guest")

	err := f.sync.HandlePlaybackControl(context.Background(), guest, &domain.PlaybackControlMessage{Action: domain.ActionPlay})
	assert.ErrorIs(t, err, room.ErrNotHost)
	assert.Equal(t, domain.ErrCodeForbidden, next(t, guest, domain.MsgTypeError)["code"])
}

func TestRequestSyncIsUnicast(t *testing.T) {
	f := newFixture(t, room.Options{})
	alice := f.client("a")
	bob := f.client("b")
	f.join(t, alice, "v1", "Alice")
	f.join(t, bob, "v2", "Bob")

	require.NoError(t, f.sync.HandleRequestSync(context.Background(), bob, &domain.RequestSyncMessage{RoomID: f.roomID}))

	m := next(t, bob, domain.MsgTypeSyncPlayback)
	assert.Equal(t, false, m["isPlaying"])
	none(t, alice, domain.MsgTypeSyncPlayback)
}

func TestChatIsSanitized(t *testing.T) {
	f := newFixture(t, room.Options{})
	alice := f.client("a")
	f.join(t, alice, "v1", "Alice")

	require.NoError(t, f.sync.HandleChatMessage(context.Background(), alice, &domain.ChatMessageIn{
		Message: `<script>alert(1)</script>hello & <b>welcome</b>`,
	}))
	m := next(t, alice, domain.MsgTypeNewChatMessage)
	assert.Equal(t, "hello & welcome", m["message"])
	assert.Equal(t, "Alice", m["sender"])

	err := f.sync.HandleChatMessage(context.Background(), alice, &domain.ChatMessageIn{Message: "<br/>  "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestRename(t *testing.T) {
	f := newFixture(t, room.Options{})
	alice := f.client("a")
	bob := f.client("b")
	f.join(t, alice, "v1", "Alice")
	f.join(t, bob, "v2", "Bob")

	require.NoError(t, f.sync.HandleRename(context.Background(), alice, &domain.RenameMessage{NewName: "Ally"}))

	m := next(t, bob, domain.MsgTypeUserNameChanged)
	assert.Equal(t, "Alice", m["oldName"])
	assert.Equal(t, "Ally", m["newName"])
	assert.Equal(t, "Ally", alice.Session.GetDisplayName())
}

func TestDisconnectKeepsViewerWithSurvivingTab(t *testing.T) {
	f := newFixture(t, room.Options{})
	tab1 := f.client("t1")
	tab2 := f.client("t2")
	bob := f.client("b")
	f.join(t, tab1, "v1", "Alice")
	f.join(t, tab2, "v1", "Alice")
	f.join(t, bob, "v2", "Bob")

	require.NoError(t, f.sync.HandleDisconnect(context.Background(), tab1))
	none(t, bob, domain.MsgTypeUserLeft)

	require.NoError(t, f.sync.HandleDisconnect(context.Background(), tab2))
	m := next(t, bob, domain.MsgTypeUserLeft)
	assert.Equal(t, "v1", m["visitorId"])

	hc := next(t, bob, domain.MsgTypeHostChanged)
	assert.Equal(t, "v2", hc["hostVisitorId"])

	snap, err := f.rooms.GetRoom(context.Background(), f.roomID)
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
}

func TestLeaveMessageForOtherRoomIsIgnored(t *testing.T) {
	f := newFixture(t, room.Options{})
	alice := f.client("a")
	f.join(t, alice, "v1", "Alice")

	require.NoError(t, f.sync.HandleLeave(context.Background(), alice, &domain.LeaveMessage{RoomID: "OTHER1"}))
	assert.Equal(t, f.roomID, alice.Session.GetCurrentRoom())

	require.NoError(t, f.sync.HandleLeave(context.Background(), alice, &domain.LeaveMessage{RoomID: f.roomID}))
	assert.False(t, alice.Session.IsInRoom())
}

func TestSwitchingRoomsLeavesThePreviousOne(t *testing.T) {
	f := newFixture(t, room.Options{})
	other, err := f.rooms.CreateRoom(context.Background(), &domain.CreateRoomRequest{RoomName: "Other"})
	require.NoError(t, err)

	alice := f.client("a")
	f.join(t, alice, "v1", "Alice")
	require.NoError(t, f.sync.HandleJoin(context.Background(), alice, &domain.JoinMessage{RoomID: other.RoomID, VisitorID: "v1", DisplayName: "Alice"}))

	first, err := f.rooms.GetRoom(context.Background(), f.roomID)
	require.NoError(t, err)
	assert.Empty(t, first.Users)
	assert.Equal(t, 0, f.hub.GetRoomClientCount(f.roomID))
	assert.Equal(t, 1, f.hub.GetRoomClientCount(other.RoomID))
}

func TestActivityEventsArePublished(t *testing.T) {
	f := newFixture(t, room.Options{})
	alice := f.client("a")
	f.join(t, alice, "v1", "Alice")
	require.NoError(t, f.sync.HandleChatMessage(context.Background(), alice, &domain.ChatMessageIn{Message: "hi"}))
	require.NoError(t, f.sync.HandlePlaybackControl(context.Background(), alice, &domain.PlaybackControlMessage{Action: domain.ActionPlay}))
	require.NoError(t, f.sync.HandleDisconnect(context.Background(), alice))

	want := []string{
		pubsub.EventRoomCreated,
		pubsub.EventViewerJoined,
		pubsub.EventChatMessage,
		pubsub.EventPlaybackChanged,
		pubsub.EventViewerLeft,
	}
	require.Eventually(t, func() bool { return len(f.pub.types()) == len(want) }, time.Second, 10*time.Millisecond)
	assert.Equal(t, want, f.pub.types())

	f.pub.mu.Lock()
	defer f.pub.mu.Unlock()
	assert.Equal(t, pubsub.RoomEventsChannel("test", f.roomID), f.pub.events[0].channel)
}
