package room

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MayoPickle/tofu-chillsync/internal/domain"
)

type delivery struct {
	roomID  string
	target  string
	exclude string
	msg     interface{}
}

type recorder struct {
	mu  sync.Mutex
	out []delivery
}

func (r *recorder) BroadcastToRoom(roomID string, message interface{}, exclude string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, delivery{roomID: roomID, exclude: exclude, msg: message})
	return nil
}

func (r *recorder) SendToConnection(connectionID string, message interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, delivery{target: connectionID, msg: message})
	return nil
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = nil
}

func (r *recorder) all() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.out...)
}

func (r *recorder) playbackUpdates() []*domain.PlaybackUpdateMessage {
	var out []*domain.PlaybackUpdateMessage
	for _, d := range r.all() {
		if m, ok := d.msg.(*domain.PlaybackUpdateMessage); ok {
			out = append(out, m)
		}
	}
	return out
}

func count[T any](r *recorder) int {
	n := 0
	for _, d := range r.all() {
		if _, ok := d.msg.(T); ok {
			n++
		}
	}
	return n
}

func newTestRoom(t *testing.T, opts Options) (*Session, *recorder, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	opts.Clock = mock
	rec := &recorder{}
	reg := NewRegistry(rec, opts)
	t.Cleanup(reg.Close)

	s, err := reg.Create("Host", "Movie night", "Sci-Fi")
	require.NoError(t, err)
	return s, rec, mock
}

func ptr[T any](v T) *T { return &v }

func TestJoinSendsSnapshotAndAnnouncesOthers(t *testing.T) {
	ctx := context.Background()
	s, rec, _ := newTestRoom(t, Options{})

	res, err := s.Join(ctx, "c1", "v1", "Alice")
	require.NoError(t, err)
	assert.False(t, res.Rebound)
	assert.Equal(t, "v1", res.Snapshot.HostVisitorID)
	require.Len(t, res.Snapshot.Users, 1)
	require.Len(t, res.Snapshot.ChatHistory, 1)
	assert.True(t, res.Snapshot.ChatHistory[0].IsSystem)
	assert.Equal(t, "Alice joined the room", res.Snapshot.ChatHistory[0].Message)

	var sawState bool
	for _, d := range rec.all() {
		switch m := d.msg.(type) {
		case *domain.UserJoinedMessage:
			assert.Equal(t, "c1", d.exclude)
			assert.Equal(t, "Alice", m.Name)
		case *domain.RoomStateMessage:
			sawState = true
			assert.Equal(t, "c1", d.target)
			assert.Equal(t, "v1", m.Self.VisitorID)
		}
	}
	assert.True(t, sawState)
}

func TestRepeatedJoinsKeepOneViewer(t *testing.T) {
	ctx := context.Background()
	s, rec, _ := newTestRoom(t, Options{})

	for i := 0; i < 5; i++ {
		_, err := s.Join(ctx, fmt.Sprintf("c%d", i), "v1", "Alice")
		require.NoError(t, err)
	}

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "c4", snap.Users[0].ConnectionID)
	assert.Equal(t, 1, count[*domain.UserJoinedMessage](rec))
}

func TestRejoinWithNewNameAnnouncesRename(t *testing.T) {
	ctx := context.Background()
	s, rec, _ := newTestRoom(t, Options{})

	_, err := s.Join(ctx, "c1", "v1", "Alice")
	require.NoError(t, err)
	rec.reset()

	res, err := s.Join(ctx, "c2", "v1", "Alicia")
	require.NoError(t, err)
	assert.True(t, res.Rebound)
	assert.Equal(t, "Alice", res.OldName)
	assert.Equal(t, 1, count[*domain.UserNameChangedMessage](rec))
	assert.Equal(t, 0, count[*domain.UserJoinedMessage](rec))

	last := res.Snapshot.ChatHistory[len(res.Snapshot.ChatHistory)-1]
	assert.Equal(t, "Alice is now known as Alicia", last.Message)
}

func TestLeaveKeepsViewerWhileAnotherConnectionLives(t *testing.T) {
	ctx := context.Background()
	s, rec, _ := newTestRoom(t, Options{})

	_, err := s.Join(ctx, "tab1", "v1", "Alice")
	require.NoError(t, err)
	_, err = s.Join(ctx, "tab2", "v1", "Alice")
	require.NoError(t, err)
	rec.reset()

	res, err := s.Leave(ctx, "tab1")
	require.NoError(t, err)
	assert.False(t, res.Removed)
	assert.Empty(t, rec.all())

	res, err = s.Leave(ctx, "tab2")
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Equal(t, 1, count[*domain.UserLeftMessage](rec))

	_, err = s.Leave(ctx, "tab2")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestJoinLeaveJoinRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestRoom(t, Options{})

	_, err := s.Join(ctx, "A", "v1", "Alice")
	require.NoError(t, err)
	_, err = s.Leave(ctx, "A")
	require.NoError(t, err)
	_, err = s.Join(ctx, "A", "v1", "Alice")
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "Alice", snap.Users[0].Name)
	assert.Equal(t, "v1", snap.Users[0].VisitorID)
}

func TestRejoinUnderAnotherIdentityReleasesTheOld(t *testing.T) {
	for _, tc := range []struct {
		name    string
		visitor string
		want    string
	}{
		{name: "new visitor id", visitor: "v3", want: "v3"},
		{name: "no visitor id", visitor: "", want: "c1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s, _, _ := newTestRoom(t, Options{})

			_, err := s.Join(ctx, "c1", "v1", "Alice")
			require.NoError(t, err)
			_, err = s.Join(ctx, "c2", "v2", "Bob")
			require.NoError(t, err)

			res, err := s.Join(ctx, "c1", tc.visitor, "Alice")
			require.NoError(t, err)
			assert.False(t, res.Rebound)
			assert.Equal(t, tc.want, res.Viewer.VisitorID)
			assert.Equal(t, "v2", res.Snapshot.HostVisitorID)
			require.Len(t, res.Snapshot.Users, 2)

			_, err = s.Leave(ctx, "c1")
			require.NoError(t, err)

			snap, err := s.Snapshot(ctx)
			require.NoError(t, err)
			require.Len(t, snap.Users, 1)
			assert.Equal(t, "v2", snap.Users[0].VisitorID)
			assert.Equal(t, "v2", snap.HostVisitorID)
		})
	}
}

func TestHostPromotionOnLeave(t *testing.T) {
	ctx := context.Background()
	s, rec, _ := newTestRoom(t, Options{})

	for _, v := range []string{"a", "b", "c"} {
		_, err := s.Join(ctx, "c-"+v, v, strings.ToUpper(v))
		require.NoError(t, err)
	}
	rec.reset()

	res, err := s.Leave(ctx, "c-a")
	require.NoError(t, err)
	require.NotNil(t, res.NewHost)
	assert.Equal(t, "b", res.NewHost.VisitorID)

	var hc *domain.HostChangedMessage
	for _, d := range rec.all() {
		if m, ok := d.msg.(*domain.HostChangedMessage); ok {
			hc = m
		}
	}
	require.NotNil(t, hc)
	assert.Equal(t, "B", hc.HostName)

	res, err = s.Leave(ctx, "c-c")
	require.NoError(t, err)
	assert.Nil(t, res.NewHost)
}

func TestPlaybackResolution(t *testing.T) {
	ctx := context.Background()
	s, rec, mock := newTestRoom(t, Options{})
	_, err := s.Join(ctx, "c1", "v1", "Alice")
	require.NoError(t, err)

	st, err := s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionPlay, CurrentTime: ptr(10.0)})
	require.NoError(t, err)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, 10.0, st.CurrentTime)
	assert.Equal(t, uint64(1), st.Seq)
	assert.Equal(t, mock.Now().UTC(), st.LastUpdated)

	// seek keeps the previous play state
	st, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionSeek, CurrentTime: ptr(120.0)})
	require.NoError(t, err)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, 120.0, st.CurrentTime)

	// explicit flag beats the action
	st, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionPause, IsPlaying: ptr(true)})
	require.NoError(t, err)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, 120.0, st.CurrentTime, "missing time keeps the previous value")

	st, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionPause, CurrentTime: ptr(0.0)})
	require.NoError(t, err)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, 0.0, st.CurrentTime)

	updates := rec.playbackUpdates()
	require.Len(t, updates, 4)
	for _, u := range updates {
		assert.Equal(t, "c1", u.InitiatorID)
	}
	for _, d := range rec.all() {
		if _, ok := d.msg.(*domain.PlaybackUpdateMessage); ok {
			assert.Empty(t, d.exclude, "initiator must receive its own update")
			assert.Empty(t, d.target)
		}
	}
}

func TestPlayingTimeNeverMovesBackWithoutSeek(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestRoom(t, Options{})
	_, err := s.Join(ctx, "c1", "v1", "Alice")
	require.NoError(t, err)

	_, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionPlay, CurrentTime: ptr(50.0)})
	require.NoError(t, err)

	st, err := s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionTimeUpdate, CurrentTime: ptr(49.2)})
	require.NoError(t, err)
	assert.Equal(t, 50.0, st.CurrentTime)

	st, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionSeek, CurrentTime: ptr(5.0)})
	require.NoError(t, err)
	assert.Equal(t, 5.0, st.CurrentTime)
	assert.True(t, st.IsPlaying)
}

func TestPlaybackValidation(t *testing.T) {
	ctx := context.Background()
	s, rec, _ := newTestRoom(t, Options{})
	_, err := s.Join(ctx, "c1", "v1", "Alice")
	require.NoError(t, err)
	rec.reset()

	_, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: "rewind"})
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionSeek, CurrentTime: ptr(-1.0)})
	assert.ErrorIs(t, err, ErrInvalidTime)

	_, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "stranger", Action: domain.ActionPlay})
	assert.ErrorIs(t, err, ErrNotInRoom)

	assert.Empty(t, rec.all())
	st, err := s.Playback(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.Seq)
}

func TestHostOnlyControl(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestRoom(t, Options{HostOnlyControl: true})
	_, err := s.Join(ctx, "c1", "host", "Host")
	require.NoError(t, err)
	_, err = s.Join(ctx, "c2", "guest", "Guest")
	require.NoError(t, err)

	_, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c2", Action: domain.ActionPlay})
	assert.ErrorIs(t, err, ErrNotHost)

	_, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionPlay})
	assert.NoError(t, err)
}

func TestWaitingAnnotation(t *testing.T) {
	ctx := context.Background()
	s, rec, _ := newTestRoom(t, Options{})
	_, err := s.Join(ctx, "c1", "v1", "Alice")
	require.NoError(t, err)

	st, err := s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionPause, CurrentTime: ptr(50.0), WaitingForUser: "Carol"})
	require.NoError(t, err)
	assert.Equal(t, "Carol", st.WaitingForUser)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Carol", snap.PlaybackState.WaitingForUser)

	st, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionTimeUpdate, CurrentTime: ptr(50.5)})
	require.NoError(t, err)
	assert.Equal(t, "Carol", st.WaitingForUser)
	assert.False(t, st.IsPlaying)

	st, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionPlay, CurrentTime: ptr(50.0)})
	require.NoError(t, err)
	assert.Empty(t, st.WaitingForUser)

	updates := rec.playbackUpdates()
	require.Len(t, updates, 3)
	assert.Equal(t, "Carol", updates[0].WaitingForUser)
	assert.Equal(t, "Carol", updates[1].WaitingForUser)
	assert.Empty(t, updates[2].WaitingForUser)
}

func TestRequestSyncIsUnicastAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s, rec, mock := newTestRoom(t, Options{})
	_, err := s.Join(ctx, "c1", "v1", "Alice")
	require.NoError(t, err)
	_, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionPlay, CurrentTime: ptr(3.0)})
	require.NoError(t, err)
	rec.reset()

	a, err := s.RequestSync(ctx, "c2")
	require.NoError(t, err)
	mock.Add(time.Minute)
	b, err := s.RequestSync(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	out := rec.all()
	require.Len(t, out, 2)
	for _, d := range out {
		assert.Equal(t, "c2", d.target)
		_, ok := d.msg.(*domain.SyncPlaybackMessage)
		assert.True(t, ok)
	}
}

func TestChatHistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestRoom(t, Options{ChatHistoryLimit: 500})
	_, err := s.Join(ctx, "c1", "v1", "Alice")
	require.NoError(t, err)

	for i := 0; i < 600; i++ {
		_, err := s.PostChatMessage(ctx, "c1", "", "", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.ChatHistory, 500)
	assert.Equal(t, "msg 100", snap.ChatHistory[0].Message)
	assert.Equal(t, "msg 599", snap.ChatHistory[499].Message)
}

func TestChatUsesRosterIdentity(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestRoom(t, Options{})
	_, err := s.Join(ctx, "c1", "v1", "Alice")
	require.NoError(t, err)

	msg, err := s.PostChatMessage(ctx, "c1", "Mallory", "v666", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Alice", msg.Sender)
	assert.Equal(t, "v1", msg.VisitorID)
	assert.NotEmpty(t, msg.ID)

	_, err = s.PostChatMessage(ctx, "nobody", "x", "y", "hi")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	s, rec, _ := newTestRoom(t, Options{})
	_, err := s.Join(ctx, "c1", "v1", "Alice")
	require.NoError(t, err)
	rec.reset()

	v, old, err := s.Rename(ctx, "c1", "Al")
	require.NoError(t, err)
	assert.Equal(t, "Alice", old)
	assert.Equal(t, "Al", v.Name)
	assert.Equal(t, 1, count[*domain.UserNameChangedMessage](rec))

	_, _, err = s.Rename(ctx, "c9", "x")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestSetVideoResetsPlayback(t *testing.T) {
	ctx := context.Background()
	s, rec, _ := newTestRoom(t, Options{})
	_, err := s.Join(ctx, "c1", "v1", "Alice")
	require.NoError(t, err)
	_, err = s.ApplyPlaybackControl(ctx, PlaybackCommand{ConnectionID: "c1", Action: domain.ActionPlay, CurrentTime: ptr(42.0)})
	require.NoError(t, err)
	rec.reset()

	info := domain.VideoInfo{FileName: "1-abc.mp4", OriginalName: "movie.mp4", MimeType: "video/mp4", Size: 10, Path: "/uploads/1-abc.mp4"}
	prev, st, err := s.SetVideo(ctx, info)
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, 0.0, st.CurrentTime)
	assert.Equal(t, uint64(2), st.Seq)

	assert.Equal(t, 1, count[*domain.VideoUpdatedMessage](rec))
	updates := rec.playbackUpdates()
	require.Len(t, updates, 1)
	assert.False(t, updates[0].IsPlaying)

	prev, _, err = s.SetVideo(ctx, domain.VideoInfo{FileName: "2-def.mp4"})
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "1-abc.mp4", prev.FileName)

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.True(t, sum.HasVideo)
	assert.Equal(t, 1, sum.ViewerCount)
}

func TestConcurrentControlIsSerialized(t *testing.T) {
	ctx := context.Background()
	s, rec, _ := newTestRoom(t, Options{})
	for i := 0; i < 4; i++ {
		_, err := s.Join(ctx, fmt.Sprintf("c%d", i), fmt.Sprintf("v%d", i), "x")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := s.ApplyPlaybackControl(ctx, PlaybackCommand{
					ConnectionID: fmt.Sprintf("c%d", i),
					Action:       domain.ActionSeek,
					CurrentTime:  ptr(float64(j)),
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	st, err := s.Playback(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), st.Seq)

	updates := rec.playbackUpdates()
	require.Len(t, updates, 200)
	for i, u := range updates {
		assert.Equal(t, uint64(i+1), u.Seq)
	}
}

func TestClosedSession(t *testing.T) {
	s, _, _ := newTestRoom(t, Options{})
	s.Close()

	_, err := s.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
