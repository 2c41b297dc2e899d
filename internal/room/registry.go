package room

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/MayoPickle/tofu-chillsync/internal/domain"
)

// Options configures the registry and the sessions it creates.
type Options struct {
	IDLength         int
	IDMaxAttempts    int
	ChatHistoryLimit int
	HostOnlyControl  bool
	Clock            clock.Clock
	NewID            IDGenerator
}

func (o *Options) applyDefaults() {
	if o.IDLength <= 0 {
		o.IDLength = 6
	}
	if o.IDMaxAttempts <= 0 {
		o.IDMaxAttempts = 16
	}
	if o.ChatHistoryLimit <= 0 {
		o.ChatHistoryLimit = 500
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.NewID == nil {
		o.NewID = NanoIDGenerator(o.IDLength)
	}
}

// Registry is the directory of live rooms. Rooms are never evicted.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Session
	bc    Broadcaster
	opts  Options
}

func NewRegistry(bc Broadcaster, opts Options) *Registry {
	opts.applyDefaults()
	return &Registry{
		rooms: make(map[string]*Session),
		bc:    bc,
		opts:  opts,
	}
}

// Create makes a room with a fresh id, regenerating on collision.
func (r *Registry) Create(hostName, name, theme string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.opts.IDMaxAttempts; i++ {
		id, err := r.opts.NewID()
		if err != nil {
			return nil, err
		}
		if _, taken := r.rooms[id]; taken {
			continue
		}
		s := newSession(id, hostName, name, theme, r.bc, r.opts)
		r.rooms[id] = s
		return s, nil
	}
	return nil, ErrIDExhausted
}

// Get looks a room up by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// List returns a summary of every room, oldest first.
func (r *Registry) List(ctx context.Context) ([]domain.RoomSummary, error) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.rooms))
	for _, s := range r.rooms {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]domain.RoomSummary, 0, len(sessions))
	for _, s := range sessions {
		sum, err := s.Summary(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Len is the number of rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close stops every room loop. Used at process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rooms {
		s.Close()
	}
}
