package domain

import (
	"sync"
	"time"
)

// Session is the per-connection state the protocol handlers read and update.
type Session struct {
	ID            string
	VisitorID     string
	DisplayName   string
	CurrentRoomID string
	CreatedAt     time.Time
	LastActiveAt  time.Time
	mu            sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

func (s *Session) JoinRoom(roomID, visitorID, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentRoomID = roomID
	s.VisitorID = visitorID
	s.DisplayName = displayName
	s.LastActiveAt = time.Now()
}

func (s *Session) LeaveRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentRoomID = ""
	s.LastActiveAt = time.Now()
}

func (s *Session) Rename(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DisplayName = name
}

func (s *Session) GetCurrentRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentRoomID
}

func (s *Session) GetVisitorID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.VisitorID
}

func (s *Session) GetDisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DisplayName
}

func (s *Session) IsInRoom() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentRoomID != ""
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}

// IdleFor is how long the connection has gone without any inbound frame.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.LastActiveAt)
}
