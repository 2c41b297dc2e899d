// Package player provides a simulated video engine for headless viewers and
// tests. Position advances with the injected clock while playing.
package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var ErrNotReady = errors.New("player not ready")

// Listener receives the events a browser video element would fire.
type Listener interface {
	OnPlay()
	OnPause()
	OnSeeked()
	OnTimeUpdate()
	OnReady()
}

// Sim is a simulated video engine. Events are delivered synchronously from
// the goroutine that caused them, never while the Sim's lock is held.
type Sim struct {
	clock    clock.Clock
	mu       sync.Mutex
	listener Listener
	ready    bool
	playing  bool
	base     float64
	since    time.Time
	duration float64
	playErr  error
}

// NewSim creates a paused, not-yet-ready player. A zero duration means
// unbounded.
func NewSim(clk clock.Clock, duration float64) *Sim {
	if clk == nil {
		clk = clock.New()
	}
	return &Sim{clock: clk, duration: duration}
}

// SetListener installs the event receiver.
func (s *Sim) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *Sim) emit(fn func(Listener)) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		fn(l)
	}
}

func (s *Sim) positionLocked() float64 {
	pos := s.base
	if s.playing {
		pos += s.clock.Since(s.since).Seconds()
	}
	if s.duration > 0 && pos > s.duration {
		pos = s.duration
	}
	return pos
}

// Load marks the media as ready and fires OnReady.
func (s *Sim) Load() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	s.emit(Listener.OnReady)
}

// Unload drops readiness, as when a new source is being fetched.
func (s *Sim) Unload() {
	s.mu.Lock()
	s.ready = false
	s.playing = false
	s.base = 0
	s.mu.Unlock()
}

func (s *Sim) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Sim) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.playing
}

func (s *Sim) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

// FailNextPlay makes the next Play return err, like an autoplay refusal.
func (s *Sim) FailNextPlay(err error) {
	s.mu.Lock()
	s.playErr = err
	s.mu.Unlock()
}

func (s *Sim) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return ErrNotReady
	}
	if err := s.playErr; err != nil {
		s.playErr = nil
		s.mu.Unlock()
		return err
	}
	if s.playing {
		s.mu.Unlock()
		return nil
	}
	s.playing = true
	s.since = s.clock.Now()
	s.mu.Unlock()

	s.emit(Listener.OnPlay)
	return nil
}

func (s *Sim) Pause() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	s.base = s.positionLocked()
	s.playing = false
	s.mu.Unlock()

	s.emit(Listener.OnPause)
}

func (s *Sim) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	s.mu.Lock()
	if s.duration > 0 && t > s.duration {
		t = s.duration
	}
	s.base = t
	s.since = s.clock.Now()
	s.mu.Unlock()

	s.emit(Listener.OnSeeked)
}

// Tick fires one timeupdate.
func (s *Sim) Tick() {
	s.emit(Listener.OnTimeUpdate)
}

// Run fires timeupdate every interval while playing, until ctx is done.
func (s *Sim) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Paused() {
				s.Tick()
			}
		}
	}
}
