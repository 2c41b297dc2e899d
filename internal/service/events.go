package service

import (
	"context"
	"sync"
	"time"

	"github.com/MayoPickle/tofu-chillsync/pkg/log"
	"github.com/MayoPickle/tofu-chillsync/pkg/pubsub"
)

const publishTimeout = 5 * time.Second

type queuedEvent struct {
	channel string
	event   *pubsub.Event
}

// EventSink forwards room activity to the configured bus from a single
// goroutine, so events for a room leave in the order they were emitted.
// Emit never blocks: when the queue is full the event is dropped.
type EventSink struct {
	pub    pubsub.Publisher
	prefix string
	queue  chan queuedEvent
	once   sync.Once
	done   chan struct{}
}

func NewEventSink(pub pubsub.Publisher, channelPrefix string, buffer int) *EventSink {
	if pub == nil {
		pub = pubsub.Noop{}
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &EventSink{
		pub:    pub,
		prefix: channelPrefix,
		queue:  make(chan queuedEvent, buffer),
		done:   make(chan struct{}),
	}
}

// Emit queues an event for roomID.
func (s *EventSink) Emit(eventType, roomID string, payload interface{}) {
	if _, ok := s.pub.(pubsub.Noop); ok {
		return
	}
	ev, err := pubsub.NewEvent(eventType, roomID, payload)
	if err != nil {
		l := log.L()
		l.Warn().Err(err).Str("event_type", eventType).Msg("failed to encode event")
		return
	}

	select {
	case s.queue <- queuedEvent{channel: pubsub.RoomEventsChannel(s.prefix, roomID), event: ev}:
	default:
		l := log.L()
		l.Warn().Str("event_type", eventType).Str(log.FieldRoomID, roomID).Msg("event queue full, dropping event")
	}
}

// Run publishes queued events until ctx is done, then drains what is left.
func (s *EventSink) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case q := <-s.queue:
			s.publish(q)
		case <-ctx.Done():
			for {
				select {
				case q := <-s.queue:
					s.publish(q)
				default:
					return
				}
			}
		}
	}
}

func (s *EventSink) publish(q queuedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.pub.Publish(ctx, q.channel, q.event); err != nil {
		l := log.L()
		l.Warn().Err(err).
			Str("event_type", q.event.Type).
			Str("channel", q.channel).
			Msg("failed to publish event")
	}
}

// Close waits for Run to drain and closes the publisher.
func (s *EventSink) Close() error {
	var err error
	s.once.Do(func() {
		<-s.done
		err = s.pub.Close()
	})
	return err
}
