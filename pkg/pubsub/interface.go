package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one room activity record published to the event bus.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates a new event stamped with the current time.
func NewEvent(eventType, roomID string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		RoomID:    roomID,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// UnmarshalPayload unmarshals the event payload into v.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher publishes events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
	Close() error
}

// Noop drops every event. Used when no bus is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, *Event) error { return nil }
func (Noop) Close() error                                  { return nil }
