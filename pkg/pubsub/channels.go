package pubsub

import (
	"fmt"
	"strings"
)

// ChannelRoomEvents is the per-room channel, "<prefix>:room:<roomID>:events".
const ChannelRoomEvents = "%s:room:%s:events"

// Room activity event types.
const (
	EventRoomCreated     = "room.created"
	EventViewerJoined    = "viewer.joined"
	EventViewerLeft      = "viewer.left"
	EventViewerRenamed   = "viewer.renamed"
	EventChatMessage     = "chat.message"
	EventVideoUpdated    = "video.updated"
	EventPlaybackChanged = "playback.changed"
)

// RoomEventsChannel returns the channel name for a room's activity events.
func RoomEventsChannel(prefix, roomID string) string {
	return fmt.Sprintf(ChannelRoomEvents, prefix, roomID)
}

// RoomEventsTopic is the Kafka topic all room channels of a prefix map to.
func RoomEventsTopic(prefix string) string {
	return prefix + "-room-events"
}

// channelToTopicAndKey converts a Redis-style channel to a Kafka topic and message key.
//
//	"chillsync:room:AB12CD:events" → topic: "chillsync-room-events", key: "AB12CD"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[1] != "room" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[0] + "-room-" + parts[3], parts[2], nil
}

// Payloads.

// RoomCreatedPayload describes a newly created room.
type RoomCreatedPayload struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
	Theme  string `json:"theme"`
	Host   string `json:"host"`
}

// ViewerPayload describes a roster change.
type ViewerPayload struct {
	RoomID       string `json:"room_id"`
	ConnectionID string `json:"connection_id"`
	VisitorID    string `json:"visitor_id"`
	Name         string `json:"name"`
	OldName      string `json:"old_name,omitempty"`
}

// ChatPayload mirrors a chat line.
type ChatPayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	VisitorID string `json:"visitor_id"`
	Text      string `json:"text"`
	IsSystem  bool   `json:"is_system"`
}

// VideoPayload describes an uploaded video.
type VideoPayload struct {
	RoomID       string `json:"room_id"`
	FileName     string `json:"file_name"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
}

// PlaybackPayload describes an accepted playback mutation.
type PlaybackPayload struct {
	RoomID      string  `json:"room_id"`
	Action      string  `json:"action"`
	CurrentTime float64 `json:"current_time"`
	IsPlaying   bool    `json:"is_playing"`
	Seq         uint64  `json:"seq"`
	InitiatorID string  `json:"initiator_id"`
}
