package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelToTopicAndKey(t *testing.T) {
	topic, key, err := channelToTopicAndKey(RoomEventsChannel("chillsync", "AB12CD"))
	require.NoError(t, err)
	assert.Equal(t, RoomEventsTopic("chillsync"), topic)
	assert.Equal(t, "AB12CD", key)

	for _, bad := range []string{"", "chillsync:room::events", "a:b:c:d", "chillsync:room:X"} {
		_, _, err := channelToTopicAndKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewPublisherDrivers(t *testing.T) {
	p, err := NewPublisher(DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, Noop{}, p)
	assert.NoError(t, p.Publish(context.Background(), "x", nil))

	_, err = NewPublisher(Config{Driver: "nats"})
	assert.Error(t, err)
}

func TestNewEventPayloadRoundTrip(t *testing.T) {
	ev, err := NewEvent(EventChatMessage, "AB12CD", ChatPayload{RoomID: "AB12CD", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", ev.RoomID)

	var p ChatPayload
	require.NoError(t, ev.UnmarshalPayload(&p))
	assert.Equal(t, "hi", p.Text)
}
