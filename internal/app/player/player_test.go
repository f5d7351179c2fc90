package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepeatMode_Next(t *testing.T) {
	assert.Equal(t, RepeatQueue, RepeatOff.Next())
	assert.Equal(t, RepeatTrack, RepeatQueue.Next())
	assert.Equal(t, RepeatOff, RepeatTrack.Next())
}

func TestRepeatMode_String(t *testing.T) {
	assert.Equal(t, "off", RepeatOff.String())
	assert.Equal(t, "track", RepeatTrack.String())
	assert.Equal(t, "queue", RepeatQueue.String())
	assert.Equal(t, "unknown", RepeatMode(9).String())
}

func TestEventType_String(t *testing.T) {
	tests := []struct {
		typ  EventType
		want string
	}{
		{EventTrackStarted, "track_started"},
		{EventTrackEnded, "track_ended"},
		{EventPositionUpdate, "position_update"},
		{EventDeviceChanged, "device_changed"},
		{EventDisconnected, "disconnected"},
		{EventType(9), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.typ.String())
	}
}
