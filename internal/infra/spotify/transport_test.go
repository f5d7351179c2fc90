package spotify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strumcli/strum/internal/app/player"
)

func eventTypes(evs []player.Event) []player.EventType {
	var types []player.EventType
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	return types
}

func TestDiffStates(t *testing.T) {
	playingA := engineState{trackID: "A", progress: 30000, duration: 180000, playing: true, deviceID: "dev1", deviceName: "Office"}

	tests := []struct {
		name string
		prev engineState
		cur  engineState
		want []player.EventType
	}{
		{
			name: "first sample with playback",
			prev: engineState{},
			cur:  playingA,
			want: []player.EventType{player.EventDeviceChanged, player.EventTrackStarted},
		},
		{
			name: "steady playback",
			prev: playingA,
			cur:  engineState{trackID: "A", progress: 31000, duration: 180000, playing: true, deviceID: "dev1", deviceName: "Office"},
			want: []player.EventType{player.EventPositionUpdate},
		},
		{
			name: "track change mid-session",
			prev: playingA,
			cur:  engineState{trackID: "B", progress: 0, duration: 200000, playing: true, deviceID: "dev1", deviceName: "Office"},
			want: []player.EventType{player.EventTrackEnded, player.EventTrackStarted},
		},
		{
			name: "playback stops entirely",
			prev: playingA,
			cur:  engineState{deviceID: "dev1", deviceName: "Office"},
			want: []player.EventType{player.EventTrackEnded},
		},
		{
			name: "stop while paused is not an end",
			prev: engineState{trackID: "A", progress: 30000, duration: 180000, playing: false, deviceID: "dev1"},
			cur:  engineState{deviceID: "dev1"},
			want: nil,
		},
		{
			name: "pause near the end counts as a natural end",
			prev: engineState{trackID: "A", progress: 179000, duration: 180000, playing: true, deviceID: "dev1"},
			cur:  engineState{trackID: "A", progress: 180000, duration: 180000, playing: false, deviceID: "dev1"},
			want: []player.EventType{player.EventTrackEnded},
		},
		{
			name: "pause mid-track is a position update",
			prev: playingA,
			cur:  engineState{trackID: "A", progress: 30000, duration: 180000, playing: false, deviceID: "dev1"},
			want: []player.EventType{player.EventPositionUpdate},
		},
		{
			name: "device handoff",
			prev: playingA,
			cur:  engineState{trackID: "A", progress: 31000, duration: 180000, playing: true, deviceID: "dev2", deviceName: "Kitchen"},
			want: []player.EventType{player.EventDeviceChanged, player.EventPositionUpdate},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eventTypes(diffStates(tt.prev, tt.cur)))
		})
	}
}

func TestDiffStates_TrackStartedCarriesSample(t *testing.T) {
	cur := engineState{trackID: "B", progress: 1500, duration: 200000, playing: true, deviceID: "dev1", deviceName: "Office"}
	evs := diffStates(engineState{}, cur)
	require.NotEmpty(t, evs)

	started := evs[len(evs)-1]
	require.Equal(t, player.EventTrackStarted, started.Type)
	assert.Equal(t, "B", started.TrackID)
	assert.Equal(t, 1500, started.Position)
	assert.Equal(t, 200000, started.Duration)
	assert.True(t, started.Playing)
}

func TestDiffStates_DeviceChangeCarriesDevice(t *testing.T) {
	cur := engineState{trackID: "A", progress: 0, duration: 1000, playing: true, deviceID: "dev2", deviceName: "Kitchen"}
	evs := diffStates(engineState{trackID: "A", deviceID: "dev1", playing: true}, cur)
	require.NotEmpty(t, evs)

	changed := evs[0]
	require.Equal(t, player.EventDeviceChanged, changed.Type)
	assert.Equal(t, "dev2", changed.DeviceID)
	require.NotNil(t, changed.Device)
	assert.Equal(t, "Kitchen", changed.Device.Name)
}

func TestNearEnd(t *testing.T) {
	assert.True(t, nearEnd(engineState{progress: 178000, duration: 180000}))
	assert.False(t, nearEnd(engineState{progress: 90000, duration: 180000}))
	// Unknown duration never looks like an ending.
	assert.False(t, nearEnd(engineState{progress: 178000}))
}
