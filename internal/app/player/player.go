// Package player defines the capability contracts the queue coordinator
// depends on: the playback transport and the catalog client. Each has one
// concrete implementation under internal/infra.
package player

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/strumcli/strum/internal/domain/track"
)

// Playback transport errors.
var (
	ErrTrackUnavailable      = errors.New("track unavailable")
	ErrNoDevice              = errors.New("no active playback device")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrTransportDisconnected = errors.New("transport disconnected")
)

// Catalog errors.
var (
	ErrRateLimited        = errors.New("rate limited")
	ErrNotFound           = errors.New("not found")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// RepeatMode represents the repeat mode of the logical queue.
type RepeatMode int

const (
	RepeatOff   RepeatMode = iota // No repeat
	RepeatTrack                   // Repeat the current entry
	RepeatQueue                   // Cycle the whole queue
)

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatTrack:
		return "track"
	case RepeatQueue:
		return "queue"
	default:
		return "unknown"
	}
}

// Next cycles off -> queue -> track -> off.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatQueue
	case RepeatQueue:
		return RepeatTrack
	default:
		return RepeatOff
	}
}

// EventType represents a transport event type.
type EventType int

const (
	EventTrackStarted   EventType = iota // Transport started a track
	EventTrackEnded                      // Current track finished
	EventPositionUpdate                  // Periodic position report
	EventDeviceChanged                   // Active device changed
	EventDisconnected                    // Transport connection lost
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventPositionUpdate:
		return "position_update"
	case EventDeviceChanged:
		return "device_changed"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a transport-reported playback event. Events are delivered in the
// order the transport observed them; a Disconnected event invalidates every
// in-flight expectation derived from earlier events.
type Event struct {
	Type     EventType
	TrackID  string        // Started track (EventTrackStarted only)
	Position int           // Position in ms (position and start events)
	Duration int           // Track duration in ms (position and start events)
	Playing  bool          // Whether the transport reports active playback
	DeviceID string        // New device (EventDeviceChanged only)
	Device   *track.Device // New device detail, when known
}

// Transport is the playback engine facade. Operations are idempotent with
// respect to repeated identical calls. It exposes no queue-removal
// primitive; skipping is emulated above this interface.
type Transport interface {
	Play(ctx context.Context, trackID string) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Next(ctx context.Context) error
	Seek(ctx context.Context, position int) error
	SetVolume(ctx context.Context, level int) error
	SetShuffle(ctx context.Context, shuffle bool) error
	SetRepeat(ctx context.Context, mode RepeatMode) error
	SelectDevice(ctx context.Context, deviceID string) error

	// Events returns the transport's event subscription: a lazy, infinite,
	// non-restartable stream owned by the transport. Closed on shutdown.
	Events() <-chan Event
}

// Catalog is the metadata/control API facade. All operations are
// read/append-only; none mutate playlists.
type Catalog interface {
	Search(ctx context.Context, query string, kinds []track.EntityKind) ([]track.Entity, error)
	Browse(ctx context.Context, entityID string) (*track.Entity, error)
	ListDevices(ctx context.Context) ([]track.Device, error)
	ListLibrary(ctx context.Context) ([]track.Entity, error)
	// AddToQueue appends to the remote player's own queue. Best effort: the
	// remote queue is not authoritative for the logical queue.
	AddToQueue(ctx context.Context, trackID string) error
}
