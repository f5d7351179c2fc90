// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// Track represents a catalog track.
// Contains only information retrieved from the catalog API; immutable once built.
type Track struct {
	ID       string        // Stable catalog track ID
	Name     string        // Track name
	Artists  []string      // Artist names
	Album    string        // Album name
	Duration time.Duration // Track duration
	URI      string        // Playback URI (e.g. spotify:track:...)
	Explicit bool          // Explicit content flag
}

// ArtistLine returns the artists joined for display.
func (t Track) ArtistLine() string {
	return strings.Join(t.Artists, ", ")
}

// Device represents a playback device known to the catalog.
type Device struct {
	ID     string // Device ID
	Name   string // Display name
	Active bool   // Currently active device
}

// EntityKind classifies a catalog entity.
type EntityKind string

const (
	KindTrack    EntityKind = "track"
	KindAlbum    EntityKind = "album"
	KindArtist   EntityKind = "artist"
	KindPlaylist EntityKind = "playlist"
)

// Entity is a generic catalog item returned by search, browse and library
// listings. Tracks is populated by browse for container entities.
type Entity struct {
	Kind    EntityKind
	ID      string
	Name    string
	Artists []string
	Tracks  []Track
}

// TrackIDs returns the IDs of the entity's tracks.
func (e Entity) TrackIDs() []string {
	ids := make([]string, 0, len(e.Tracks))
	for _, t := range e.Tracks {
		ids = append(ids, t.ID)
	}
	return ids
}

// TotalDuration returns the summed duration of the entity's tracks in seconds.
func (e Entity) TotalDuration() int64 {
	var total time.Duration
	for _, t := range e.Tracks {
		total += t.Duration
	}
	return int64(total.Seconds())
}
