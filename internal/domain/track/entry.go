package track

import (
	"time"

	"github.com/google/uuid"
)

// EntryState represents the lifecycle state of a queue entry.
type EntryState int

const (
	EntryPending   EntryState = iota // Waiting to be played
	EntryActive                      // Currently playing
	EntryCompleted                   // Finished playing
)

// String returns the string representation of the entry state.
func (s EntryState) String() string {
	switch s {
	case EntryPending:
		return "pending"
	case EntryActive:
		return "active"
	case EntryCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// QueueEntry is a track occurrence in the logical play queue. EntryID is
// local to the queue and distinct from Track.ID: the same track may be
// queued more than once.
type QueueEntry struct {
	EntryID string     // Entry-local identity
	Seq     uint64     // Monotonic insertion sequence number
	Track   Track      // Catalog track info
	State   EntryState // Lifecycle state
	AddedAt time.Time  // Time when added to queue
}

// NewQueueEntry creates a Pending entry for the given track and sequence.
func NewQueueEntry(t Track, seq uint64) QueueEntry {
	return QueueEntry{
		EntryID: uuid.New().String(),
		Seq:     seq,
		Track:   t,
		State:   EntryPending,
		AddedAt: time.Now(),
	}
}
