// Package state publishes immutable playback/queue snapshots to the
// presentation layer. The queue coordinator is the single writer; consumers
// only ever observe a complete, point-in-time snapshot.
package state

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strumcli/strum/internal/app/player"
	"github.com/strumcli/strum/internal/domain/track"
)

// QueueItem is the read-only view of one logical queue entry. Skipped marks
// a logically removed entry that stays visible in the queue view.
type QueueItem struct {
	EntryID string
	Seq     uint64
	Track   track.Track
	State   track.EntryState
	Skipped bool
}

// Playback is the read-only playback state.
type Playback struct {
	Current    *QueueItem // nil when nothing is playing
	PositionMs int
	DurationMs int
	ReportedAt time.Time // when PositionMs was last reported
	Playing    bool
	Shuffle    bool
	Repeat     player.RepeatMode
	Volume     int
	DeviceID   string
	DeviceName string
	Stalled    bool // queue advancement gave up after bounded auto-skips
}

// Position returns the playback position interpolated from the last
// transport report, clamped to the track duration.
func (p Playback) Position() int {
	pos := p.PositionMs
	if p.Playing && !p.ReportedAt.IsZero() {
		pos += int(time.Since(p.ReportedAt).Milliseconds())
	}
	if p.DurationMs > 0 && pos > p.DurationMs {
		pos = p.DurationMs
	}
	return pos
}

// Snapshot is one published view of the engine state.
type Snapshot struct {
	Revision uint64
	At       time.Time
	Playback Playback
	Queue    []QueueItem
	Notice   string // most recent non-fatal user-visible notice, if any
	Fatal    string // fatal session error; empty while the session is healthy
}

// Bridge holds the latest snapshot and notifies subscribers on change.
type Bridge struct {
	mu       sync.RWMutex
	snap     Snapshot
	revision uint64
	subs     map[string]chan Snapshot
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{subs: make(map[string]chan Snapshot)}
}

// Publish installs a new snapshot and notifies subscribers. Called only by
// the queue coordinator.
func (b *Bridge) Publish(s Snapshot) {
	// Detach from the publisher's backing array so later writes never show
	// through a held snapshot.
	if len(s.Queue) > 0 {
		queue := make([]QueueItem, len(s.Queue))
		copy(queue, s.Queue)
		s.Queue = queue
	}

	b.mu.Lock()
	b.revision++
	s.Revision = b.revision
	s.At = time.Now()
	b.snap = s

	subs := make([]chan Snapshot, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		// Coalesce: drop the stale pending snapshot rather than block the
		// coordinator on a slow consumer.
		for {
			select {
			case ch <- s:
			default:
				select {
				case <-ch:
					continue
				default:
				}
			}
			break
		}
	}
}

// Current returns the latest snapshot.
func (b *Bridge) Current() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

// Subscribe registers a change listener. The returned channel carries the
// latest snapshot; stale intermediate snapshots may be coalesced away.
func (b *Bridge) Subscribe() (string, <-chan Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan Snapshot, 1)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener.
func (b *Bridge) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// SubscriberCount returns the number of active listeners.
func (b *Bridge) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
