// Package queue provides the skip-list queue coordinator: the single
// serialization point for the logical play queue, the skip set and the
// playback state.
//
// The playback transport can only be told "play this track" or "play next";
// it has no queue-removal primitive. Removal is therefore emulated with a
// transient skip set: removed entries stay in the logical queue (keeping
// ordering and indices stable for the view) and are filtered out whenever
// the next track is selected. An entry in the skip set is never reported as
// the current entry, even when a removal races an in-flight play.
package queue

import (
	"context"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/strumcli/strum/internal/app/player"
	"github.com/strumcli/strum/internal/app/state"
	"github.com/strumcli/strum/internal/domain/track"
)

// timeNow is swapped in tests.
var timeNow = time.Now

// Errors
var (
	ErrEntryNotFound   = errors.New("queue entry not found")
	ErrEntryNotPending = errors.New("only pending entries can be removed")
	ErrSessionLost     = errors.New("session lost")
	ErrClosed          = errors.New("coordinator closed")
)

// Config holds coordinator configuration.
type Config struct {
	// MaxAutoSkips bounds consecutive unavailable-track auto-skips before
	// the queue is declared stalled.
	MaxAutoSkips int
	// VolumeStep is the increment used by VolumeUp/VolumeDown.
	VolumeStep int
}

// RenewFunc renews the session and rebinds the adapters to the fresh
// tokens. Called synchronously when an adapter reports Unauthorized.
type RenewFunc func(ctx context.Context) error

// Coordinator owns the logical queue. All queue/state mutations are applied
// on a single run goroutine fed by a command channel, so the skip set and
// the logical queue are always observed consistently. Remote calls are
// issued off that goroutine; only the resulting state transition re-enters
// it.
type Coordinator struct {
	transport player.Transport
	catalog   player.Catalog
	bridge    *state.Bridge
	renew     RenewFunc
	cfg       Config

	cmds    chan func()
	runCtx  context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	rng *rand.Rand

	// State below is owned by the run goroutine.
	entries    []*track.QueueEntry
	skips      map[string]struct{}
	current    *track.QueueEntry
	pending    *track.QueueEntry // play issued, start not yet confirmed
	seq        uint64
	autoSkips  int
	stalled    bool
	fatal      error
	notice     string
	shuffle    bool
	repeat     player.RepeatMode
	volume     int
	deviceID   string
	deviceName string
	positionMs int
	durationMs int
	reportedAt time.Time
	playing    bool
}

// New creates a coordinator over the given adapters.
func New(transport player.Transport, catalog player.Catalog, bridge *state.Bridge, renew RenewFunc, cfg Config) *Coordinator {
	if cfg.MaxAutoSkips <= 0 {
		cfg.MaxAutoSkips = 5
	}
	if cfg.VolumeStep <= 0 {
		cfg.VolumeStep = 5
	}
	if renew == nil {
		renew = func(context.Context) error { return errors.New("no renewal configured") }
	}
	return &Coordinator{
		transport: transport,
		catalog:   catalog,
		bridge:    bridge,
		renew:     renew,
		cfg:       cfg,
		cmds:      make(chan func(), 32),
		stopped:   make(chan struct{}),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		skips:     make(map[string]struct{}),
		volume:    50,
	}
}

// Run starts the coordinator loop and pins the engine's own shuffle/repeat
// off so it never advances on its own underneath the logical queue.
func (c *Coordinator) Run(ctx context.Context) {
	c.runCtx, c.cancel = context.WithCancel(ctx)
	go c.loop()

	go func() {
		if err := c.withReauth(c.runCtx, func(ctx context.Context) error {
			return c.transport.SetRepeat(ctx, player.RepeatOff)
		}); err != nil {
			zlog.Debug().Err(err).Msg("queue: could not pin engine repeat off")
		}
		if err := c.withReauth(c.runCtx, func(ctx context.Context) error {
			return c.transport.SetShuffle(ctx, false)
		}); err != nil {
			zlog.Debug().Err(err).Msg("queue: could not pin engine shuffle off")
		}
	}()
}

// Close stops the coordinator.
func (c *Coordinator) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.stopped
}

func (c *Coordinator) loop() {
	defer close(c.stopped)
	for {
		select {
		case <-c.runCtx.Done():
			return
		case fn := <-c.cmds:
			fn()
		case ev, ok := <-c.transport.Events():
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

// do schedules fn on the run goroutine without waiting.
func (c *Coordinator) do(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.runCtx.Done():
	}
}

// doWait runs fn on the run goroutine and waits for it.
func (c *Coordinator) doWait(fn func()) error {
	done := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(done) }:
	case <-c.runCtx.Done():
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-c.runCtx.Done():
		return ErrClosed
	}
}

// Enqueue appends a Pending entry for the track and returns its entry ID.
// Duplicate track IDs are permitted; entry identity is queue-local.
func (c *Coordinator) Enqueue(t track.Track) (string, error) {
	var id string
	err := c.doWait(func() {
		c.seq++
		e := track.NewQueueEntry(t, c.seq)
		c.entries = append(c.entries, &e)
		id = e.EntryID
		zlog.Debug().Str("entry", id).Str("track", t.Name).Uint64("seq", e.Seq).Msg("queue: enqueued")
		c.publish()
	})
	return id, err
}

// Remove logically removes a Pending entry: it is added to the skip set and
// stays visible in the queue view. Active entries are rejected; the
// transport has no mid-playback cancellation that avoids audible
// disruption, so removal takes effect on track boundaries.
func (c *Coordinator) Remove(entryID string) error {
	var opErr error
	err := c.doWait(func() {
		e := c.findEntry(entryID)
		if e == nil {
			opErr = ErrEntryNotFound
			return
		}
		if e.State != track.EntryPending {
			opErr = errors.Wrapf(ErrEntryNotPending, "entry is %s", e.State)
			return
		}
		c.skips[e.EntryID] = struct{}{}
		zlog.Debug().Str("entry", entryID).Str("track", e.Track.Name).Msg("queue: entry marked skipped")
		// If this entry's play is already in flight, the start confirmation
		// re-checks the skip set and advances past it: the skip wins.
		c.publish()
	})
	if err != nil {
		return err
	}
	return opErr
}

// PlayNow bypasses the queue: it clears the entire skip set (fresh user
// intent supersedes prior removals), makes the track the current entry and
// issues play immediately.
func (c *Coordinator) PlayNow(t track.Track) error {
	return c.doWait(func() {
		if n := len(c.skips); n > 0 {
			zlog.Debug().Int("count", n).Msg("queue: clearing skip set")
		}
		c.skips = make(map[string]struct{})
		c.autoSkips = 0
		c.stalled = false

		c.finishCurrent()
		c.seq++
		e := track.NewQueueEntry(t, c.seq)
		e.State = track.EntryActive
		c.current = &e
		c.positionMs = 0
		c.durationMs = int(t.Duration / time.Millisecond)
		c.reportedAt = timeNow()
		c.startPlay(&e)
		c.publish()
	})
}

// Advance completes the current entry, if any, and plays the next eligible
// one. It is also the handler for natural track boundaries reported by the
// transport.
func (c *Coordinator) Advance() error {
	return c.doWait(func() {
		c.finishCurrent()
		c.advance()
	})
}

// advance selects the next entry in insertion order (or uniformly at random
// under shuffle) whose state is Pending and whose identity is not in the
// skip set, and issues play for it. Exhaustion under repeat-queue recycles
// Completed entries back to Pending.
func (c *Coordinator) advance() {
	if c.repeat == player.RepeatTrack && c.current != nil {
		c.startPlay(c.current)
		return
	}

	e := c.selectNext()
	if e == nil && c.repeat == player.RepeatQueue && c.recycleCompleted() {
		e = c.selectNext()
	}
	if e == nil {
		zlog.Debug().Msg("queue: exhausted")
		c.current = nil
		c.pending = nil
		c.playing = false
		c.publish()
		return
	}
	c.startPlay(e)
}

// selectNext returns the next eligible Pending, non-skipped entry.
func (c *Coordinator) selectNext() *track.QueueEntry {
	var eligible []*track.QueueEntry
	for _, e := range c.entries {
		if e.State != track.EntryPending {
			continue
		}
		if _, skipped := c.skips[e.EntryID]; skipped {
			continue
		}
		if !c.shuffle {
			return e // entries are kept in insertion (seq) order
		}
		eligible = append(eligible, e)
	}
	if len(eligible) == 0 {
		return nil
	}
	return eligible[c.rng.Intn(len(eligible))]
}

// recycleCompleted flips Completed entries back to Pending for repeat-queue
// cycling. Skip markers are preserved. Reports whether anything changed.
func (c *Coordinator) recycleCompleted() bool {
	changed := false
	for _, e := range c.entries {
		if e.State == track.EntryCompleted {
			e.State = track.EntryPending
			changed = true
		}
	}
	return changed
}

// startPlay issues play for the entry off the run goroutine. The entry
// stays Pending (and removable) until the start is confirmed; the
// confirmation re-checks the skip set so a concurrent removal always wins.
func (c *Coordinator) startPlay(e *track.QueueEntry) {
	c.pending = e
	trackID := e.Track.ID
	go func() {
		err := c.withReauth(c.runCtx, func(ctx context.Context) error {
			return c.transport.Play(ctx, trackID)
		})
		c.do(func() { c.onPlayResult(e, err) })
	}()
}

// onPlayResult applies the state transition for a completed play call.
func (c *Coordinator) onPlayResult(e *track.QueueEntry, err error) {
	if c.pending != e {
		// Superseded by newer intent (play_now, disconnect, or the start
		// was already confirmed via a transport event).
		return
	}
	c.pending = nil

	switch {
	case err == nil:
		c.confirmStarted(e)

	case errors.Is(err, player.ErrTrackUnavailable):
		c.skips[e.EntryID] = struct{}{}
		c.autoSkips++
		zlog.Warn().Str("track", e.Track.Name).Int("consecutive", c.autoSkips).Msg("queue: track unavailable, auto-skipping")
		if c.autoSkips >= c.cfg.MaxAutoSkips {
			c.stalled = true
			c.playing = false
			c.notice = "playback stalled: too many unavailable tracks"
			c.publish()
			return
		}
		c.advance()

	case errors.Is(err, player.ErrNoDevice):
		c.notice = "no active playback device"
		c.publish()

	case errors.Is(err, ErrSessionLost):
		c.fatal = err
		c.playing = false
		c.publish()

	default:
		c.notice = err.Error()
		zlog.Error().Err(err).Str("track", e.Track.Name).Msg("queue: play failed")
		c.publish()
	}
}

// confirmStarted promotes a pending entry to current, unless a removal won
// the race, in which case the entry is advanced past.
func (c *Coordinator) confirmStarted(e *track.QueueEntry) {
	if _, skipped := c.skips[e.EntryID]; skipped {
		zlog.Info().Str("track", e.Track.Name).Msg("queue: started entry is skip-listed, advancing past it")
		c.advance()
		return
	}
	if c.current != e {
		c.finishCurrent()
	}
	e.State = track.EntryActive
	c.current = e
	c.playing = true
	c.positionMs = 0
	c.durationMs = int(e.Track.Duration / time.Millisecond)
	c.reportedAt = timeNow()
	c.autoSkips = 0
	c.stalled = false
	c.publish()
}

// finishCurrent marks the current entry Completed.
func (c *Coordinator) finishCurrent() {
	if c.current != nil && c.current.State == track.EntryActive {
		c.current.State = track.EntryCompleted
	}
}

func (c *Coordinator) findEntry(entryID string) *track.QueueEntry {
	for _, e := range c.entries {
		if e.EntryID == entryID {
			return e
		}
	}
	if c.current != nil && c.current.EntryID == entryID {
		return c.current
	}
	return nil
}

// handleEvent applies a transport event. Events arrive in transport order;
// a Disconnected event voids in-flight expectations.
func (c *Coordinator) handleEvent(ev player.Event) {
	switch ev.Type {
	case player.EventTrackStarted:
		c.onTrackStarted(ev)

	case player.EventTrackEnded:
		if c.pending != nil {
			// An advance is already in flight; its confirmation drives the
			// next transition.
			return
		}
		if c.repeat == player.RepeatTrack && c.current != nil {
			c.startPlay(c.current)
			return
		}
		c.finishCurrent()
		c.advance()

	case player.EventPositionUpdate:
		if c.current == nil {
			return
		}
		c.positionMs = ev.Position
		if ev.Duration > 0 {
			c.durationMs = ev.Duration
		}
		c.reportedAt = timeNow()
		c.playing = ev.Playing
		c.publish()

	case player.EventDeviceChanged:
		c.deviceID = ev.DeviceID
		if ev.Device != nil {
			c.deviceName = ev.Device.Name
		}
		c.publish()

	case player.EventDisconnected:
		c.pending = nil
		c.playing = false
		c.notice = "playback transport disconnected"
		zlog.Warn().Msg("queue: transport disconnected, in-flight expectations voided")
		c.publish()
	}
}

func (c *Coordinator) onTrackStarted(ev player.Event) {
	if c.pending != nil && c.pending.Track.ID == ev.TrackID {
		e := c.pending
		c.pending = nil
		c.confirmStarted(e)
		return
	}

	if c.current != nil && c.current.Track.ID == ev.TrackID {
		c.positionMs = ev.Position
		if ev.Duration > 0 {
			c.durationMs = ev.Duration
		}
		c.reportedAt = timeNow()
		c.playing = ev.Playing
		c.publish()
		return
	}

	// The transport started a track on its own (remote queue, another
	// client). Skip-listed entries must still never surface as current.
	if c.trackSkipListed(ev.TrackID) {
		zlog.Info().Str("track_id", ev.TrackID).Msg("queue: transport started a skip-listed track, advancing past it")
		go func() {
			if err := c.withReauth(c.runCtx, c.transport.Next); err != nil {
				zlog.Error().Err(err).Msg("queue: failed to advance past skip-listed track")
			}
		}()
		return
	}

	c.finishCurrent()
	c.seq++
	e := track.QueueEntry{
		EntryID: "external-" + ev.TrackID,
		Seq:     c.seq,
		Track:   track.Track{ID: ev.TrackID},
		State:   track.EntryActive,
		AddedAt: time.Now(),
	}
	c.current = &e
	c.playing = ev.Playing
	c.positionMs = ev.Position
	c.durationMs = ev.Duration
	c.reportedAt = timeNow()
	c.publish()
}

// trackSkipListed reports whether any skip-set entry carries this track ID.
func (c *Coordinator) trackSkipListed(trackID string) bool {
	for _, e := range c.entries {
		if e.Track.ID != trackID {
			continue
		}
		if _, skipped := c.skips[e.EntryID]; skipped {
			return true
		}
	}
	return false
}

func isSessionLost(err error) bool {
	return errors.Is(err, ErrSessionLost)
}

// withReauth runs op, resolving one Unauthorized by a synchronous session
// renewal and a single retry. A second Unauthorized, or a failed renewal,
// is fatal for the session.
func (c *Coordinator) withReauth(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if !errors.Is(err, player.ErrUnauthorized) {
		return err
	}
	zlog.Info().Msg("queue: unauthorized, renewing session")
	if rerr := c.renew(ctx); rerr != nil {
		return errors.Mark(errors.Wrap(rerr, "session renewal failed"), ErrSessionLost)
	}
	if err = op(ctx); errors.Is(err, player.ErrUnauthorized) {
		return errors.Mark(err, ErrSessionLost)
	}
	return err
}

// publish pushes a fresh snapshot to the state bridge. Must run on the run
// goroutine so the skip set and queue view are never observed mid-update.
func (c *Coordinator) publish() {
	items := make([]state.QueueItem, 0, len(c.entries))
	for _, e := range c.entries {
		items = append(items, c.viewOf(e))
	}

	var cur *state.QueueItem
	if c.current != nil {
		v := c.viewOf(c.current)
		cur = &v
	}

	var fatal string
	if c.fatal != nil {
		fatal = c.fatal.Error()
	}

	c.bridge.Publish(state.Snapshot{
		Playback: state.Playback{
			Current:    cur,
			PositionMs: c.positionMs,
			DurationMs: c.durationMs,
			ReportedAt: c.reportedAt,
			Playing:    c.playing,
			Shuffle:    c.shuffle,
			Repeat:     c.repeat,
			Volume:     c.volume,
			DeviceID:   c.deviceID,
			DeviceName: c.deviceName,
			Stalled:    c.stalled,
		},
		Queue:  items,
		Notice: c.notice,
		Fatal:  fatal,
	})
}

func (c *Coordinator) viewOf(e *track.QueueEntry) state.QueueItem {
	_, skipped := c.skips[e.EntryID]
	return state.QueueItem{
		EntryID: e.EntryID,
		Seq:     e.Seq,
		Track:   e.Track,
		State:   e.State,
		Skipped: skipped,
	}
}
