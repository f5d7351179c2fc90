package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strumcli/strum/internal/app/player"
	"github.com/strumcli/strum/internal/app/state"
	"github.com/strumcli/strum/internal/domain/track"
)

// fakeTransport is a scriptable playback transport. Play errors are consumed
// per track in order; an optional gate keeps Play blocked until released.
type fakeTransport struct {
	mu       sync.Mutex
	plays    []string
	playErrs map[string][]error
	playGate chan struct{}

	pauses   int
	resumes  int
	nexts    int
	seeks    []int
	volumes  []int
	shuffles []bool
	repeats  []player.RepeatMode
	selected []string

	events chan player.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		playErrs: make(map[string][]error),
		events:   make(chan player.Event, 16),
	}
}

func (f *fakeTransport) scriptPlayErr(trackID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playErrs[trackID] = append(f.playErrs[trackID], errs...)
}

func (f *fakeTransport) playedTracks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.plays))
	copy(out, f.plays)
	return out
}

func (f *fakeTransport) Play(_ context.Context, trackID string) error {
	f.mu.Lock()
	gate := f.playGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, trackID)
	if errs := f.playErrs[trackID]; len(errs) > 0 {
		err := errs[0]
		f.playErrs[trackID] = errs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeTransport) Resume(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return nil
}

func (f *fakeTransport) Next(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nexts++
	return nil
}

func (f *fakeTransport) Seek(_ context.Context, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, position)
	return nil
}

func (f *fakeTransport) SetVolume(_ context.Context, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, level)
	return nil
}

func (f *fakeTransport) SetShuffle(_ context.Context, shuffle bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shuffles = append(f.shuffles, shuffle)
	return nil
}

func (f *fakeTransport) SetRepeat(_ context.Context, mode player.RepeatMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repeats = append(f.repeats, mode)
	return nil
}

func (f *fakeTransport) SelectDevice(_ context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, deviceID)
	return nil
}

func (f *fakeTransport) Events() <-chan player.Event {
	return f.events
}

// fakeCatalog is a minimal catalog stub.
type fakeCatalog struct {
	mu      sync.Mutex
	queued  []string
	devices []track.Device
	addErrs []error
}

func (f *fakeCatalog) Search(context.Context, string, []track.EntityKind) ([]track.Entity, error) {
	return nil, nil
}

func (f *fakeCatalog) Browse(context.Context, string) (*track.Entity, error) {
	return nil, player.ErrNotFound
}

func (f *fakeCatalog) ListDevices(context.Context) ([]track.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, nil
}

func (f *fakeCatalog) ListLibrary(context.Context) ([]track.Entity, error) {
	return nil, nil
}

func (f *fakeCatalog) AddToQueue(_ context.Context, trackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.addErrs) > 0 {
		err := f.addErrs[0]
		f.addErrs = f.addErrs[1:]
		return err
	}
	f.queued = append(f.queued, trackID)
	return nil
}

type harness struct {
	coord     *Coordinator
	transport *fakeTransport
	catalog   *fakeCatalog
	bridge    *state.Bridge
}

func newHarness(t *testing.T, cfg Config, renew RenewFunc) *harness {
	t.Helper()

	h := &harness{
		transport: newFakeTransport(),
		catalog:   &fakeCatalog{},
		bridge:    state.NewBridge(),
	}
	h.coord = New(h.transport, h.catalog, h.bridge, renew, cfg)
	h.coord.Run(context.Background())
	t.Cleanup(h.coord.Close)
	return h
}

func (h *harness) waitSnapshot(t *testing.T, pred func(state.Snapshot) bool) state.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return pred(h.bridge.Current())
	}, 2*time.Second, 5*time.Millisecond)
	return h.bridge.Current()
}

func (h *harness) waitCurrentTrack(t *testing.T, trackID string) state.Snapshot {
	t.Helper()
	return h.waitSnapshot(t, func(s state.Snapshot) bool {
		return s.Playback.Current != nil && s.Playback.Current.Track.ID == trackID
	})
}

func testTrack(id string) track.Track {
	return track.Track{
		ID:       id,
		Name:     "Track " + id,
		Artists:  []string{"Artist"},
		Duration: 3 * time.Minute,
	}
}

func queueItem(s state.Snapshot, entryID string) *state.QueueItem {
	for i := range s.Queue {
		if s.Queue[i].EntryID == entryID {
			return &s.Queue[i]
		}
	}
	return nil
}

func TestCoordinator_RemoveThenAdvanceSkipsEntry(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	aID, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)
	bID, err := h.coord.Enqueue(testTrack("b"))
	require.NoError(t, err)
	cID, err := h.coord.Enqueue(testTrack("c"))
	require.NoError(t, err)

	require.NoError(t, h.coord.Remove(bID))

	require.NoError(t, h.coord.Advance())
	h.waitCurrentTrack(t, "a")

	require.NoError(t, h.coord.Advance())
	snap := h.waitCurrentTrack(t, "c")

	assert.Equal(t, []string{"a", "c"}, h.transport.playedTracks())

	// The removed entry stays visible, marked, and pending.
	b := queueItem(snap, bID)
	require.NotNil(t, b)
	assert.True(t, b.Skipped)
	assert.Equal(t, track.EntryPending, b.State)

	a := queueItem(snap, aID)
	require.NotNil(t, a)
	assert.Equal(t, track.EntryCompleted, a.State)

	c := queueItem(snap, cID)
	require.NotNil(t, c)
	assert.Equal(t, track.EntryActive, c.State)
}

func TestCoordinator_RemoveRejectsNonPending(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	aID, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)

	require.NoError(t, h.coord.Advance())
	h.waitCurrentTrack(t, "a")

	// Active entries cannot be removed.
	assert.ErrorIs(t, h.coord.Remove(aID), ErrEntryNotPending)

	// Completed entries cannot be removed either.
	require.NoError(t, h.coord.Advance())
	h.waitSnapshot(t, func(s state.Snapshot) bool {
		item := queueItem(s, aID)
		return item != nil && item.State == track.EntryCompleted
	})
	assert.ErrorIs(t, h.coord.Remove(aID), ErrEntryNotPending)

	assert.ErrorIs(t, h.coord.Remove("no-such-entry"), ErrEntryNotFound)
}

func TestCoordinator_PlayNowClearsSkipSet(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	_, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)
	bID, err := h.coord.Enqueue(testTrack("b"))
	require.NoError(t, err)
	require.NoError(t, h.coord.Remove(bID))

	require.NoError(t, h.coord.PlayNow(testTrack("x")))
	snap := h.waitCurrentTrack(t, "x")

	// The fresh intent wiped the earlier removal.
	b := queueItem(snap, bID)
	require.NotNil(t, b)
	assert.False(t, b.Skipped)

	require.NoError(t, h.coord.Advance())
	h.waitCurrentTrack(t, "a")
	require.NoError(t, h.coord.Advance())
	h.waitCurrentTrack(t, "b")

	assert.Equal(t, []string{"x", "a", "b"}, h.transport.playedTracks())
}

func TestCoordinator_RepeatTrackReplays(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	_, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)
	require.NoError(t, h.coord.SetRepeat(player.RepeatTrack))

	require.NoError(t, h.coord.Advance())
	h.waitCurrentTrack(t, "a")

	h.transport.events <- player.Event{Type: player.EventTrackEnded}

	require.Eventually(t, func() bool {
		return len(h.transport.playedTracks()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "a"}, h.transport.playedTracks())

	snap := h.waitCurrentTrack(t, "a")
	assert.Equal(t, track.EntryActive, snap.Playback.Current.State)
}

func TestCoordinator_RepeatQueueCycles(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	_, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)
	_, err = h.coord.Enqueue(testTrack("b"))
	require.NoError(t, err)
	require.NoError(t, h.coord.SetRepeat(player.RepeatQueue))

	require.NoError(t, h.coord.Advance())
	h.waitCurrentTrack(t, "a")
	require.NoError(t, h.coord.Advance())
	h.waitCurrentTrack(t, "b")

	// The queue is exhausted; repeat-queue recycles it in order.
	require.NoError(t, h.coord.Advance())
	require.Eventually(t, func() bool {
		return len(h.transport.playedTracks()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"a", "b", "a"}, h.transport.playedTracks())
}

func TestCoordinator_QueueExhaustedStopsCleanly(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	aID, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)

	require.NoError(t, h.coord.Advance())
	h.waitCurrentTrack(t, "a")

	h.transport.events <- player.Event{Type: player.EventTrackEnded}

	snap := h.waitSnapshot(t, func(s state.Snapshot) bool {
		return s.Playback.Current == nil && !s.Playback.Playing
	})
	a := queueItem(snap, aID)
	require.NotNil(t, a)
	assert.Equal(t, track.EntryCompleted, a.State)
	assert.Equal(t, []string{"a"}, h.transport.playedTracks())
}

func TestCoordinator_RemoveWinsInFlightRace(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	gate := make(chan struct{})
	h.transport.mu.Lock()
	h.transport.playGate = gate
	h.transport.mu.Unlock()

	aID, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)

	// Watch every delivered snapshot for the forbidden observation.
	subID, snapCh := h.bridge.Subscribe()
	defer h.bridge.Unsubscribe(subID)
	var observedMu sync.Mutex
	observedAsCurrent := false
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		for {
			select {
			case snap := <-snapCh:
				if snap.Playback.Current != nil && snap.Playback.Current.EntryID == aID {
					observedMu.Lock()
					observedAsCurrent = true
					observedMu.Unlock()
				}
			case <-stopWatch:
				return
			}
		}
	}()

	// The play is issued and stuck in flight; the removal lands meanwhile.
	require.NoError(t, h.coord.Advance())
	require.NoError(t, h.coord.Remove(aID))
	close(gate)

	snap := h.waitSnapshot(t, func(s state.Snapshot) bool {
		item := queueItem(s, aID)
		return item != nil && item.Skipped && s.Playback.Current == nil &&
			len(h.transport.playedTracks()) > 0
	})

	// The removed entry was played at the transport level, but the skip won
	// the race: it was never surfaced as current.
	assert.Equal(t, []string{"a"}, h.transport.playedTracks())
	observedMu.Lock()
	defer observedMu.Unlock()
	assert.False(t, observedAsCurrent)
	assert.Equal(t, track.EntryPending, queueItem(snap, aID).State)
}

func TestCoordinator_AutoSkipsUnavailable(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.transport.scriptPlayErr("a", player.ErrTrackUnavailable)

	aID, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)
	_, err = h.coord.Enqueue(testTrack("b"))
	require.NoError(t, err)

	require.NoError(t, h.coord.Advance())
	snap := h.waitCurrentTrack(t, "b")

	assert.Equal(t, []string{"a", "b"}, h.transport.playedTracks())
	a := queueItem(snap, aID)
	require.NotNil(t, a)
	assert.True(t, a.Skipped)
	assert.False(t, snap.Playback.Stalled)
}

func TestCoordinator_StallsAfterAutoSkipBound(t *testing.T) {
	h := newHarness(t, Config{MaxAutoSkips: 2}, nil)
	h.transport.scriptPlayErr("a", player.ErrTrackUnavailable)
	h.transport.scriptPlayErr("b", player.ErrTrackUnavailable)
	h.transport.scriptPlayErr("c", player.ErrTrackUnavailable)

	for _, id := range []string{"a", "b", "c"} {
		_, err := h.coord.Enqueue(testTrack(id))
		require.NoError(t, err)
	}

	require.NoError(t, h.coord.Advance())
	snap := h.waitSnapshot(t, func(s state.Snapshot) bool {
		return s.Playback.Stalled
	})

	// The bound stopped the cascade before the third entry was tried.
	assert.Equal(t, []string{"a", "b"}, h.transport.playedTracks())
	assert.NotEmpty(t, snap.Notice)
	assert.Nil(t, snap.Playback.Current)

	var skipped int
	for _, item := range snap.Queue {
		if item.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 2, skipped)
}

func TestCoordinator_UnauthorizedRenewsAndRetries(t *testing.T) {
	var renewCalls int32
	renew := func(context.Context) error {
		renewCalls++
		return nil
	}
	h := newHarness(t, Config{}, renew)
	h.transport.scriptPlayErr("a", player.ErrUnauthorized)

	_, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)

	require.NoError(t, h.coord.Advance())
	snap := h.waitCurrentTrack(t, "a")

	assert.Equal(t, []string{"a", "a"}, h.transport.playedTracks())
	assert.Equal(t, int32(1), renewCalls)
	assert.Empty(t, snap.Fatal)
}

func TestCoordinator_RenewalFailureIsFatal(t *testing.T) {
	renew := func(context.Context) error {
		return errors.New("refresh token revoked")
	}
	h := newHarness(t, Config{}, renew)
	h.transport.scriptPlayErr("a", player.ErrUnauthorized)

	_, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)

	require.NoError(t, h.coord.Advance())
	snap := h.waitSnapshot(t, func(s state.Snapshot) bool {
		return s.Fatal != ""
	})
	assert.Contains(t, snap.Fatal, "session renewal failed")
	assert.Nil(t, snap.Playback.Current)
}

func TestCoordinator_SecondUnauthorizedIsFatal(t *testing.T) {
	var renewCalls int32
	renew := func(context.Context) error {
		renewCalls++
		return nil
	}
	h := newHarness(t, Config{}, renew)
	h.transport.scriptPlayErr("a", player.ErrUnauthorized, player.ErrUnauthorized)

	_, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)

	require.NoError(t, h.coord.Advance())
	snap := h.waitSnapshot(t, func(s state.Snapshot) bool {
		return s.Fatal != ""
	})

	// Exactly one renewal attempt, then give up.
	assert.Equal(t, int32(1), renewCalls)
	assert.NotEmpty(t, snap.Fatal)
}

func TestCoordinator_NoDeviceLeavesEntryPending(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.transport.scriptPlayErr("a", player.ErrNoDevice)

	aID, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)

	require.NoError(t, h.coord.Advance())
	snap := h.waitSnapshot(t, func(s state.Snapshot) bool {
		return s.Notice != ""
	})

	assert.Contains(t, snap.Notice, "no active playback device")
	a := queueItem(snap, aID)
	require.NotNil(t, a)
	assert.Equal(t, track.EntryPending, a.State)
	assert.False(t, a.Skipped)
}

func TestCoordinator_ShuffleSelectsAnyPending(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	for _, id := range []string{"a", "b", "c"} {
		_, err := h.coord.Enqueue(testTrack(id))
		require.NoError(t, err)
	}
	require.NoError(t, h.coord.SetShuffle(true))

	require.NoError(t, h.coord.Advance())
	snap := h.waitSnapshot(t, func(s state.Snapshot) bool {
		return s.Playback.Current != nil
	})

	assert.True(t, snap.Playback.Shuffle)
	assert.Contains(t, []string{"a", "b", "c"}, snap.Playback.Current.Track.ID)
}

func TestCoordinator_PlaybackControls(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, h.coord.Resume(ctx))
	h.waitSnapshot(t, func(s state.Snapshot) bool { return s.Playback.Playing })

	require.NoError(t, h.coord.Pause(ctx))
	h.waitSnapshot(t, func(s state.Snapshot) bool { return !s.Playback.Playing })

	require.NoError(t, h.coord.TogglePlay(ctx))
	h.waitSnapshot(t, func(s state.Snapshot) bool { return s.Playback.Playing })

	require.NoError(t, h.coord.Seek(ctx, 65000))
	snap := h.waitSnapshot(t, func(s state.Snapshot) bool { return s.Playback.PositionMs == 65000 })
	assert.Equal(t, []int{65000}, h.transport.seeks)

	h.transport.mu.Lock()
	assert.Equal(t, 1, h.transport.pauses)
	assert.Equal(t, 2, h.transport.resumes)
	h.transport.mu.Unlock()
	_ = snap
}

func TestCoordinator_VolumeStepsAndClamps(t *testing.T) {
	h := newHarness(t, Config{VolumeStep: 10}, nil)
	ctx := context.Background()

	require.NoError(t, h.coord.SetVolume(ctx, 150))
	h.waitSnapshot(t, func(s state.Snapshot) bool { return s.Playback.Volume == 100 })

	require.NoError(t, h.coord.VolumeDown(ctx))
	h.waitSnapshot(t, func(s state.Snapshot) bool { return s.Playback.Volume == 90 })

	require.NoError(t, h.coord.SetVolume(ctx, 5))
	require.NoError(t, h.coord.VolumeDown(ctx))
	snap := h.waitSnapshot(t, func(s state.Snapshot) bool { return s.Playback.Volume == 0 })

	require.NoError(t, h.coord.VolumeUp(ctx))
	snap = h.waitSnapshot(t, func(s state.Snapshot) bool { return s.Playback.Volume == 10 })
	_ = snap

	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	assert.Equal(t, []int{100, 90, 5, 0, 10}, h.transport.volumes)
}

func TestCoordinator_CycleRepeat(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	modes := []player.RepeatMode{player.RepeatQueue, player.RepeatTrack, player.RepeatOff}
	for _, want := range modes {
		require.NoError(t, h.coord.CycleRepeat())
		h.waitSnapshot(t, func(s state.Snapshot) bool { return s.Playback.Repeat == want })
	}
}

func TestCoordinator_DeviceHandling(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	h.catalog.devices = []track.Device{
		{ID: "dev1", Name: "Office", Active: true},
		{ID: "dev2", Name: "Kitchen"},
	}

	devices, err := h.coord.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)

	require.NoError(t, h.coord.SelectDevice(ctx, "dev2"))
	h.waitSnapshot(t, func(s state.Snapshot) bool { return s.Playback.DeviceID == "dev2" })
	assert.Equal(t, []string{"dev2"}, h.transport.selected)

	// The transport later confirms the handoff with the device detail.
	h.transport.events <- player.Event{
		Type:     player.EventDeviceChanged,
		DeviceID: "dev2",
		Device:   &track.Device{ID: "dev2", Name: "Kitchen", Active: true},
	}
	h.waitSnapshot(t, func(s state.Snapshot) bool { return s.Playback.DeviceName == "Kitchen" })
}

func TestCoordinator_AddToRemoteQueue(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, h.coord.AddToRemoteQueue(ctx, "t1"))
	h.catalog.mu.Lock()
	assert.Equal(t, []string{"t1"}, h.catalog.queued)
	h.catalog.mu.Unlock()

	// Best effort: a failure surfaces as a notice, not a fatal state.
	h.catalog.mu.Lock()
	h.catalog.addErrs = []error{player.ErrCatalogUnavailable}
	h.catalog.mu.Unlock()
	assert.Error(t, h.coord.AddToRemoteQueue(ctx, "t2"))
	snap := h.waitSnapshot(t, func(s state.Snapshot) bool { return s.Notice != "" })
	assert.Empty(t, snap.Fatal)
}

func TestCoordinator_ExternalTrackSurfaces(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.transport.events <- player.Event{
		Type:     player.EventTrackStarted,
		TrackID:  "ext1",
		Position: 100,
		Duration: 200000,
		Playing:  true,
	}

	snap := h.waitCurrentTrack(t, "ext1")
	assert.True(t, snap.Playback.Playing)
	assert.Equal(t, 200000, snap.Playback.DurationMs)
	// Externally started tracks are not part of the logical queue.
	assert.Empty(t, snap.Queue)
}

func TestCoordinator_ExternalSkipListedTrackSuppressed(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	bID, err := h.coord.Enqueue(testTrack("b"))
	require.NoError(t, err)
	require.NoError(t, h.coord.Remove(bID))

	// The remote engine starts the removed track on its own; it must not
	// surface as current, and the engine is pushed past it.
	h.transport.events <- player.Event{
		Type:    player.EventTrackStarted,
		TrackID: "b",
		Playing: true,
	}

	require.Eventually(t, func() bool {
		h.transport.mu.Lock()
		defer h.transport.mu.Unlock()
		return h.transport.nexts == 1
	}, 2*time.Second, 5*time.Millisecond)

	snap := h.bridge.Current()
	assert.Nil(t, snap.Playback.Current)
}

func TestCoordinator_DisconnectVoidsInFlight(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	_, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)
	require.NoError(t, h.coord.Advance())
	h.waitCurrentTrack(t, "a")

	h.transport.events <- player.Event{Type: player.EventDisconnected}

	snap := h.waitSnapshot(t, func(s state.Snapshot) bool {
		return !s.Playback.Playing && s.Notice != ""
	})
	assert.Contains(t, snap.Notice, "disconnected")
}

func TestCoordinator_PositionUpdates(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	_, err := h.coord.Enqueue(testTrack("a"))
	require.NoError(t, err)
	require.NoError(t, h.coord.Advance())
	h.waitCurrentTrack(t, "a")

	h.transport.events <- player.Event{
		Type:     player.EventPositionUpdate,
		TrackID:  "a",
		Position: 42000,
		Duration: 180000,
		Playing:  true,
	}

	h.waitSnapshot(t, func(s state.Snapshot) bool {
		return s.Playback.PositionMs == 42000 && s.Playback.DurationMs == 180000
	})
}

func TestCoordinator_RunPinsEngineModes(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	// The engine must never advance on its own underneath the logical
	// queue: its repeat and shuffle are forced off at startup.
	require.Eventually(t, func() bool {
		h.transport.mu.Lock()
		defer h.transport.mu.Unlock()
		return len(h.transport.repeats) == 1 && len(h.transport.shuffles) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	assert.Equal(t, player.RepeatOff, h.transport.repeats[0])
	assert.False(t, h.transport.shuffles[0])
}
