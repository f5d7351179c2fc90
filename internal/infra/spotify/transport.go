package spotify

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/strumcli/strum/internal/app/auth"
	"github.com/strumcli/strum/internal/app/player"
	"github.com/strumcli/strum/internal/domain/track"
)

// TransportConfig represents transport adapter configuration.
type TransportConfig struct {
	PollInterval time.Duration
}

// Transport drives the remote playback engine through the player endpoints
// and derives the event subscription by polling the player state. The engine
// exposes no queue-removal primitive; skip emulation lives above this
// adapter.
type Transport struct {
	mu       sync.RWMutex
	client   *spotify.Client
	deviceID spotify.ID // selected device; empty uses the engine's default

	pollInterval time.Duration
	events       chan player.Event

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// NewTransport creates a transport adapter bound to the session's transport
// token.
func NewTransport(sess *auth.Session, cfg TransportConfig) *Transport {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Transport{
		client:       apiClient(&oauth2.Token{AccessToken: sess.Transport, TokenType: "Bearer"}),
		pollInterval: cfg.PollInterval,
		events:       make(chan player.Event, 16),
		done:         make(chan struct{}),
	}
}

// UpdateSession swaps in tokens from a renewed session.
func (t *Transport) UpdateSession(sess *auth.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.client = apiClient(&oauth2.Token{AccessToken: sess.Transport, TokenType: "Bearer"})
}

func (t *Transport) api() *spotify.Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client
}

func (t *Transport) dev() *spotify.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.deviceID == "" {
		return nil
	}
	id := t.deviceID
	return &id
}

// Run starts the event poller. The event stream is lazy, infinite and
// non-restartable: it ends only when the context is cancelled or Close is
// called.
func (t *Transport) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	go t.poll(ctx)
}

// Close stops the poller and closes the event stream.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.mu.RLock()
		cancel := t.cancel
		t.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
		<-t.done
		close(t.events)
	})
}

// Events returns the transport event subscription.
func (t *Transport) Events() <-chan player.Event {
	return t.events
}

// Play starts playback of the given track on the selected device.
func (t *Transport) Play(ctx context.Context, trackID string) error {
	uri := spotify.URI("spotify:track:" + ExtractTrackID(trackID))
	err := t.api().PlayOpt(ctx, &spotify.PlayOptions{
		DeviceID: t.dev(),
		URIs:     []spotify.URI{uri},
	})
	return errors.Wrap(classifyTransport(err), "play failed")
}

// Pause pauses playback. Pausing an already paused engine is a no-op.
func (t *Transport) Pause(ctx context.Context) error {
	err := t.api().PauseOpt(ctx, &spotify.PlayOptions{DeviceID: t.dev()})
	return errors.Wrap(classifyTransport(err), "pause failed")
}

// Resume resumes playback without changing the current track.
func (t *Transport) Resume(ctx context.Context) error {
	err := t.api().PlayOpt(ctx, &spotify.PlayOptions{DeviceID: t.dev()})
	return errors.Wrap(classifyTransport(err), "resume failed")
}

// Next advances the engine past the current track.
func (t *Transport) Next(ctx context.Context) error {
	err := t.api().NextOpt(ctx, &spotify.PlayOptions{DeviceID: t.dev()})
	return errors.Wrap(classifyTransport(err), "next failed")
}

// Seek seeks to the given position in milliseconds.
func (t *Transport) Seek(ctx context.Context, position int) error {
	err := t.api().SeekOpt(ctx, position, &spotify.PlayOptions{DeviceID: t.dev()})
	return errors.Wrap(classifyTransport(err), "seek failed")
}

// SetVolume sets the engine volume, 0-100.
func (t *Transport) SetVolume(ctx context.Context, level int) error {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	err := t.api().VolumeOpt(ctx, level, &spotify.PlayOptions{DeviceID: t.dev()})
	return errors.Wrap(classifyTransport(err), "set volume failed")
}

// SetShuffle sets the engine's shuffle flag.
func (t *Transport) SetShuffle(ctx context.Context, shuffle bool) error {
	err := t.api().ShuffleOpt(ctx, shuffle, &spotify.PlayOptions{DeviceID: t.dev()})
	return errors.Wrap(classifyTransport(err), "set shuffle failed")
}

// SetRepeat sets the engine's repeat state. The coordinator keeps its own
// repeat policy and pins the engine off so the two never fight over
// advancement.
func (t *Transport) SetRepeat(ctx context.Context, mode player.RepeatMode) error {
	state := "off"
	switch mode {
	case player.RepeatTrack:
		state = "track"
	case player.RepeatQueue:
		state = "context"
	}
	err := t.api().RepeatOpt(ctx, state, &spotify.PlayOptions{DeviceID: t.dev()})
	return errors.Wrap(classifyTransport(err), "set repeat failed")
}

// SelectDevice transfers playback to the given device.
func (t *Transport) SelectDevice(ctx context.Context, deviceID string) error {
	if err := t.api().TransferPlayback(ctx, spotify.ID(deviceID), false); err != nil {
		return errors.Wrap(classifyTransport(err), "select device failed")
	}
	t.mu.Lock()
	t.deviceID = spotify.ID(deviceID)
	t.mu.Unlock()
	return nil
}

// engineState is one observed player-state sample.
type engineState struct {
	trackID    string
	progress   int
	duration   int
	playing    bool
	deviceID   string
	deviceName string
}

func sample(ps *spotify.PlayerState) engineState {
	var s engineState
	if ps == nil {
		return s
	}
	s.playing = ps.Playing
	s.progress = int(ps.Progress)
	s.deviceID = string(ps.Device.ID)
	s.deviceName = ps.Device.Name
	if ps.Item != nil {
		s.trackID = string(ps.Item.ID)
		s.duration = int(ps.Item.Duration)
	}
	return s
}

// poll observes the engine state and translates changes into events.
func (t *Transport) poll(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	var prev engineState
	failures := 0
	disconnected := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ps, err := t.api().PlayerState(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			failures++
			if failures >= 3 && !disconnected {
				disconnected = true
				zlog.Warn().Err(err).Msg("transport: connection lost")
				t.emit(ctx, player.Event{Type: player.EventDisconnected})
			}
			continue
		}
		failures = 0
		if disconnected {
			disconnected = false
			zlog.Info().Msg("transport: connection restored")
			// A fresh sample after reconnect; earlier expectations are void.
			prev = engineState{}
		}

		cur := sample(ps)
		for _, ev := range diffStates(prev, cur) {
			t.emit(ctx, ev)
		}
		prev = cur
	}
}

// diffStates derives the event sequence implied by two consecutive engine
// samples.
func diffStates(prev, cur engineState) []player.Event {
	var evs []player.Event

	if cur.deviceID != prev.deviceID && cur.deviceID != "" {
		evs = append(evs, player.Event{
			Type:     player.EventDeviceChanged,
			DeviceID: cur.deviceID,
			Device:   &track.Device{ID: cur.deviceID, Name: cur.deviceName, Active: true},
		})
	}

	switch {
	case cur.trackID == "":
		if prev.trackID != "" && prev.playing {
			evs = append(evs, player.Event{Type: player.EventTrackEnded})
		}
	case cur.trackID != prev.trackID:
		if prev.trackID != "" && prev.playing {
			evs = append(evs, player.Event{Type: player.EventTrackEnded})
		}
		evs = append(evs, player.Event{
			Type:     player.EventTrackStarted,
			TrackID:  cur.trackID,
			Position: cur.progress,
			Duration: cur.duration,
			Playing:  cur.playing,
		})
	case prev.playing && !cur.playing && nearEnd(prev):
		// Natural end without a follow-up track.
		evs = append(evs, player.Event{Type: player.EventTrackEnded})
	default:
		evs = append(evs, player.Event{
			Type:     player.EventPositionUpdate,
			TrackID:  cur.trackID,
			Position: cur.progress,
			Duration: cur.duration,
			Playing:  cur.playing,
		})
	}
	return evs
}

// nearEnd reports whether a sample was within the final stretch of its track.
func nearEnd(s engineState) bool {
	return s.duration > 0 && s.duration-s.progress <= 2500
}

func (t *Transport) emit(ctx context.Context, ev player.Event) {
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}
