package queue

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/strumcli/strum/internal/app/player"
	"github.com/strumcli/strum/internal/domain/track"
)

// Playback controls. Each control issues the remote call off the run
// goroutine, then re-enters it to apply the resulting state. Callers block
// until the transition is applied.

// Pause pauses playback.
func (c *Coordinator) Pause(ctx context.Context) error {
	if err := c.withReauth(ctx, c.transport.Pause); err != nil {
		c.reportErr("pause", err)
		return err
	}
	return c.doWait(func() {
		c.playing = false
		c.publish()
	})
}

// Resume resumes playback of the current track.
func (c *Coordinator) Resume(ctx context.Context) error {
	if err := c.withReauth(ctx, c.transport.Resume); err != nil {
		c.reportErr("resume", err)
		return err
	}
	return c.doWait(func() {
		c.playing = true
		c.publish()
	})
}

// TogglePlay pauses when playing and resumes otherwise.
func (c *Coordinator) TogglePlay(ctx context.Context) error {
	var playing bool
	if err := c.doWait(func() { playing = c.playing }); err != nil {
		return err
	}
	if playing {
		return c.Pause(ctx)
	}
	return c.Resume(ctx)
}

// Seek jumps to an absolute position in the current track.
func (c *Coordinator) Seek(ctx context.Context, positionMs int) error {
	if positionMs < 0 {
		positionMs = 0
	}
	if err := c.withReauth(ctx, func(ctx context.Context) error {
		return c.transport.Seek(ctx, positionMs)
	}); err != nil {
		c.reportErr("seek", err)
		return err
	}
	return c.doWait(func() {
		c.positionMs = positionMs
		c.reportedAt = timeNow()
		c.publish()
	})
}

// SetVolume sets the playback volume, clamped to 0..100.
func (c *Coordinator) SetVolume(ctx context.Context, level int) error {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	if err := c.withReauth(ctx, func(ctx context.Context) error {
		return c.transport.SetVolume(ctx, level)
	}); err != nil {
		c.reportErr("volume", err)
		return err
	}
	return c.doWait(func() {
		c.volume = level
		c.publish()
	})
}

// VolumeUp raises the volume by the configured step.
func (c *Coordinator) VolumeUp(ctx context.Context) error {
	return c.stepVolume(ctx, c.cfg.VolumeStep)
}

// VolumeDown lowers the volume by the configured step.
func (c *Coordinator) VolumeDown(ctx context.Context) error {
	return c.stepVolume(ctx, -c.cfg.VolumeStep)
}

func (c *Coordinator) stepVolume(ctx context.Context, delta int) error {
	var level int
	if err := c.doWait(func() { level = c.volume }); err != nil {
		return err
	}
	return c.SetVolume(ctx, level+delta)
}

// SetShuffle toggles shuffled selection. Shuffle is a queue selection
// policy: it changes which pending entry advance picks, not the order of
// entries already in the queue, and crosses no remote boundary.
func (c *Coordinator) SetShuffle(on bool) error {
	return c.doWait(func() {
		c.shuffle = on
		c.publish()
	})
}

// SetRepeat sets the repeat mode. Repeat is enforced by the coordinator
// itself, re-issuing play on track boundaries; the engine's own repeat
// stays pinned off.
func (c *Coordinator) SetRepeat(mode player.RepeatMode) error {
	return c.doWait(func() {
		c.repeat = mode
		c.publish()
	})
}

// CycleRepeat advances the repeat mode off -> queue -> track -> off.
func (c *Coordinator) CycleRepeat() error {
	return c.doWait(func() {
		c.repeat = c.repeat.Next()
		c.publish()
	})
}

// SelectDevice transfers playback to the given device. The device name in
// the snapshot is refreshed by the subsequent DeviceChanged event.
func (c *Coordinator) SelectDevice(ctx context.Context, deviceID string) error {
	if err := c.withReauth(ctx, func(ctx context.Context) error {
		return c.transport.SelectDevice(ctx, deviceID)
	}); err != nil {
		c.reportErr("select device", err)
		return err
	}
	return c.doWait(func() {
		c.deviceID = deviceID
		c.publish()
	})
}

// Devices lists the devices currently visible to the account.
func (c *Coordinator) Devices(ctx context.Context) ([]track.Device, error) {
	var devices []track.Device
	err := c.withReauth(ctx, func(ctx context.Context) error {
		var derr error
		devices, derr = c.catalog.ListDevices(ctx)
		return derr
	})
	if err != nil {
		c.reportErr("list devices", err)
		return nil, err
	}
	return devices, nil
}

// AddToRemoteQueue appends a track to the service-side queue. Best effort:
// the remote queue is not part of the logical queue and failures only
// surface as a notice.
func (c *Coordinator) AddToRemoteQueue(ctx context.Context, trackID string) error {
	err := c.withReauth(ctx, func(ctx context.Context) error {
		return c.catalog.AddToQueue(ctx, trackID)
	})
	if err != nil {
		c.reportErr("add to remote queue", err)
	}
	return err
}

// reportErr records a failed control as a notice, or as fatal when the
// session is lost.
func (c *Coordinator) reportErr(op string, err error) {
	zlog.Error().Err(err).Str("op", op).Msg("queue: control failed")
	c.do(func() {
		if isSessionLost(err) {
			c.fatal = err
		} else {
			c.notice = op + ": " + err.Error()
		}
		c.publish()
	})
}
