package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/strumcli/strum/internal/app/queue"
	"github.com/strumcli/strum/internal/app/state"
	"github.com/strumcli/strum/internal/domain/track"
	"github.com/strumcli/strum/internal/infra/spotify"
)

// repl is a line-based command reader. It drives the coordinator and the
// catalog; everything it prints goes to stdout.
type repl struct {
	coord   *queue.Coordinator
	catalog *spotify.Catalog
	bridge  *state.Bridge

	// Last search/browse results, addressable by index from play/add.
	results []track.Entity
	tracks  []track.Track
	devices []track.Device
}

func newRepl(coord *queue.Coordinator, catalog *spotify.Catalog, bridge *state.Bridge) *repl {
	return &repl{coord: coord, catalog: catalog, bridge: bridge}
}

func (r *repl) run(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("strum ready. Type 'help' for commands.")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		if err := r.dispatch(ctx, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (r *repl) dispatch(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "help", "h":
		r.printHelp()
	case "search", "s":
		return r.search(ctx, arg)
	case "browse", "b":
		return r.browse(ctx, arg)
	case "library", "lib":
		return r.library(ctx)
	case "play":
		return r.play(ctx, arg)
	case "add", "a":
		return r.add(ctx, arg)
	case "remove", "rm":
		return r.remove(arg)
	case "queue", "q":
		r.printQueue()
	case "next", "n":
		return r.coord.Advance()
	case "p", "pause", "resume":
		return r.coord.TogglePlay(ctx)
	case "seek":
		sec, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("seek wants seconds, got %q", arg)
		}
		return r.coord.Seek(ctx, sec*1000)
	case "vol":
		level, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("vol wants 0-100, got %q", arg)
		}
		return r.coord.SetVolume(ctx, level)
	case "+":
		return r.coord.VolumeUp(ctx)
	case "-":
		return r.coord.VolumeDown(ctx)
	case "shuffle":
		snap := r.bridge.Current()
		return r.coord.SetShuffle(!snap.Playback.Shuffle)
	case "repeat":
		return r.coord.CycleRepeat()
	case "devices", "d":
		return r.listDevices(ctx)
	case "device":
		return r.selectDevice(ctx, arg)
	case "qadd":
		return r.remoteQueueAdd(ctx, arg)
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
	return nil
}

func (r *repl) printHelp() {
	fmt.Print(`Commands:
  search <query>    search tracks/albums/artists/playlists
  browse <n|uri>    list the tracks of a result or a spotify URI/URL
  library           list saved tracks, albums and playlists
  play <n>          play a listed track now (bypasses the queue)
  add <n|uri>       enqueue a listed track, or every track of an entity
  remove <n>        remove queue position n (skipped, not erased)
  queue             show the queue
  next              finish the current track and advance
  p                 toggle play/pause
  seek <seconds>    jump within the current track
  vol <0-100> / + / -
  shuffle | repeat  toggle shuffle / cycle repeat mode
  devices           list playback devices
  device <n>        transfer playback to device n
  qadd <n>          append a listed track to the service-side queue
  quit
`)
}

func (r *repl) search(ctx context.Context, query string) error {
	if query == "" {
		return fmt.Errorf("search wants a query")
	}
	results, err := r.catalog.Search(ctx, query, nil)
	if err != nil {
		return err
	}
	r.setResults(results)
	return nil
}

func (r *repl) browse(ctx context.Context, arg string) error {
	id := arg
	if n, err := strconv.Atoi(arg); err == nil {
		e, err := r.result(n)
		if err != nil {
			return err
		}
		id = string(e.Kind) + ":" + e.ID
	}
	entity, err := r.catalog.Browse(ctx, id)
	if err != nil {
		return err
	}
	r.tracks = entity.Tracks
	r.results = nil
	fmt.Printf("%s (%d tracks)\n", entity.Name, len(entity.Tracks))
	for i, t := range entity.Tracks {
		fmt.Printf("%3d. %s - %s [%s]\n", i+1, t.ArtistLine(), t.Name, fmtDuration(t.Duration))
	}
	return nil
}

func (r *repl) library(ctx context.Context) error {
	results, err := r.catalog.ListLibrary(ctx)
	if err != nil {
		return err
	}
	r.setResults(results)
	return nil
}

func (r *repl) setResults(results []track.Entity) {
	r.results = results
	r.tracks = nil
	for i, e := range results {
		switch e.Kind {
		case track.KindTrack:
			if len(e.Tracks) == 1 {
				t := e.Tracks[0]
				fmt.Printf("%3d. [track]    %s - %s [%s]\n", i+1, t.ArtistLine(), t.Name, fmtDuration(t.Duration))
				continue
			}
			fmt.Printf("%3d. [track]    %s\n", i+1, e.Name)
		default:
			fmt.Printf("%3d. [%-8s] %s\n", i+1, e.Kind, e.Name)
		}
	}
}

// pickTrack resolves an index against the flat track listing, falling back
// to single-track entities in the last search results.
func (r *repl) pickTrack(n int) (track.Track, error) {
	if len(r.tracks) > 0 {
		if n < 1 || n > len(r.tracks) {
			return track.Track{}, fmt.Errorf("no track %d", n)
		}
		return r.tracks[n-1], nil
	}
	e, err := r.result(n)
	if err != nil {
		return track.Track{}, err
	}
	if e.Kind != track.KindTrack || len(e.Tracks) != 1 {
		return track.Track{}, fmt.Errorf("result %d is a %s, use 'browse %d' first", n, e.Kind, n)
	}
	return e.Tracks[0], nil
}

func (r *repl) result(n int) (track.Entity, error) {
	if n < 1 || n > len(r.results) {
		return track.Entity{}, fmt.Errorf("no result %d", n)
	}
	return r.results[n-1], nil
}

func (r *repl) play(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("play wants a result number, got %q", arg)
	}
	t, err := r.pickTrack(n)
	if err != nil {
		return err
	}
	return r.coord.PlayNow(t)
}

func (r *repl) add(ctx context.Context, arg string) error {
	if n, err := strconv.Atoi(arg); err == nil {
		if t, terr := r.pickTrack(n); terr == nil {
			_, eerr := r.coord.Enqueue(t)
			return eerr
		}
		// A non-track result: enqueue all of its tracks.
		e, rerr := r.result(n)
		if rerr != nil {
			return rerr
		}
		entity, berr := r.catalog.Browse(ctx, string(e.Kind)+":"+e.ID)
		if berr != nil {
			return berr
		}
		for _, t := range entity.Tracks {
			if _, eerr := r.coord.Enqueue(t); eerr != nil {
				return eerr
			}
		}
		fmt.Printf("enqueued %d tracks from %s\n", len(entity.Tracks), entity.Name)
		return nil
	}

	entity, err := r.catalog.Browse(ctx, arg)
	if err != nil {
		return err
	}
	for _, t := range entity.Tracks {
		if _, eerr := r.coord.Enqueue(t); eerr != nil {
			return eerr
		}
	}
	fmt.Printf("enqueued %d tracks from %s\n", len(entity.Tracks), entity.Name)
	return nil
}

func (r *repl) remove(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("remove wants a queue position, got %q", arg)
	}
	snap := r.bridge.Current()
	if n < 1 || n > len(snap.Queue) {
		return fmt.Errorf("no queue position %d", n)
	}
	return r.coord.Remove(snap.Queue[n-1].EntryID)
}

func (r *repl) printQueue() {
	snap := r.bridge.Current()
	if len(snap.Queue) == 0 {
		fmt.Println("queue is empty")
		return
	}
	for i, item := range snap.Queue {
		marker := " "
		switch {
		case item.Skipped:
			marker = "x"
		case item.State == track.EntryActive:
			marker = ">"
		case item.State == track.EntryCompleted:
			marker = "."
		}
		fmt.Printf("%s %3d. %s - %s\n", marker, i+1, item.Track.ArtistLine(), item.Track.Name)
	}
}

func (r *repl) listDevices(ctx context.Context) error {
	devices, err := r.coord.Devices(ctx)
	if err != nil {
		return err
	}
	r.devices = devices
	if len(devices) == 0 {
		fmt.Println("no devices visible; open a player somewhere first")
		return nil
	}
	for i, d := range devices {
		active := " "
		if d.Active {
			active = "*"
		}
		fmt.Printf("%s %3d. %s\n", active, i+1, d.Name)
	}
	return nil
}

func (r *repl) selectDevice(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("device wants a number from 'devices', got %q", arg)
	}
	if n < 1 || n > len(r.devices) {
		return fmt.Errorf("no device %d (run 'devices' first)", n)
	}
	return r.coord.SelectDevice(ctx, r.devices[n-1].ID)
}

func (r *repl) remoteQueueAdd(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("qadd wants a result number, got %q", arg)
	}
	t, err := r.pickTrack(n)
	if err != nil {
		return err
	}
	if err := r.coord.AddToRemoteQueue(ctx, t.ID); err != nil {
		return err
	}
	fmt.Printf("queued remotely: %s\n", t.Name)
	return nil
}

var (
	statusMu   sync.Mutex
	lastStatus string
)

// printStatus renders a one-line playback summary when it changes.
func printStatus(snap state.Snapshot) {
	line := formatStatus(snap)

	statusMu.Lock()
	defer statusMu.Unlock()
	if line == lastStatus {
		return
	}
	lastStatus = line
	fmt.Println(line)
	if snap.Fatal != "" {
		zlog.Error().Str("reason", snap.Fatal).Msg("fatal session state")
	}
}

func formatStatus(snap state.Snapshot) string {
	pb := snap.Playback

	var b strings.Builder
	switch {
	case pb.Stalled:
		b.WriteString("[stalled]")
	case pb.Playing:
		b.WriteString("[playing]")
	default:
		b.WriteString("[paused] ")
	}

	if pb.Current != nil {
		fmt.Fprintf(&b, " %s - %s", pb.Current.Track.ArtistLine(), pb.Current.Track.Name)
		fmt.Fprintf(&b, "  %s/%s",
			fmtDuration(time.Duration(pb.Position())*time.Millisecond),
			fmtDuration(time.Duration(pb.DurationMs)*time.Millisecond))
	} else {
		b.WriteString(" (nothing playing)")
	}

	fmt.Fprintf(&b, "  vol %d%%", pb.Volume)
	if pb.Shuffle {
		b.WriteString(" shuffle")
	}
	if pb.Repeat.String() != "off" {
		fmt.Fprintf(&b, " repeat:%s", pb.Repeat)
	}
	if pb.DeviceName != "" {
		fmt.Fprintf(&b, " @%s", pb.DeviceName)
	}
	if snap.Notice != "" {
		fmt.Fprintf(&b, "  ! %s", snap.Notice)
	}
	return b.String()
}

func fmtDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", m, s)
}
