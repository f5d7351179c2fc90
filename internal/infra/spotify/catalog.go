// Package spotify provides the concrete catalog and playback transport
// adapters over the Spotify Web API.
package spotify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/strumcli/strum/internal/app/auth"
	"github.com/strumcli/strum/internal/app/player"
	"github.com/strumcli/strum/internal/domain/track"
)

// CatalogConfig represents catalog adapter configuration.
type CatalogConfig struct {
	Market      string
	SearchLimit int
	RatePerSec  float64
	MaxRetries  int
	RetryDelay  time.Duration
}

// Catalog is the metadata/control API adapter. Rate-limit retries happen
// here; callers only see RateLimited once retries are exhausted.
type Catalog struct {
	mu     sync.RWMutex
	client *spotify.Client

	market      string
	searchLimit int
	maxRetries  int
	retryDelay  time.Duration
	limiter     *rate.Limiter
}

// NewCatalog creates a catalog adapter bound to the session's catalog token.
func NewCatalog(sess *auth.Session, cfg CatalogConfig) *Catalog {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 20
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 8
	}
	return &Catalog{
		client:      apiClient(sess.Catalog),
		market:      cfg.Market,
		searchLimit: cfg.SearchLimit,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
}

// UpdateSession swaps in tokens from a renewed session.
func (c *Catalog) UpdateSession(sess *auth.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = apiClient(sess.Catalog)
}

func (c *Catalog) api() *spotify.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// apiClient builds a Web API client for a subsystem token. Token refresh is
// not handled here: Unauthorized surfaces to the coordinator, which renews
// the session and retries.
func apiClient(tok *oauth2.Token) *spotify.Client {
	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(tok))
	return spotify.New(httpClient)
}

// Search searches the catalog for the given entity kinds.
func (c *Catalog) Search(ctx context.Context, query string, kinds []track.EntityKind) ([]track.Entity, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}

	st := searchTypes(kinds)

	var result *spotify.SearchResult
	err := c.retry(ctx, func() error {
		r, err := c.api().Search(ctx, query, st, spotify.Limit(c.searchLimit), spotify.Market(c.market))
		if err != nil {
			return classifyCatalog(err)
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "search failed")
	}

	var entities []track.Entity
	if result.Tracks != nil {
		for i := range result.Tracks.Tracks {
			t := convertTrack(&result.Tracks.Tracks[i])
			entities = append(entities, track.Entity{
				Kind:    track.KindTrack,
				ID:      t.ID,
				Name:    t.Name,
				Artists: t.Artists,
				Tracks:  []track.Track{t},
			})
		}
	}
	if result.Albums != nil {
		for _, a := range result.Albums.Albums {
			entities = append(entities, track.Entity{
				Kind:    track.KindAlbum,
				ID:      string(a.ID),
				Name:    a.Name,
				Artists: artistNames(a.Artists),
			})
		}
	}
	if result.Artists != nil {
		for _, a := range result.Artists.Artists {
			entities = append(entities, track.Entity{
				Kind: track.KindArtist,
				ID:   string(a.ID),
				Name: a.Name,
			})
		}
	}
	if result.Playlists != nil {
		for _, p := range result.Playlists.Playlists {
			entities = append(entities, track.Entity{
				Kind: track.KindPlaylist,
				ID:   string(p.ID),
				Name: p.Name,
			})
		}
	}
	return entities, nil
}

// Browse resolves an entity and its tracks. Accepts bare IDs with a kind
// prefix ("album:..."), full URIs ("spotify:album:...") and open.spotify.com
// URLs; a bare unprefixed ID is treated as a track.
func (c *Catalog) Browse(ctx context.Context, entityID string) (*track.Entity, error) {
	kind, id := ParseEntityID(entityID)

	var entity *track.Entity
	err := c.retry(ctx, func() error {
		e, err := c.browseOnce(ctx, kind, id)
		if err != nil {
			return err
		}
		entity = e
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "browse %s %s failed", kind, id)
	}
	return entity, nil
}

func (c *Catalog) browseOnce(ctx context.Context, kind track.EntityKind, id string) (*track.Entity, error) {
	switch kind {
	case track.KindTrack:
		t, err := c.api().GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return nil, classifyCatalog(err)
		}
		dt := convertTrack(t)
		return &track.Entity{Kind: track.KindTrack, ID: dt.ID, Name: dt.Name, Artists: dt.Artists, Tracks: []track.Track{dt}}, nil

	case track.KindAlbum:
		a, err := c.api().GetAlbum(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return nil, classifyCatalog(err)
		}
		e := &track.Entity{Kind: track.KindAlbum, ID: string(a.ID), Name: a.Name, Artists: artistNames(a.Artists)}
		for i := range a.Tracks.Tracks {
			e.Tracks = append(e.Tracks, convertSimpleTrack(&a.Tracks.Tracks[i], a.Name))
		}
		return e, nil

	case track.KindPlaylist:
		e := &track.Entity{Kind: track.KindPlaylist, ID: id}
		offset := 0
		const pageSize = 100
		for {
			page, err := c.api().GetPlaylistItems(ctx, spotify.ID(id),
				spotify.Limit(pageSize), spotify.Offset(offset), spotify.Market(c.market))
			if err != nil {
				return nil, classifyCatalog(err)
			}
			for _, item := range page.Items {
				if item.Track.Track != nil && item.Track.Track.ID != "" {
					e.Tracks = append(e.Tracks, convertTrack(item.Track.Track))
				}
			}
			if len(page.Items) < pageSize {
				break
			}
			offset += pageSize
		}
		return e, nil

	case track.KindArtist:
		top, err := c.api().GetArtistsTopTracks(ctx, spotify.ID(id), c.market)
		if err != nil {
			return nil, classifyCatalog(err)
		}
		e := &track.Entity{Kind: track.KindArtist, ID: id}
		for i := range top {
			e.Tracks = append(e.Tracks, convertTrack(&top[i]))
		}
		if len(top) > 0 && len(top[0].Artists) > 0 {
			e.Name = top[0].Artists[0].Name
		}
		return e, nil

	default:
		return nil, errors.Mark(errors.Newf("unknown entity kind %q", kind), player.ErrNotFound)
	}
}

// ListDevices lists the playback devices visible to the account.
func (c *Catalog) ListDevices(ctx context.Context) ([]track.Device, error) {
	var devices []track.Device
	err := c.retry(ctx, func() error {
		ds, err := c.api().PlayerDevices(ctx)
		if err != nil {
			return classifyCatalog(err)
		}
		devices = devices[:0]
		for _, d := range ds {
			devices = append(devices, track.Device{
				ID:     string(d.ID),
				Name:   d.Name,
				Active: d.Active,
			})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list devices")
	}
	return devices, nil
}

// ListLibrary lists the user's saved tracks, albums and playlists.
func (c *Catalog) ListLibrary(ctx context.Context) ([]track.Entity, error) {
	var entities []track.Entity
	err := c.retry(ctx, func() error {
		entities = entities[:0]

		saved, err := c.api().CurrentUsersTracks(ctx, spotify.Limit(50))
		if err != nil {
			return classifyCatalog(err)
		}
		for i := range saved.Tracks {
			t := convertTrack(&saved.Tracks[i].FullTrack)
			entities = append(entities, track.Entity{
				Kind:    track.KindTrack,
				ID:      t.ID,
				Name:    t.Name,
				Artists: t.Artists,
				Tracks:  []track.Track{t},
			})
		}

		albums, err := c.api().CurrentUsersAlbums(ctx, spotify.Limit(50))
		if err != nil {
			return classifyCatalog(err)
		}
		for _, a := range albums.Albums {
			entities = append(entities, track.Entity{
				Kind:    track.KindAlbum,
				ID:      string(a.ID),
				Name:    a.Name,
				Artists: artistNames(a.Artists),
			})
		}

		playlists, err := c.api().CurrentUsersPlaylists(ctx, spotify.Limit(50))
		if err != nil {
			return classifyCatalog(err)
		}
		for _, p := range playlists.Playlists {
			entities = append(entities, track.Entity{
				Kind: track.KindPlaylist,
				ID:   string(p.ID),
				Name: p.Name,
			})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list library")
	}
	return entities, nil
}

// AddToQueue appends a track to the remote player's own queue. Best effort:
// the remote queue is not authoritative for the logical queue.
func (c *Catalog) AddToQueue(ctx context.Context, trackID string) error {
	err := c.retry(ctx, func() error {
		if err := c.api().QueueSong(ctx, spotify.ID(ExtractTrackID(trackID))); err != nil {
			return classifyCatalog(err)
		}
		return nil
	})
	return errors.Wrap(err, "failed to add track to remote queue")
}

// retry runs fn under the client-side rate limiter, retrying rate-limit and
// availability failures with linear backoff.
func (c *Catalog) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.Is(err, player.ErrRateLimited) && !errors.Is(err, player.ErrCatalogUnavailable) {
			return err
		}
		if i < c.maxRetries-1 {
			delay := c.retryDelay * time.Duration(i+1)
			zlog.Debug().Err(err).Dur("delay", delay).Msg("catalog: retrying after transient failure")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// searchTypes maps entity kinds onto the API's search type mask.
func searchTypes(kinds []track.EntityKind) spotify.SearchType {
	if len(kinds) == 0 {
		return spotify.SearchTypeTrack | spotify.SearchTypeAlbum | spotify.SearchTypeArtist | spotify.SearchTypePlaylist
	}
	var st spotify.SearchType
	for _, k := range kinds {
		switch k {
		case track.KindTrack:
			st |= spotify.SearchTypeTrack
		case track.KindAlbum:
			st |= spotify.SearchTypeAlbum
		case track.KindArtist:
			st |= spotify.SearchTypeArtist
		case track.KindPlaylist:
			st |= spotify.SearchTypePlaylist
		}
	}
	return st
}

func artistNames(artists []spotify.SimpleArtist) []string {
	names := make([]string, len(artists))
	for i, a := range artists {
		names[i] = a.Name
	}
	return names
}

func convertTrack(t *spotify.FullTrack) track.Track {
	return track.Track{
		ID:       string(t.ID),
		Name:     t.Name,
		Artists:  artistNames(t.Artists),
		Album:    t.Album.Name,
		Duration: time.Duration(t.Duration) * time.Millisecond,
		URI:      string(t.URI),
		Explicit: t.Explicit,
	}
}

func convertSimpleTrack(t *spotify.SimpleTrack, album string) track.Track {
	return track.Track{
		ID:       string(t.ID),
		Name:     t.Name,
		Artists:  artistNames(t.Artists),
		Album:    album,
		Duration: time.Duration(t.Duration) * time.Millisecond,
		URI:      string(t.URI),
		Explicit: t.Explicit,
	}
}

// ParseEntityID splits an entity reference into kind and bare ID. Supports
// "kind:id", "spotify:kind:id" and open.spotify.com URLs; bare IDs default
// to tracks.
func ParseEntityID(input string) (track.EntityKind, string) {
	input = strings.TrimSpace(input)

	if strings.Contains(input, "open.spotify.com") {
		for _, kind := range []track.EntityKind{track.KindTrack, track.KindAlbum, track.KindArtist, track.KindPlaylist} {
			marker := "/" + string(kind) + "/"
			if idx := strings.Index(input, marker); idx >= 0 {
				id := input[idx+len(marker):]
				id = strings.Split(id, "?")[0]
				id = strings.TrimRight(id, "/")
				return kind, id
			}
		}
		return track.KindTrack, input
	}

	parts := strings.Split(input, ":")
	switch len(parts) {
	case 3:
		if parts[0] == "spotify" {
			if kind := toKind(parts[1]); kind != "" {
				return kind, parts[2]
			}
		}
	case 2:
		if kind := toKind(parts[0]); kind != "" {
			return kind, parts[1]
		}
	}
	return track.KindTrack, input
}

// ExtractTrackID strips URI and URL decoration from a track reference.
func ExtractTrackID(input string) string {
	_, id := ParseEntityID(input)
	return id
}

func toKind(s string) track.EntityKind {
	switch s {
	case "track":
		return track.KindTrack
	case "album":
		return track.KindAlbum
	case "artist":
		return track.KindArtist
	case "playlist":
		return track.KindPlaylist
	default:
		return ""
	}
}
