package spotify

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"

	"github.com/strumcli/strum/internal/app/player"
)

// classifyCatalog maps a Web API failure onto the catalog error taxonomy.
func classifyCatalog(err error) error {
	if err == nil {
		return nil
	}
	var se spotify.Error
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusUnauthorized:
			return errors.Mark(err, player.ErrUnauthorized)
		case se.Status == http.StatusTooManyRequests:
			return errors.Mark(err, player.ErrRateLimited)
		case se.Status == http.StatusNotFound:
			return errors.Mark(err, player.ErrNotFound)
		case se.Status >= 500:
			return errors.Mark(err, player.ErrCatalogUnavailable)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Transport-level failure reaching the catalog endpoint.
	return errors.Mark(err, player.ErrCatalogUnavailable)
}

// classifyTransport maps a player endpoint failure onto the playback error
// taxonomy. The player API reports a missing or revoked device as 404 and a
// restricted or unknown track as 403.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	var se spotify.Error
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusUnauthorized:
			return errors.Mark(err, player.ErrUnauthorized)
		case se.Status == http.StatusNotFound:
			return errors.Mark(err, player.ErrNoDevice)
		case se.Status == http.StatusForbidden:
			return errors.Mark(err, player.ErrTrackUnavailable)
		case se.Status == http.StatusTooManyRequests:
			return errors.Mark(err, player.ErrRateLimited)
		case se.Status >= 500:
			return errors.Mark(err, player.ErrTransportDisconnected)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Mark(err, player.ErrTransportDisconnected)
}
