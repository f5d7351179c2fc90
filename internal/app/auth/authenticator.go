// Package auth performs the single credential exchange and derives the two
// subsystem tokens (catalog and playback transport) from its result.
package auth

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/strumcli/strum/internal/infra/credstore"
)

// Errors
var (
	ErrExpired              = errors.New("authentication expired")
	ErrDenied               = errors.New("authentication denied")
	ErrTransportUnavailable = errors.New("authentication transport unavailable")
)

// scopeList covers both subsystems: streaming for the playback transport,
// the rest for the catalog/control API.
const scopeList = "streaming user-read-playback-state user-modify-playback-state " +
	"user-read-currently-playing playlist-read-private playlist-read-collaborative " +
	"user-read-playback-position user-top-read user-read-recently-played user-library-read"

// Scopes returns the requested OAuth scopes.
func Scopes() []string {
	return strings.Fields(scopeList)
}

// The prompt goes to stderr so it stays visible when stdout is a screen.
var printWriter io.Writer = os.Stderr

// Session is the derived pair of subsystem tokens from one authentication
// exchange, plus an expiry hint. At most one Session is live at a time.
type Session struct {
	Catalog   *oauth2.Token // token for the metadata/control API
	Transport string        // bearer token handed to the playback transport
	ExpiresAt time.Time     // expiry hint for both tokens
}

// Config represents authenticator configuration.
type Config struct {
	ClientID     string
	RedirectPort int

	// Prompt presents the authorization URL to the user. Defaults to
	// printing it on stderr.
	Prompt func(url string)

	// Endpoint overrides for tests. Empty means the Spotify accounts service.
	AuthURL  string
	TokenURL string
}

// Authenticator drives authentication against the credential store.
type Authenticator struct {
	mu      sync.Mutex
	cfg     Config
	store   *credstore.Store
	session *Session
}

// New creates a new authenticator.
func New(cfg Config, store *credstore.Store) *Authenticator {
	if cfg.Prompt == nil {
		cfg.Prompt = func(url string) {
			fmt.Fprintf(printWriter, "Open the following URL to authorize:\n\n%s\n\n", url)
		}
	}
	return &Authenticator{cfg: cfg, store: store}
}

// Session returns the live session, or nil.
func (a *Authenticator) Session() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Invalidate destroys the live session. Used on logout and on fatal auth
// errors; the next Authenticate runs the full flow again.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = nil
}

// Authenticate returns a usable Session. A persisted blob is tried silently
// first; if it is absent, corrupt, or rejected, one user-facing credential
// exchange is driven and the resulting blob persisted.
func (a *Authenticator) Authenticate(ctx context.Context) (*Session, error) {
	blob := a.loadBlob()

	if blob != nil {
		sess, err := a.silent(ctx, blob)
		switch {
		case err == nil:
			return sess, nil
		case errors.Is(err, ErrTransportUnavailable):
			return nil, err
		default:
			zlog.Warn().Err(err).Msg("auth: silent re-authentication failed, starting credential exchange")
		}
	}

	return a.interactive(ctx)
}

// Renew re-derives the session tokens from the persisted blob without user
// interaction. Used by the coordinator to resolve Unauthorized errors.
func (a *Authenticator) Renew(ctx context.Context) (*Session, error) {
	blob := a.loadBlob()
	if blob == nil {
		return nil, ErrExpired
	}
	return a.silent(ctx, blob)
}

// loadBlob reads the persisted blob, retrying once when it is observed
// mid-rewrite. Returns nil when no usable blob exists.
func (a *Authenticator) loadBlob() *credstore.Blob {
	blob, err := a.store.Load()
	if err == nil {
		return blob
	}
	if errors.Is(err, credstore.ErrCorrupt) {
		time.Sleep(50 * time.Millisecond)
		if blob, err = a.store.Load(); err == nil {
			return blob
		}
	}
	if !errors.Is(err, credstore.ErrNoBlob) {
		zlog.Warn().Err(err).Msg("auth: credential blob unreadable")
	}
	return nil
}

// silent exchanges the stored refresh token for fresh subsystem tokens.
// Persists the blob only when the remote rotated the refresh token.
func (a *Authenticator) silent(ctx context.Context, blob *credstore.Blob) (*Session, error) {
	conf := a.oauthConfig()
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: blob.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}

	if tok.RefreshToken != "" && tok.RefreshToken != blob.RefreshToken {
		zlog.Debug().Msg("auth: refresh token rotated, persisting new blob")
		if err := a.store.Save(&credstore.Blob{RefreshToken: tok.RefreshToken, Scopes: Scopes()}); err != nil {
			zlog.Warn().Err(err).Msg("auth: failed to persist rotated blob")
		}
	}

	return a.install(tok), nil
}

// interactive drives the one user-facing credential exchange: an OAuth
// authorization-code flow with PKCE and a local callback server.
func (a *Authenticator) interactive(ctx context.Context) (*Session, error) {
	conf := a.oauthConfig()
	state := uuid.New().String()
	verifier := oauth2.GenerateVerifier()

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", a.cfg.RedirectPort))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to bind callback port"), ErrTransportUnavailable)
	}

	type result struct {
		tok *oauth2.Token
		err error
	}
	resultCh := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if st := r.URL.Query().Get("state"); st != state {
			http.Error(w, "State mismatch", http.StatusForbidden)
			resultCh <- result{err: errors.Mark(errors.New("oauth state mismatch"), ErrDenied)}
			return
		}
		if e := r.URL.Query().Get("error"); e != "" {
			http.Error(w, "Authorization failed", http.StatusForbidden)
			resultCh <- result{err: errors.Mark(errors.Newf("authorization refused: %s", e), ErrDenied)}
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "Missing code", http.StatusBadRequest)
			resultCh <- result{err: errors.Mark(errors.New("callback without code"), ErrDenied)}
			return
		}
		tok, err := conf.Exchange(r.Context(), code, oauth2.VerifierOption(verifier))
		if err != nil {
			http.Error(w, "Token exchange failed", http.StatusInternalServerError)
			resultCh <- result{err: classifyTokenError(err)}
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, callbackPage)
		resultCh <- result{tok: tok}
	})

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			resultCh <- result{err: errors.Mark(errors.Wrap(err, "callback server failed"), ErrTransportUnavailable)}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	a.cfg.Prompt(conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)))
	zlog.Info().Msg("auth: waiting for authorization callback")

	var res result
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		return nil, errors.Mark(ctx.Err(), ErrTransportUnavailable)
	}
	if res.err != nil {
		return nil, res.err
	}

	// Exactly one blob write per successful full authentication.
	if err := a.store.Save(&credstore.Blob{RefreshToken: res.tok.RefreshToken, Scopes: Scopes()}); err != nil {
		return nil, errors.Wrap(err, "failed to persist credential blob")
	}

	zlog.Info().Msg("auth: credential exchange completed")
	return a.install(res.tok), nil
}

// install derives the subsystem token pair and makes it the live session.
func (a *Authenticator) install(tok *oauth2.Token) *Session {
	expires := tok.Expiry
	if expires.IsZero() {
		expires = time.Now().Add(time.Hour)
	}
	sess := &Session{
		Catalog:   tok,
		Transport: tok.AccessToken,
		ExpiresAt: expires,
	}

	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()
	return sess
}

func (a *Authenticator) oauthConfig() *oauth2.Config {
	authURL := a.cfg.AuthURL
	if authURL == "" {
		authURL = spotifyauth.AuthURL
	}
	tokenURL := a.cfg.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	return &oauth2.Config{
		ClientID:    a.cfg.ClientID,
		RedirectURL: fmt.Sprintf("http://127.0.0.1:%d/callback", a.cfg.RedirectPort),
		Scopes:      Scopes(),
		Endpoint:    oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
	}
}

// classifyTokenError maps token endpoint failures onto the auth taxonomy.
func classifyTokenError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode {
		case "invalid_grant":
			return errors.Mark(err, ErrExpired)
		case "access_denied", "invalid_client":
			return errors.Mark(err, ErrDenied)
		}
		if rerr.Response != nil && rerr.Response.StatusCode >= 500 {
			return errors.Mark(err, ErrTransportUnavailable)
		}
		return errors.Mark(err, ErrExpired)
	}
	return errors.Mark(err, ErrTransportUnavailable)
}

const callbackPage = `<!doctype html>
<html>
<head><title>strum</title></head>
<body><h1>Authorization complete</h1><p>You can close this window and return to the terminal.</p></body>
</html>
`
