// Package main provides the strum client entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/strumcli/strum/internal/app/auth"
	"github.com/strumcli/strum/internal/app/queue"
	"github.com/strumcli/strum/internal/app/state"
	"github.com/strumcli/strum/internal/infra/config"
	"github.com/strumcli/strum/internal/infra/credstore"
	"github.com/strumcli/strum/internal/infra/logger"
	"github.com/strumcli/strum/internal/infra/spotify"
)

var (
	app        = kingpin.New("strum", "strum terminal Spotify client")
	configPath = app.Flag("config", "Path to config file").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: from config)").String()

	logoutCmd = app.Command("logout", "Remove stored credentials and exit")
)

func init() {
	app.Command("start", "Start the client (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Output: cfg.Log.Output,
		Level:  cfg.Log.Level,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if command == logoutCmd.FullCommand() {
		store := credstore.New(cfg.Auth.CredentialsFile)
		if err := store.Clear(); err != nil {
			zlog.Fatal().Msgf("Failed to clear credentials: %v", err)
		}
		fmt.Println("Stored credentials removed.")
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Client error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file when one is given, otherwise builds a
// config from defaults and environment variables.
func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.Load(*configPath)
	}
	return config.Default()
}

// run executes the main client logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := credstore.New(cfg.Auth.CredentialsFile)
	authn := auth.New(auth.Config{
		ClientID:     cfg.Auth.ClientID,
		RedirectPort: cfg.Auth.RedirectPort,
	}, store)

	zlog.Info().Msg("Authenticating...")
	sess, err := authn.Authenticate(ctx)
	if err != nil {
		return err
	}
	zlog.Info().Time("expires", sess.ExpiresAt).Msg("Session established")

	catalog := spotify.NewCatalog(sess, spotify.CatalogConfig{
		Market:      cfg.Catalog.Market,
		SearchLimit: cfg.Catalog.SearchLimit,
		RatePerSec:  cfg.Catalog.RatePerSec,
		MaxRetries:  cfg.Catalog.MaxRetries,
	})
	transport := spotify.NewTransport(sess, spotify.TransportConfig{
		PollInterval: time.Duration(cfg.Playback.PollIntervalMs) * time.Millisecond,
	})

	// One renewal path rebinds both adapters to the fresh tokens.
	renew := func(ctx context.Context) error {
		fresh, err := authn.Renew(ctx)
		if err != nil {
			return err
		}
		catalog.UpdateSession(fresh)
		transport.UpdateSession(fresh)
		return nil
	}

	bridge := state.NewBridge()
	coord := queue.New(transport, catalog, bridge, renew, queue.Config{
		MaxAutoSkips: cfg.Playback.MaxAutoSkips,
		VolumeStep:   cfg.Playback.VolumeStep,
	})

	transport.Run(ctx)
	defer transport.Close()
	coord.Run(ctx)
	defer coord.Close()

	// Surface state changes and detect fatal session loss.
	fatalCh := make(chan string, 1)
	sub, snapCh := bridge.Subscribe()
	defer bridge.Unsubscribe(sub)
	go func() {
		for snap := range snapCh {
			printStatus(snap)
			if snap.Fatal != "" {
				select {
				case fatalCh <- snap.Fatal:
				default:
				}
				return
			}
		}
	}()

	repl := newRepl(coord, catalog, bridge)
	replDone := make(chan struct{})
	go func() {
		defer close(replDone)
		repl.run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case <-replDone:
		zlog.Info().Msg("Input closed, shutting down...")
	case reason := <-fatalCh:
		return fmt.Errorf("session lost: %s (run again to re-authorize)", reason)
	}

	return nil
}
