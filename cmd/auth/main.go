// Package main provides the authorization helper. It runs the browser
// credential exchange and seeds the credential store, so the client can
// start headless afterwards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/strumcli/strum/internal/app/auth"
	"github.com/strumcli/strum/internal/infra/credstore"
	"github.com/strumcli/strum/internal/infra/logger"
)

var (
	app       = kingpin.New("strum-auth", "Authorization helper for strum")
	clientID  = app.Flag("client-id", "Spotify Client ID").Envar("SPOTIFY_CLIENT_ID").Required().String()
	port      = app.Flag("port", "Callback server port").Default("8898").Int()
	credsFile = app.Flag("credentials", "Credential store path").Envar("STRUM_CREDENTIALS_FILE").Default(".cache/credentials.json").String()
	fresh     = app.Flag("fresh", "Discard stored credentials and re-authorize").Bool()
)

func main() {
	_ = godotenv.Load()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := logger.Init(logger.Config{Output: "stderr", Level: "warn"}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	store := credstore.New(*credsFile)
	if *fresh {
		if err := store.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clear credentials: %v\n", err)
			os.Exit(1)
		}
	}

	authn := auth.New(auth.Config{
		ClientID:     *clientID,
		RedirectPort: *port,
	}, store)

	sess, err := authn.Authenticate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Authorization failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("")
	fmt.Println("=== Authorization Successful ===")
	fmt.Println("")
	fmt.Printf("Credentials stored in %s\n", *credsFile)
	fmt.Printf("Session valid until %s\n", sess.ExpiresAt.Format("15:04:05"))
	fmt.Println("")
	fmt.Println("You can now run strum.")
}
