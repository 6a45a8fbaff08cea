// Command credcheck probes the hosted backend with the stored credentials
// (or the configured defaults) and reports whether they work. Flags override
// either half of the pair without storing anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ericfisherdev/datagate"
	"github.com/ericfisherdev/datagate/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("credcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	url := fs.String("url", "", "service URL to probe instead of the stored one")
	key := fs.String("key", "", "service key to probe instead of the stored one")
	verbose := fs.Bool("v", false, "log at debug level")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(stderr, "credcheck:", err)
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "credcheck:", err)
		return 1
	}

	opts := datagate.OptionsFromConfig(cfg)
	opts.Logger = logger
	store, err := datagate.Open(ctx, opts)
	if err != nil {
		fmt.Fprintln(stderr, "credcheck:", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "error", err)
		}
	}()

	creds := store.GetCurrentCredentials(ctx)
	if *url != "" {
		creds.ServiceURL = *url
	}
	if *key != "" {
		creds.ServiceKey = *key
	}

	source := "defaults"
	if at, ok := store.CredentialsStoredAt(ctx); ok {
		source = "stored " + at.UTC().Format("2006-01-02 15:04:05 MST")
	}
	fmt.Fprintf(stdout, "url:     %s\nkey:     %s\nsource:  %s\n", creds.ServiceURL, creds.MaskedKey(), source)

	result := store.TestConnection(ctx, creds.ServiceURL, creds.ServiceKey)
	if !result.Success {
		fmt.Fprintf(stdout, "result:  FAILED (%s)\n", result.Error)
		return 1
	}
	fmt.Fprintln(stdout, "result:  OK")
	return 0
}
