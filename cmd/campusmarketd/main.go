// Package main is the entry point for campusmarketd, a local marketplace
// backend that serves the REST and push-channel surface the client
// talks to. It is seeded with demo users and conversations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/campusmarket/internal/config"
	"github.com/tOgg1/campusmarket/internal/devserver"
	"github.com/tOgg1/campusmarket/internal/logging"
	"github.com/tOgg1/campusmarket/internal/models"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8787", "address to listen on")
	secret := flag.String("secret", os.Getenv("CAMPUSMARKETD_SECRET"), "token signing secret (random when empty)")
	heartbeat := flag.Duration("heartbeat", devserver.DefaultHeartbeat, "interval between stream heartbeats")
	streamTTL := flag.Duration("stream-token-ttl", devserver.DefaultStreamTokenTTL, "lifetime of scoped stream tokens")
	sessionTTL := flag.Duration("session-token-ttl", 24*time.Hour, "lifetime of the printed demo session tokens")
	noStreamTokens := flag.Bool("disable-stream-tokens", false, "answer 503 on the stream token endpoint")
	noSeed := flag.Bool("no-seed", false, "start without demo data")
	configFile := flag.String("config", "", "config file (default is $HOME/.config/campusmarket/config.yaml)")
	logLevel := flag.String("log-level", "", "override logging level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "override logging format (json, console)")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	logging.Init(cfg.LoggingConfig())
	logger := logging.Component("campusmarketd")

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Msg("campusmarketd starting")

	key := *secret
	if key == "" {
		key = uuid.NewString()
		logger.Warn().Msg("no signing secret given, tokens will not survive a restart")
	}

	backend := devserver.NewBackend(nil)
	if !*noSeed {
		devserver.Seed(backend)
	}

	srv, err := devserver.New(backend, devserver.Options{
		Secret:              []byte(key),
		Heartbeat:           *heartbeat,
		StreamTokenTTL:      *streamTTL,
		DisableStreamTokens: *noStreamTokens,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize server")
		os.Exit(1)
	}

	if !*noSeed {
		if err := printDemoTokens(srv.Issuer(), *addr, *sessionTTL); err != nil {
			logger.Error().Err(err).Msg("failed to issue demo tokens")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", *addr).Msg("listening")
		errCh <- srv.Listen(*addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited with error")
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
			os.Exit(1)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.SetConfigFile(path)
	}
	return loader.Load()
}

func printDemoTokens(issuer *devserver.Issuer, addr string, ttl time.Duration) error {
	fmt.Printf("campusmarketd %s on http://%s\n\n", version, addr)
	for _, user := range []models.UserRef{devserver.DemoSeller, devserver.DemoBuyer, devserver.DemoFriend} {
		token, err := issuer.SessionToken(user.ID, ttl)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s)\n  export %s_TOKEN=%s\n", user.Name, user.ID, config.EnvPrefix, token)
	}
	fmt.Println()
	return nil
}
