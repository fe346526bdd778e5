package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gnomepatch/internal/config"
	"gnomepatch/internal/httpserver"
	"gnomepatch/internal/logger"
	"gnomepatch/internal/worldlist"
)

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	o := targetFlags(fs)
	listen := fs.String("listen", "", "listen address (default from config, :8080)")
	worldFile := fs.String("world-file", "", "serve this prebuilt .ws file instead of the configured worlds")

	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := o.load()
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *worldFile != "" {
		cfg.WorldFile = *worldFile
	}

	log := newLogger(cfg)
	defer log.Sync()

	worlds, err := worldPayload(cfg)
	if err != nil {
		return err
	}
	log.Info("world list loaded", logger.Int("bytes", len(worlds)), logger.String("file", cfg.WorldFile))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := httpserver.New(cfg.Listen, log, worlds)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", logger.Error(err))
		return err
	}
	return <-errCh
}

// worldPayload returns the configured world file verbatim, or encodes the
// configured worlds.
func worldPayload(cfg *config.Config) ([]byte, error) {
	if cfg.WorldFile != "" {
		b, err := os.ReadFile(cfg.WorldFile)
		if err != nil {
			return nil, fmt.Errorf("read world file: %w", err)
		}
		return b, nil
	}
	records, err := cfg.Records()
	if err != nil {
		return nil, err
	}
	return worldlist.Encode(records)
}
