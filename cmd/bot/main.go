package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"quaver/internal/config"
	"quaver/internal/discord"
	"quaver/internal/logging"
	"quaver/internal/music/janitor"
	v "quaver/internal/version"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		bootLog := logging.New("info", "")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logging.New(cfg.LogLevel, cfg.LogFile)
	log.Info().Str("version", v.Version).Msgf("starting %s", v.AppName)

	// A crash can leave temp audio behind; reclaim it before serving.
	if _, err := janitor.Sweep(cfg.CacheDir, log); err != nil {
		log.Warn().Err(err).Msg("startup artifact sweep failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- discord.StartBot(ctx, cfg, log)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("bot exited with error")
			os.Exit(1)
		}
	}

	log.Info().Msg("exited cleanly")
}
