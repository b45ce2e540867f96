package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"perparb/internal/infrastructure/config"
	"perparb/internal/infrastructure/logger"
	"perparb/internal/infrastructure/svc"

	// venue adapters register themselves
	_ "perparb/internal/infrastructure/exchange/binance"
	_ "perparb/internal/infrastructure/exchange/bitget"
	_ "perparb/internal/infrastructure/exchange/bybit"
	_ "perparb/internal/infrastructure/exchange/mexc"
	_ "perparb/internal/infrastructure/exchange/okx"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	closer := logger.Setup(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("initialization failed")
		return
	}
	defer sc.Close()

	log.Info().
		Str("config", *configPath).
		Strs("symbols", cfg.Symbols.List).
		Strs("quotes", cfg.Symbols.Quotes).
		Int("interval_ms", cfg.Aggregation.IntervalMs).
		Msg("perparb started")

	if err := sc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("perparb exited")
		return
	}
	log.Info().Msg("perparb stopped")
}
