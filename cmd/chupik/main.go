package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/devdenneg/chupik/common/version"
	"github.com/devdenneg/chupik/internal/chupik/app"
	"github.com/devdenneg/chupik/internal/chupik/config"
)

func main() {
	fmt.Printf("Chupik %s\n\n", version.Info())

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg))
	slog.Info("chupik: starting", "version", version.Info())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chupik, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Chupik: %v\n", err)
		os.Exit(1)
	}

	if err := chupik.Run(ctx); err != nil {
		slog.Error("chupik stopped with an error", "err", err)
		chupik.Stop()
		os.Exit(1)
	}
}

// newLogger builds the process logger from CHUPIK_LOG_LEVEL and
// CHUPIK_LOG_FORMAT, which Validate has already checked.
func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
