/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/friendsincode/waver/internal/config"
	"github.com/friendsincode/waver/internal/coordinator"
	"github.com/friendsincode/waver/internal/decoder"
	"github.com/friendsincode/waver/internal/errlog"
	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/ipc"
	"github.com/friendsincode/waver/internal/logging"
	"github.com/friendsincode/waver/internal/source"
	"github.com/spf13/cobra"
)

var playStreamURL string

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Run the playback engine",
	Long: `play starts the playback engine: it scans the configured media root as a
local-file Source, optionally tunes in a live stream URL as a second
Source, and serves both the TCP wire protocol and the HTTP diagnostics
surface until interrupted.`,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().StringVar(&playStreamURL, "stream", "", "Live stream URL to register as a network Source")
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := logging.Setup(cfg.Environment)
	logger.Info().Msg("waverengine starting")

	bus := events.NewBus()
	errLog := errlog.New(errlog.DefaultCapacity)
	decoders := decoder.DefaultRegistry()

	coord := coordinator.New(cfg, bus, errLog, decoders, logger)

	localSrc, err := source.NewLocalFileSource("local", cfg.MediaRoot, bus, logger)
	if err != nil {
		return fmt.Errorf("local source: %w", err)
	}
	coord.RegisterSource("local", 0, localSrc)

	if playStreamURL != "" {
		netSrc := source.NewNetworkSource("network", playStreamURL, bus, logger)
		coord.RegisterSource("network", 10, netSrc)
	}

	coord.RegisterSource(ipc.ExternalSourceID(), 5, ipc.ExternalSource())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The external (IPC-enqueued) source never emits its own ready event —
	// unlike LocalFileSource and NetworkSource, whose constructors publish
	// one, it has no constructor of its own to do so.
	bus.Publish(events.EventSourceReady, events.Payload{"source_id": ipc.ExternalSourceID()})

	coord.Start(ctx)

	wireServer := ipc.NewServer(cfg.IPCBind, cfg.IPCPort, coord, bus, errLog, logger)
	diagServer := ipc.NewDiagnosticsServer(cfg.DiagnosticsBind, cfg.DiagnosticsPort, wireServer, logger)

	errCh := make(chan error, 2)
	go func() { errCh <- wireServer.ListenAndServe(ctx) }()
	go func() { errCh <- diagServer.ListenAndServe(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited with error")
		}
		cancel()
	}

	coord.Wait()
	logger.Info().Msg("waverengine stopped")
	return nil
}
