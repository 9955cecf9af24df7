// Command btmediad runs the Bluetooth media connection coordinator: the
// per-device A2DP/AVRCP/HFP lifecycle state machine, the HFP call-state
// engine, and the media control facade a host audio stack drives.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/btmedia/coordinator/internal/btmedia/ancillary"
	"github.com/btmedia/coordinator/internal/btmedia/banner"
	"github.com/btmedia/coordinator/internal/btmedia/config"
	"github.com/btmedia/coordinator/internal/btmedia/coordinator"
	"github.com/btmedia/coordinator/internal/btmedia/logger"
	"github.com/btmedia/coordinator/internal/btmedia/metrics"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	console := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	logger.Init(logger.NewMultiHandler(console))
	logger.SetLevel(cfg.LogLevel)
	log := slog.Default()

	banner.Print("btmediad", []banner.ConfigLine{
		{Label: "log level", Value: cfg.LogLevel},
		{Label: "initiator grace (T1)", Value: cfg.InitiatorGrace.String()},
		{Label: "discovery timeout (T2)", Value: cfg.ProfileDiscoveryTimeout.String()},
		{Label: "phone ops enabled", Value: boolLabel(cfg.PhoneOpsEnabled)},
		{Label: "debug API", Value: debugAPILabel(cfg.DebugAPIAddr)},
	})

	adapter, err := ancillary.NewAdapter("hci0", log)
	if err != nil {
		log.Error("failed to connect to BlueZ adapter", "err", err)
		os.Exit(1)
	}
	defer adapter.Close()

	backends := coordinator.Backends{
		Adapter: adapter,
		Keys:    ancillary.NewKeyInjector(),
		Battery: ancillary.NewBatteryProvider(adapter.Conn(), "hci0", log),
		// A2DP, AVRCP, and HFP are native profile-stack bindings this
		// module declares the downward interface for (internal/btmedia/
		// backend) but does not implement; a real deployment supplies
		// them here via its own cgo or D-Bus profile bindings.
	}

	coord, err := coordinator.New(cfg, backends, metrics.NoopSink{}, log)
	if err != nil {
		log.Error("failed to build coordinator", "err", err)
		os.Exit(1)
	}

	run(coord, cfg, log)
}

func run(coord *coordinator.Coordinator, cfg *config.Config, log *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(); err != nil {
		log.Error("failed to start debug API", "err", err)
		os.Exit(1)
	}
	if cfg.DebugAPIAddr != "" {
		log.Info("debug API listening", "addr", cfg.DebugAPIAddr)
	}

	go coord.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", "signal", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := coord.Close(shutdownCtx); err != nil {
		log.Warn("error during shutdown", "err", err)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func debugAPILabel(addr string) string {
	if addr == "" {
		return "disabled"
	}
	return addr
}
