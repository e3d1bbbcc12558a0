package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ryan-lake/zmk/internal/bus"
	"github.com/ryan-lake/zmk/internal/config"
	"github.com/ryan-lake/zmk/internal/identity"
	"github.com/ryan-lake/zmk/internal/split"
	"github.com/ryan-lake/zmk/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the split central service",
	RunE:  runCentral,
}

func runCentral(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	events, closeBus, err := buildBus(cfg, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	radio, err := transport.NewBLERadio(transport.SecurityLevel(cfg.Conn.AssumeSecurity), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize radio: %w", err)
	}

	ids := identity.NewMemStore(cfg.Peripherals.Count, cfg.Peripherals.Addresses)
	central := split.NewCentral(cfg, radio, ids, events, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"peripherals": cfg.Peripherals.Count,
		"battery":     cfg.Features.Battery,
		"sensors":     cfg.Features.Sensors,
		"indicators":  cfg.Features.Indicators,
	}).Info("Starting split central")

	if err := central.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// buildBus selects the event sink: Redis when configured, otherwise an
// in-process channel bus drained to the log.
func buildBus(cfg *config.Config, logger *logrus.Logger) (bus.Bus, func(), error) {
	if cfg.Redis.Addr != "" {
		rb, err := bus.NewRedisBus(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("addr", cfg.Redis.Addr).Info("Publishing events to Redis")
		return rb, func() { _ = rb.Close() }, nil
	}

	cb := bus.NewChanBus(64, logger)
	go func() {
		for ev := range cb.C() {
			logger.WithFields(logrus.Fields(ev.Fields())).Info(ev.EventName())
		}
	}()
	return cb, cb.Close, nil
}
