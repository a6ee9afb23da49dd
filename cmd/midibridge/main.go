package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/leandrodaf/midibridge/internal/config"
	"github.com/leandrodaf/midibridge/internal/logger"
	"github.com/leandrodaf/midibridge/sdk/bridge"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

const version = "0.1.0"

func main() {
	options := parseFlags()
	if options.versionFlag {
		fmt.Printf("midibridge version %s\n", version)
		return
	}

	cfg := config.Default()
	if options.configFile != "" {
		var err error
		if cfg, err = config.Load(options.configFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	options.apply(cfg)

	log := logger.NewZapLogger()
	if options.development {
		log = logger.NewDevelopmentLogger()
	}

	if options.listDevices {
		if err := listDevices(log, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}

	b, err := bridge.NewBridge(append(cfg.Options(), contracts.WithLogger(log))...)
	if err != nil {
		log.Fatal("Failed to create bridge", log.Field().Error("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		log.Fatal("Failed to start bridge", log.Field().Error("error", err))
	}
	log.Info("midibridge is running", log.Field().String("version", version))

	select {
	case <-ctx.Done():
		log.Info("Signal received, shutting down")
	case <-b.Done():
	}
	if err := b.Stop(); err != nil {
		os.Exit(1)
	}
}

func listDevices(log contracts.Logger, cfg *config.Config) error {
	b, err := bridge.NewBridge(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.WarnLevel),
		contracts.WithDriver(cfg.Driver),
	)
	if err != nil {
		return err
	}
	defer b.Stop()

	devices, err := b.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		dir := ""
		if d.Input {
			dir += "in"
		}
		if d.Output {
			if dir != "" {
				dir += "/"
			}
			dir += "out"
		}
		fmt.Printf("%-32s %-8s %s\n", d.Name, dir, d.Manufacturer)
	}
	return nil
}
