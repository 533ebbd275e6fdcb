// Command psgemu emulates the signal generator on a TCP line link, for
// use as a "tcp" transport target.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/emulator"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("PSGEMU_CONFIG"), "path to YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "psgemu: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadEmulator(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, logCloser, err := logging.New(cfg.Log, "psgemu")
	if err != nil {
		return err
	}
	defer logCloser.Close()

	device := emulator.NewDevice(cfg.QueueSize, cfg.EchoWrites, log.With().Str("component", "device").Logger())
	defer device.Close()

	server, err := emulator.NewServer(cfg, device, log.With().Str("component", "server").Logger())
	if err != nil {
		return err
	}
	if err := server.Listen(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("addr", server.Addr().String()).
		Strs("allowedCidrs", cfg.AllowedCIDRs).
		Int("maxConns", cfg.MaxConns).
		Dur("responseDelay", cfg.ResponseDelay).
		Msg("generator emulator started")

	if err := server.Serve(ctx); err != nil {
		return err
	}
	log.Info().Msg("generator emulator stopped")
	return nil
}
