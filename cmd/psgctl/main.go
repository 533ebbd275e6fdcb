// Command psgctl runs the generator controller service: the protocol engine
// behind an HTTP control API with SSE and websocket event streams.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/api"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/audit"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/auth"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/command"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/dispatch"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/logging"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/metrics"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/notify"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/publish"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/refresh"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/state"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/telemetry"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport/ble"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport/serial"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport/tcp"
)

const Version = "1.0.0"

func main() {
	configPath := flag.String("config", os.Getenv("PSG_CONFIG"), "path to YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "psgctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Step 1: Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Step 2: Root logger
	log, logCloser, err := logging.New(cfg.Log, "psgctl")
	if err != nil {
		return err
	}
	defer logCloser.Close()
	log.Info().Str("version", Version).Str("transport", cfg.Transport.Kind).Msg("starting generator controller")

	// Step 3: Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Step 4: Telemetry hub
	hub := telemetry.NewHub(&cfg.Timing, log.With().Str("component", "telemetry").Logger(), m)
	defer hub.Stop()

	// Step 5: Audit trail
	var auditLogger *audit.Logger
	var frames dispatch.FrameLogger
	if cfg.Audit.Enabled {
		auditLogger, err = audit.NewLogger(cfg.Audit, log.With().Str("component", "audit").Logger())
		if err != nil {
			return fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		defer auditLogger.Close()
		frames = auditLogger
		log.Info().Str("path", auditLogger.Path()).Msg("audit logger initialized")
	}

	// Step 6: Protocol engine
	session, err := newSession(cfg.Transport, log)
	if err != nil {
		return err
	}
	st := state.New()
	dispatcher := dispatch.New(dispatch.OptionsFrom(&cfg.Timing), hub, m, frames, log.With().Str("component", "dispatch").Logger())
	defer dispatcher.Close()
	router := notify.New(st, hub, m, frames, log.With().Str("component", "notify").Logger())
	refresher := refresh.New(dispatcher, cfg.Timing.RefreshGap, hub, m, log.With().Str("component", "refresh").Logger())

	// Step 7: Controller
	controller := command.New(command.Engine{
		Session:    session,
		Dispatcher: dispatcher,
		Router:     router,
		Refresher:  refresher,
		State:      st,
	}, command.OptionsFrom(cfg), hub, m, log.With().Str("component", "controller").Logger())
	if auditLogger != nil {
		controller.SetAuditLogger(auditLogger)
	}
	defer controller.Close()
	hub.SetSnapshotFunc(func() interface{} { return controller.Snapshot() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 8: Redis publisher
	if cfg.Redis.Enabled {
		pub, err := publish.New(ctx, cfg.Redis, log.With().Str("component", "publish").Logger())
		if err != nil {
			log.Warn().Err(err).Msg("redis publisher disabled")
		} else {
			events, unsubscribe := hub.Subscribe(0)
			defer unsubscribe()
			defer pub.Close()
			go pub.Run(ctx, events)
		}
	}

	// Step 9: API server
	var authMiddleware *auth.Middleware
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier(cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to initialize token verifier: %w", err)
		}
		authMiddleware = auth.NewMiddleware(verifier)
	}

	serverErr := make(chan error, 1)
	var server *api.Server
	if cfg.HTTP.Enabled {
		server = api.NewServer(cfg.HTTP, controller, hub, authMiddleware, log.With().Str("component", "api").Logger())
		if cfg.Metrics.Enabled {
			server.SetMetrics(cfg.Metrics.Path, m.Handler())
		}
		go func() {
			if err := server.Start(cfg.HTTP.Addr); err != nil {
				serverErr <- err
			}
		}()
		log.Info().Str("health", "http://localhost"+cfg.HTTP.Addr+auth.HealthPath).Msg("api server started")
	}

	// Step 10: Optional connect at start
	if cfg.Transport.AutoConnect {
		go func() {
			if err := controller.Connect(ctx, cfg.Transport.Address); err != nil {
				log.Error().Err(err).Str("address", cfg.Transport.Address).Msg("auto-connect failed")
			}
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
	case err := <-serverErr:
		log.Error().Err(err).Msg("server error")
	}
	cancel()

	if server != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer stopCancel()
		if err := server.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("error stopping http server")
		}
	}
	log.Info().Msg("generator controller shutdown complete")
	return nil
}

// newSession builds the transport selected by cfg.Kind.
func newSession(cfg config.TransportConfig, log zerolog.Logger) (transport.Session, error) {
	switch cfg.Kind {
	case "ble":
		return ble.New(log, ble.Options{ScanTimeout: cfg.ScanTimeout}), nil
	case "serial":
		return serial.New(log, serial.Options{BaudRate: cfg.BaudRate}), nil
	case "tcp":
		return tcp.New(log, cfg.DialTimeout), nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
}
