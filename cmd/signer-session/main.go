// Command signer-session runs signer sessions against simulated hardware
// signers.
//
// Each simulated device is registered with a session registry which opens a
// session, derives addresses and keeps the session status in sync with the
// device. Session events are logged until the process is interrupted, or the
// devices can be driven from an interactive console.
//
// Usage:
//
//	signer-session [flags]
//
// Flags:
//
//	-config string       Configuration file path (.yaml, .yml or .toml)
//	-devices int         Number of simulated devices (default 1)
//	-derivation string   Derivation: live, legacy, standard (default "live")
//	-accounts int        Number of addresses to derive (default 5)
//	-event-log string    Write session events to this CBOR log file
//	-metrics string      Serve Prometheus metrics on this address
//	-log-level string    Log level: debug, info, warn, error (default "info")
//	-interactive         Enable interactive command mode
//
// Examples:
//
//	# Two devices with standard derivation and an event log
//	signer-session -devices 2 -derivation standard -event-log session.slog
//
//	# Interactive console with metrics
//	signer-session -interactive -metrics :9102
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TripleSpeeder/frame/cmd/signer-session/interactive"
	"github.com/TripleSpeeder/frame/pkg/log"
	"github.com/TripleSpeeder/frame/pkg/metrics"
	"github.com/TripleSpeeder/frame/pkg/registry"
	"github.com/TripleSpeeder/frame/pkg/session"
	"github.com/TripleSpeeder/frame/pkg/simdevice"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	var console *interactive.Console
	var logOut io.Writer = os.Stderr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Interactive {
		console, err = interactive.New(nil, provider)
		if err != nil {
			return err
		}
		// Keep log output off the prompt line.
		logOut = console.Stdout()
	}
	logger := setupLogging(logOut, cfg.LogLevel, cfg.LogFormat)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(promReg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	eventLog, closeEventLog, err := newEventLogger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeEventLog()

	rcfg := registry.DefaultConfig()
	rcfg.Session = cfg.sessionConfig()
	rcfg.Session.Provider = provider
	rcfg.Session.AppFactory = simdevice.NewApp
	rcfg.Session.Logger = logger
	rcfg.Session.EventLogger = eventLog
	rcfg.Session.Metrics = m
	rcfg.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	rcfg.Backoff = cfg.Backoff
	rcfg.Logger = logger
	rcfg.Listener = registry.ListenerFunc(func(ev session.Event) {
		logger.Info("session event",
			"type", ev.Type.String(),
			"device", ev.DevicePath,
			"status", ev.Status.String(),
			"addresses", len(ev.Addresses))
	})

	reg, err := registry.New(rcfg)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer reg.Close()

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		srv = serveMetrics(cfg.MetricsAddr, promReg, logger)
	}

	logger.Info("signer session starting",
		"devices", cfg.Devices,
		"derivation", cfg.Derivation,
		"accounts", cfg.AccountLimit,
		"app_version", cfg.AppVersion)

	for _, path := range provider.Paths() {
		if err := reg.DeviceAdded(ctx, path); err != nil {
			logger.Warn("device connect failed", "device", path, "error", err)
		}
	}

	if console != nil {
		console.SetRegistry(reg)
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
	return reg.Close()
}

// newProvider registers cfg.Devices simulated devices at sim://0, sim://1...
func newProvider(cfg Config) (*simdevice.Provider, error) {
	provider := simdevice.NewProvider()
	for i := 0; i < cfg.Devices; i++ {
		dev, err := simdevice.New(cfg.Mnemonic, "",
			simdevice.WithVersion(cfg.AppVersion),
			simdevice.WithLatency(cfg.Latency))
		if err != nil {
			return nil, fmt.Errorf("simulated device %d: %w", i, err)
		}
		provider.Add(fmt.Sprintf("sim://%d", i), dev)
	}
	return provider, nil
}

// newEventLogger combines the optional CBOR event file with a slog mirror at
// debug level.
func newEventLogger(cfg Config, logger *slog.Logger) (log.Logger, func(), error) {
	var file *log.FileLogger
	if cfg.EventLog != "" {
		var err error
		file, err = log.NewFileLogger(cfg.EventLog)
		if err != nil {
			return nil, nil, fmt.Errorf("event log: %w", err)
		}
		logger.Info("writing session events", "path", cfg.EventLog)
	}

	var mirror log.Logger
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		mirror = log.NewSlogAdapter(logger)
	}

	closeFn := func() {}
	var loggers []log.Logger
	if file != nil {
		loggers = append(loggers, file)
		closeFn = func() { _ = file.Close() }
	}
	if mirror != nil {
		loggers = append(loggers, mirror)
	}
	if len(loggers) == 0 {
		return nil, closeFn, nil
	}
	return log.NewMultiLogger(loggers...), closeFn, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
