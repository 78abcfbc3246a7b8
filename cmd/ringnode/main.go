package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/devrev/pairdb/ringnode/internal/config"
	"github.com/devrev/pairdb/ringnode/internal/health"
	"github.com/devrev/pairdb/ringnode/internal/metrics"
	"github.com/devrev/pairdb/ringnode/internal/server"
	"github.com/devrev/pairdb/ringnode/internal/service"
	"github.com/devrev/pairdb/ringnode/internal/transport"
	"github.com/devrev/pairdb/ringnode/internal/validation"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const stopTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	bindIP := flag.String("bind-ip", "", "IP address to bind and identify this node by")
	bindPort := flag.Int("bind-port", 0, "UDP port to bind")
	remoteIP := flag.String("remote-ip", "", "IP address of a ring member to join through")
	remotePort := flag.Int("remote-port", 0, "UDP port of the ring member to join through")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// flags given on the command line win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bind-ip":
			cfg.Node.BindIP = *bindIP
		case "bind-port":
			cfg.Node.BindPort = *bindPort
		case "remote-ip":
			cfg.Node.RemoteIP = *remoteIP
		case "remote-port":
			cfg.Node.RemotePort = *remotePort
		}
	})

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
			return 1
		}
		os.Stdout.Write(out)
		return 0
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	instanceID := uuid.New().String()
	logger = logger.With(zap.String("instance_id", instanceID))

	if err := validation.NewValidator().ValidateConfig(cfg); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return 2
	}

	socket, err := transport.Bind(cfg.Node.BindAddress())
	if err != nil {
		logger.Error("Failed to bind ring socket", zap.Error(err))
		return 1
	}
	self := socket.LocalAddress()
	entry := cfg.Node.EntryAddress()

	logger.Info("Configuration loaded",
		zap.String("address", self.String()),
		zap.Bool("join", entry != nil),
		zap.Int("inbox_size", cfg.Node.InboxSize),
		zap.Duration("poll_interval", cfg.Node.PollInterval))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(self.String(), reg)

	node := service.NewRingNode(&service.RingNodeConfig{Address: self}, socket, m, logger.Named("ring"))
	rt := service.NewRuntime(&service.RuntimeConfig{
		Entry:     entry,
		InboxSize: cfg.Node.InboxSize,
		Listener: service.ListenerConfig{
			BufferSize:   cfg.Node.BufferSize,
			PollInterval: cfg.Node.PollInterval,
		},
	}, socket, node, m, logger)

	shutdown := service.NewShutdownCoordinator(context.Background(), logger)
	stopSignals := shutdown.NotifyOnSignals(os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	healthChecker := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:         self.String(),
		JoinConfigured: entry != nil,
	}, rt, logger.Named("health"))
	go healthChecker.Start(shutdown.Context())

	if cfg.Metrics.Enabled {
		metricsServer := server.NewMetricsServer(&server.MetricsServerConfig{
			Port:              cfg.Metrics.Port,
			Path:              cfg.Metrics.Path,
			RateLimitEnabled:  cfg.Metrics.RateLimit.Enabled,
			RequestsPerSecond: cfg.Metrics.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.Metrics.RateLimit.BurstSize,
		}, reg, node, healthChecker, logger.Named("metrics"))
		if err := metricsServer.Start(); err != nil {
			logger.Error("Failed to start metrics server", zap.Error(err))
			_ = socket.Close()
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := metricsServer.Stop(ctx); err != nil {
				logger.Warn("Metrics server stop failed", zap.Error(err))
			}
		}()
	}

	var adminServer *server.AdminServer
	if cfg.Admin.Enabled {
		adminServer = server.NewAdminServer(&server.AdminServerConfig{Port: cfg.Admin.Port}, node, logger.Named("admin"))
		if err := adminServer.Start(); err != nil {
			logger.Error("Failed to start admin server", zap.Error(err))
			_ = socket.Close()
			return 1
		}
		defer adminServer.Stop(stopTimeout)
	}

	if cfg.Gossip.Enabled {
		gossip := service.NewGossipService(&service.GossipConfig{
			Enabled:        true,
			BindAddr:       cfg.Node.BindIP,
			BindPort:       cfg.Gossip.BindPort,
			SeedNodes:      cfg.Gossip.SeedNodes,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}, self.String(), node.Self(), node, m, logger.Named("gossip"))
		if err := gossip.Start(); err != nil {
			// gossip only observes the ring, so the node runs without it
			logger.Warn("Gossip disabled", zap.Error(err))
		} else {
			defer func() {
				if err := gossip.Shutdown(); err != nil {
					logger.Warn("Gossip shutdown failed", zap.Error(err))
				}
			}()
		}
	}

	if adminServer != nil {
		adminServer.SetServing(true)
	}

	logger.Info("Ring node running",
		zap.String("address", self.String()),
		zap.Stringer("hash", node.Self().Hash))

	err = rt.Run(shutdown.Context())

	healthChecker.SetDraining()
	if adminServer != nil {
		adminServer.SetServing(false)
	}
	shutdown.Trigger("runtime stopped")

	if err != nil {
		logger.Error("Ring node stopped with error", zap.Error(err))
		return 1
	}

	logger.Info("Ring node stopped", zap.String("reason", shutdown.Reason()))
	return 0
}

// initLogger builds the process logger. LOG_LEVEL and LOG_FORMAT override
// the configuration.
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	logLevel := cfg.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		logLevel = env
	}
	logFormat := cfg.Format
	if env := os.Getenv("LOG_FORMAT"); env != "" {
		logFormat = env
	}

	var level zapcore.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if logFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
