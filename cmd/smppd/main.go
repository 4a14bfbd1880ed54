// Command smppd runs an SMPP v3.4 SMSC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oarkflow/smpp-engine/internal/auth"
	"github.com/oarkflow/smpp-engine/internal/config"
	"github.com/oarkflow/smpp-engine/internal/logger"
	"github.com/oarkflow/smpp-engine/internal/metrics"
	"github.com/oarkflow/smpp-engine/internal/storage"
	"github.com/oarkflow/smpp-engine/pkg/events"
	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to a JSON or YAML config file")
	writeDefault := flag.Bool("write-config", false, "write the default configuration to -config and exit")
	receiptDelay := flag.Duration("receipt-delay", 2*time.Second, "delay before a requested delivery receipt is sent")
	flag.Parse()

	if *writeDefault {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.NewConfigManager(*configPath).LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger, err := logger.FromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if z, ok := appLogger.(*logger.ZapLogger); ok {
		defer z.Sync()
	}

	if err := run(cfg, appLogger, *receiptDelay); err != nil {
		appLogger.Fatal("SMSC stopped with error", "error", err)
	}
}

func run(cfg *smpp.Config, appLogger smpp.Logger, receiptDelay time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var collector smpp.MetricsCollector = metrics.NewNoOpMetricsCollector()
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheusMetricsCollector(cfg.Metrics.Namespace)
		prom.StartServer(cfg.Metrics.Port, cfg.Metrics.Path, func(err error) {
			appLogger.Error("Metrics server failed", "error", err)
		})
		defer prom.Stop()
		collector = prom
		appLogger.Info("Metrics enabled", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	}

	eventBus := events.NewAsyncEventBus(appLogger, 1000)
	defer eventBus.Close()
	subscribe(ctx, eventBus, appLogger, collector)

	store, err := storage.New(cfg.Storage, appLogger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	if retention, err := time.ParseDuration(cfg.Storage.Retention); err == nil {
		go storage.RunPruner(ctx, store, retention, time.Minute)
	}
	appLogger.Info("Storage initialized", "type", cfg.Storage.Type, "messages", store.Count())

	users, err := auth.FromConfig(cfg.Auth, appLogger)
	if err != nil {
		return fmt.Errorf("create authenticator: %w", err)
	}

	handler := smpp.NewDefaultMessageHandler(smpp.MessageHandlerDependencies{
		Store:          store,
		EventPublisher: eventBus,
		Logger:         appLogger,
		Metrics:        collector,
		ReceiptDelay:   receiptDelay,
	})
	defer handler.Close()

	server := smpp.NewServer(cfg.Server, cfg.Session, smpp.ServerDependencies{
		Authenticator:  users,
		MessageHandler: handler,
		EventPublisher: eventBus,
		Logger:         appLogger,
		Metrics:        collector,
	})
	handler.SetReceiptSender(server)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	appLogger.Info("SMSC started",
		"address", server.Addr().String(),
		"system_id", cfg.Server.SystemID,
		"max_connections", cfg.Server.MaxConnections,
		"tls", cfg.Server.TLSEnabled)

	<-ctx.Done()
	appLogger.Info("Received shutdown signal, stopping SMSC")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	appLogger.Info("SMSC stopped gracefully")
	return nil
}

func subscribe(ctx context.Context, bus smpp.EventPublisher, appLogger smpp.Logger, collector smpp.MetricsCollector) {
	for _, h := range []smpp.EventHandler{
		events.NewLoggingEventHandler("log", appLogger),
		events.NewMetricsEventHandler("metrics", collector),
	} {
		if err := bus.Subscribe(ctx, events.AllEvents, h); err != nil {
			appLogger.Error("Failed to subscribe event handler", "handler_id", h.GetHandlerID(), "error", err)
		}
	}
}
