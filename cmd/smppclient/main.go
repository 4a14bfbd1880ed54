// Command smppclient binds to an SMSC as an ESME, submits one message and
// optionally waits for its delivery receipt.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oarkflow/smpp-engine/internal/config"
	"github.com/oarkflow/smpp-engine/internal/errorrecovery"
	"github.com/oarkflow/smpp-engine/internal/logger"
	"github.com/oarkflow/smpp-engine/pkg/events"
	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

func main() {
	configPath := flag.String("config", "configs/client.yaml", "path to a JSON or YAML config file")
	source := flag.String("from", "12345", "source address")
	dest := flag.String("to", "447900000000", "destination address")
	text := flag.String("text", "Hello from smppclient", "message text")
	receipt := flag.Bool("receipt", true, "request a delivery receipt and wait for it")
	wait := flag.Duration("wait", 30*time.Second, "how long to wait for the receipt")
	flag.Parse()

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewEventBus(appLogger)
	_ = eventBus.Subscribe(ctx, events.AllEvents, events.NewLoggingEventHandler("log", appLogger))

	client, res := errorrecovery.DialClient(ctx, cfg.Client, smpp.ClientDependencies{
		EventPublisher: eventBus,
		Logger:         appLogger,
		Session:        cfg.Session,
	}, errorrecovery.FromClientConfig(cfg.Client))
	if res.Error != nil {
		appLogger.Fatal("Failed to bind", "attempts", res.Attempts, "error", res.Error)
	}
	defer client.Close()

	var registered uint8
	if *receipt {
		registered = smpp.RegisteredDeliverySuccessFailure
	}

	submitCtx, cancel := context.WithTimeout(ctx, cfg.Session.ResponseTimeout)
	messageID, err := client.SendText(submitCtx, *source, *dest, *text, registered)
	cancel()
	if err != nil {
		appLogger.Error("Submit failed", "error", err)
		unbind(client, appLogger)
		os.Exit(1)
	}
	appLogger.Info("Message submitted", "message_id", messageID, "dest", *dest)

	if *receipt {
		waitForReceipt(ctx, client, messageID, *wait, appLogger)
	}
	unbind(client, appLogger)
}

func waitForReceipt(ctx context.Context, client *smpp.Client, messageID string, wait time.Duration, appLogger smpp.Logger) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case dsm := <-client.Deliveries():
			r, err := smpp.ParseDeliveryReceipt(dsm)
			if err != nil {
				appLogger.Info("Mobile originated message", "source", dsm.Source.Addr, "length", len(dsm.ShortMessage))
				continue
			}
			appLogger.Info("Delivery receipt", "message_id", r.MessageID, "stat", r.Stat, "err", r.Err)
			if r.MessageID == messageID {
				return
			}
		case <-client.Done():
			appLogger.Warn("Connection closed while waiting for receipt")
			return
		case <-timer.C:
			appLogger.Warn("No delivery receipt received", "message_id", messageID, "waited", wait)
			return
		case <-ctx.Done():
			return
		}
	}
}

func unbind(client *smpp.Client, appLogger smpp.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Unbind(ctx); err != nil {
		appLogger.Warn("Unbind failed", "error", err)
	}
}
