package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	natsgo "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"table-monitor/internal/binlog"
	"table-monitor/internal/diff"
	"table-monitor/internal/monitor"
	"table-monitor/internal/nats"
	"table-monitor/internal/processor"
	"table-monitor/internal/snapshot"
	"table-monitor/internal/source"
	"table-monitor/internal/status"
)

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	// Load configuration
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Set log level from config
	if level, err := logrus.ParseLevel(config.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting table monitor for %s source...", config.Source.Type)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize source and verify it before the first poll
	src, err := source.New(ctx, config.SourceConfig(), logger)
	if err != nil {
		logger.Fatalf("Failed to create source: %v", err)
	}
	defer src.Close()

	checker := NewSourceChecker(src, config.Monitor.Tables, config.Binlog.Enabled, logger)
	if err := checker.Check(ctx); err != nil {
		logger.Fatalf("Source check failed: %v", err)
	}

	sinks := []monitor.Sink{monitor.NewLogSink(logger)}

	// Initialize NATS publisher when configured
	var natsConn *natsgo.Conn
	if config.NATS.URL != "" {
		publisher, err := nats.NewPublisher(
			config.NATS.URL,
			config.NATS.Subject,
			config.NATS.MaxReconnect,
			config.NATS.ReconnectWait,
			logger,
		)
		if err != nil {
			logger.Fatalf("Failed to create NATS publisher: %v", err)
		}
		defer publisher.Close()
		natsConn = publisher.GetConn()
		sinks = append(sinks, publisher)
	}

	// Initialize transformer if enabled
	transformer, err := processor.NewTransformer(&config.Processor, logger, natsConn)
	if err != nil {
		logger.Fatalf("Failed to create transformer: %v", err)
	}

	store := snapshot.NewStore()
	engine := diff.NewEngine(store, clock.WallClock, logger)

	mon, err := monitor.New(monitor.Config{
		Tables:        config.Monitor.Tables,
		Interval:      config.Monitor.Interval,
		TableInterval: config.Monitor.TableInterval,
		MaxInterval:   config.Monitor.MaxInterval,
		LegacyEvents:  config.Monitor.LegacyEvents,
	}, src, engine, transformer, sinks, clock.WallClock, logger)
	if err != nil {
		logger.Fatalf("Failed to create monitor: %v", err)
	}

	errChan := make(chan error, 3)

	// Row events on a monitored table trigger an early poll of that table
	if config.Binlog.Enabled {
		watcher := binlog.NewWatcher(binlog.Config{
			Host:     config.Binlog.Host,
			Port:     config.Binlog.Port,
			User:     config.Binlog.User,
			Password: config.Binlog.Password,
			ServerID: config.Binlog.ServerID,
			Flavor:   config.Binlog.Flavor,
		}, config.Monitor.Tables, mon.Trigger, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				// Scheduled polling carries on without wake-ups
				logger.Errorf("Binlog watcher stopped: %v", err)
			}
		}()
	}

	if config.Status.Listen != "" {
		server := status.NewServer(mon, logger)
		go func() {
			if err := server.Listen(config.Status.Listen); err != nil {
				errChan <- err
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("Status server shutdown: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start polling in goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
	}()

	// Wait for signal or error
	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v, shutting down...", sig)
	case err := <-errChan:
		logger.Errorf("Table monitor error: %v", err)
	}
	cancel()
	<-done

	for _, st := range store.Stats() {
		logger.WithField("table", st.Table).Infof("Snapshot holds %d records (seeded: %v)", st.Records, st.Seeded)
	}
	logger.Info("Table monitor stopped")
}
