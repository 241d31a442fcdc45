package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rivo/tview"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/ftp-test/internal/alert"
	"github.com/lowaak/smart-trainer/ftp-test/internal/api"
	"github.com/lowaak/smart-trainer/ftp-test/internal/bt"
	"github.com/lowaak/smart-trainer/ftp-test/internal/config"
	"github.com/lowaak/smart-trainer/ftp-test/internal/dashboard"
	"github.com/lowaak/smart-trainer/ftp-test/internal/engine"
	"github.com/lowaak/smart-trainer/ftp-test/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ftp-test/internal/store"
	"github.com/lowaak/smart-trainer/ftp-test/internal/telemetry"
)

const (
	mqttConnectTimeout = 10 * time.Second
	shutdownTimeout    = 5 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ftp-test: %v\n", err)
		os.Exit(2)
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Printf("Main: %v", err)
		fmt.Fprintf(os.Stderr, "ftp-test: %v\n", err)
		closeLog()
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (*log.Logger, func()) {
	rotator := &lumberjack.Logger{
		Filename:   cfg.Log.Path,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	}
	var w io.Writer = rotator
	if cfg.Log.Stderr && !cfg.UI.Enabled {
		w = io.MultiWriter(rotator, os.Stderr)
	}
	return log.New(w, "", log.LstdFlags|log.Lmicroseconds), func() { _ = rotator.Close() }
}

func run(cfg config.Config, logger *log.Logger) error {
	logger.Printf("Main: Starting (source=%s, protocol=%s, config=%q)", cfg.Telemetry.Source, cfg.ProtocolType(), cfg.ConfigFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := telemetry.NewHub()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --- Telemetry ---

	var mqttClient mqtt.Client
	if cfg.MQTT.Broker != "" {
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTT.Broker).
			SetClientID(cfg.MQTT.ClientID).
			SetAutoReconnect(true).
			SetConnectRetry(true)
		if cfg.Telemetry.Source == config.SourceMQTT {
			telemetry.NewMQTTSource(hub, cfg.MQTT.TopicPrefix, logger).Configure(opts)
		}
		mqttClient = mqtt.NewClient(opts)
		token := mqttClient.Connect()
		if !token.WaitTimeout(mqttConnectTimeout) {
			logger.Printf("Main: MQTT broker %s not reachable yet, retrying in background", cfg.MQTT.Broker)
		} else if err := token.Error(); err != nil {
			return fmt.Errorf("connecting to MQTT broker %s: %w", cfg.MQTT.Broker, err)
		}
		defer mqttClient.Disconnect(250)
	}

	var bgWG sync.WaitGroup
	defer func() {
		stop()
		bgWG.Wait()
	}()
	switch cfg.Telemetry.Source {
	case config.SourceSim:
		sim := telemetry.NewSimulator(hub, cfg.Simulator(), logger)
		if err := sim.Start(); err != nil {
			return fmt.Errorf("starting simulator: %w", err)
		}
		defer sim.Shutdown()

	case config.SourceBLE:
		manager := bt.NewManager(bluetooth.DefaultAdapter, logger)
		must("enable BLE stack", manager.Enable())
		defer manager.Shutdown()
		source := telemetry.NewBLESource(hub, manager, logger)
		go_func_utils.SafeGoWG(logger, &bgWG, func() { source.Run(ctx) })
	}

	// --- Persistence ---

	fileStore, err := store.NewFileStore(cfg.Store.Path, cfg.Store.History, logger)
	if err != nil {
		return fmt.Errorf("opening result store: %w", err)
	}
	stores := store.MultiStore{fileStore}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := store.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Printf("Main: Error closing Kafka publisher: %v", err)
			}
		}()
		stores = append(stores, publisher)
	}

	// --- Alerts ---

	sinks := alert.FanoutSink{alert.NewLogSink(logger)}
	if mqttClient != nil {
		sinks = append(sinks, alert.NewThrottledSink(alert.NewMQTTSink(mqttClient, cfg.MQTT.TopicPrefix, logger), cfg.MQTT.AlertWindow))
	}
	var alertChan chan alert.Command
	if cfg.UI.Enabled {
		alertChan = make(chan alert.Command, 32)
		sinks = append(sinks, alert.NewChannelSink(alertChan))
	}

	// --- Engine ---

	eng := engine.NewTestEngine(cfg.Engine(), hub, stores, sinks, logger,
		engine.WithMetrics(engine.NewMetrics(registry)),
		engine.WithRideStates(hub),
	)
	defer eng.Shutdown()

	if saved, ok := fileStore.LoadFTP(); ok {
		eng.SetFTP(saved)
	}
	eng.OnProfile(cfg.RiderProfile())
	unsubProfile := hub.SubscribeProfile(eng.OnProfile)
	defer unsubProfile()

	// --- Outer surfaces ---

	if cfg.HTTP.Listen != "" {
		server := api.NewServer(eng, hub, registry, logger)
		server.Start(cfg.HTTP.Listen)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Printf("Main: Error stopping HTTP server: %v", err)
			}
		}()
	}

	if cfg.UI.Enabled {
		view := dashboard.NewView(tview.NewApplication(), eng, alertChan, stop, logger)
		if err := view.Run(ctx); err != nil {
			return fmt.Errorf("running dashboard: %w", err)
		}
		stop()
	} else {
		<-ctx.Done()
	}

	logger.Printf("Main: Shutting down")
	return nil
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}
