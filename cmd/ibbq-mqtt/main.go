package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/chaz8081/ibbq-mqtt/internal/ble"
	"github.com/chaz8081/ibbq-mqtt/internal/ble/protocol"
	"github.com/chaz8081/ibbq-mqtt/internal/config"
	"github.com/chaz8081/ibbq-mqtt/internal/publish"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/ibbq-mqtt/config.yaml)")
	scanOnly := flag.Bool("scan", false, "list nearby BLE devices and exit")
	dryRun := flag.Bool("dry-run", false, "log readings instead of publishing to MQTT")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s, leaving it alone", config.DefaultConfigPath())
			return
		}
		log.Printf("Wrote default config to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	adapter, err := ble.NewAdapter(cfg.Device.Backend, ble.DefaultConnectTimeout)
	if err != nil {
		log.Fatalf("Failed to set up BLE adapter: %v", err)
	}

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *scanOnly {
		if err := listDevices(ctx, adapter, cfg); err != nil {
			log.Fatalf("scan: %v", err)
		}
		return
	}

	printBanner(cfg, *dryRun)

	pub, err := newPublisher(cfg, *dryRun, logger)
	if err != nil {
		log.Fatalf("Failed to connect to MQTT broker: %v\n\nCheck mqtt.broker and mqtt.port in your config, or run with -dry-run.", err)
	}
	defer pub.Close()

	log.Println("Ready! Looking for", cfg.Device.Name, "thermometers. Ctrl+C to quit.")
	runSessions(ctx, adapter, pub, cfg, logger)
	log.Println("Goodbye!")
}

// runSessions keeps a session alive until ctx is cancelled. Any failure,
// handshake or link loss alike, starts over from discovery after a backoff.
func runSessions(ctx context.Context, adapter ble.Adapter, pub ble.Publisher, cfg *config.Config, logger *slog.Logger) {
	opts := ble.SessionOptions{
		DeviceName:      cfg.Device.Name,
		Address:         cfg.Device.Address,
		ScanDuration:    cfg.Device.ScanDuration,
		WriteTimeout:    cfg.Device.WriteTimeout,
		Units:           protocol.Units(cfg.Device.Units),
		BatteryInterval: cfg.Device.BatteryInterval,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		Logger:          logger,
	}

	for attempt := 0; ; attempt++ {
		session := ble.NewSession(adapter, pub, opts)
		err := session.Open(ctx)
		if err == nil {
			attempt = 0
			err = session.Run(ctx)
		}
		if cerr := session.Close(); cerr != nil {
			logger.Warn("[BLE] close failed", "error", cerr)
		}
		if ctx.Err() != nil {
			return
		}

		delay := ble.BackoffDelay(attempt, cfg.Reconnect.MaxBackoff)
		logger.Warn("[BLE] session ended, retrying", "error", err, "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func newPublisher(cfg *config.Config, dryRun bool, logger *slog.Logger) (publish.Publisher, error) {
	if dryRun {
		return publish.NewLogPublisher(logger), nil
	}
	p, err := publish.NewMQTTPublisher(publish.MQTTOptions{
		BrokerURL: cfg.MQTT.BrokerURL(),
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		QoS:       byte(cfg.MQTT.QoS),
		Retain:    cfg.MQTT.Retain,
		KeepAlive: cfg.MQTT.KeepAlive,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	if err := p.Connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// listDevices prints every advertiser heard, strongest first.
func listDevices(ctx context.Context, adapter ble.Adapter, cfg *config.Config) error {
	fmt.Printf("Scanning for %s...\n", cfg.Device.ScanDuration)
	devices, err := ble.ScanForDevices(ctx, adapter, cfg.Device.ScanDuration)
	if err != nil {
		return err
	}
	slices.SortStableFunc(devices, func(a, b ble.Device) int { return b.RSSI - a.RSSI })

	best, found := ble.SelectDevice(devices, cfg.Device.Name)
	for _, d := range devices {
		marker := " "
		if found && d.Address == best.Address {
			marker = "*"
		}
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%s %-20s %4d dBm  %s\n", marker, d.Address, d.RSSI, name)
	}
	if !found {
		fmt.Printf("No %q device found among %d.\n", cfg.Device.Name, len(devices))
	}
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults (run with -init to write one)")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, dryRun bool) {
	device := cfg.Device.Name
	if cfg.Device.Address != "" {
		device = cfg.Device.Address + " (pinned)"
	}
	broker := cfg.MQTT.BrokerURL()
	if dryRun {
		broker = "dry run, logging only"
	}
	units := cfg.Device.Units
	if units == "" {
		units = "device default"
	}

	fmt.Println("=== ibbq-mqtt ===")
	fmt.Printf("  Device:  %s via %s\n", device, cfg.Device.Backend)
	fmt.Printf("  Units:   %s\n", units)
	fmt.Printf("  Broker:  %s\n", broker)
	fmt.Printf("  Topics:  %s/temperature/<probe>, %s/battery\n", cfg.MQTT.TopicPrefix, cfg.MQTT.TopicPrefix)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=================")
}
