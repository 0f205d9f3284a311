// Command flashmasta is the host-side tool for backing up, flashing, and
// verifying Neo Geo Pocket and WonderSwan cartridges through a USB
// programmer.
//
// It runs the device registry's enumeration loop in the background and
// drops into an interactive console for claiming devices and running
// cartridge operations.
//
// Usage:
//
//	flashmasta [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-sim               Use the simulated bus instead of real hardware (default true)
//	-interval string   Enumeration interval, e.g. 250ms
//	-trace string      Write a CBOR event trace to this file
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-version           Print version and exit
//
// Examples:
//
//	# Explore against the simulator
//	flashmasta -sim -log-level debug
//
//	# Capture an event trace while reproducing a hotplug problem
//	flashmasta -trace /tmp/hotplug.flog
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/retroflash/flashmasta-go/cmd/flashmasta/interactive"
	"github.com/retroflash/flashmasta-go/pkg/devices"
	eventlog "github.com/retroflash/flashmasta-go/pkg/log"
	"github.com/retroflash/flashmasta-go/pkg/usb"
	"github.com/retroflash/flashmasta-go/pkg/usb/usbmock"
	"github.com/retroflash/flashmasta-go/pkg/version"
)

// Config holds the tool configuration, assembled from the optional YAML
// file and then overridden by flags.
type Config struct {
	Interval  string `yaml:"interval"`
	TraceFile string `yaml:"trace_file"`
	LogLevel  string `yaml:"log_level"`
	Simulate  bool   `yaml:"simulate"`
}

func defaultConfig() Config {
	return Config{
		Interval: "250ms",
		LogLevel: "info",
		Simulate: true,
	}
}

func main() {
	cfg := defaultConfig()

	configPath := flag.String("config", "", "Configuration file path (YAML)")
	sim := flag.Bool("sim", cfg.Simulate, "Use the simulated bus instead of real hardware")
	interval := flag.String("interval", "", "Enumeration interval, e.g. 250ms")
	trace := flag.String("trace", "", "Write a CBOR event trace to this file")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("flashmasta", version.String())
		return
	}

	if *configPath != "" {
		if err := loadConfigFile(*configPath, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
	}
	// Flags override the file.
	if *interval != "" {
		cfg.Interval = *interval
	}
	if *trace != "" {
		cfg.TraceFile = *trace
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	cfg.Simulate = *sim

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	period, err := time.ParseDuration(cfg.Interval)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid interval:", err)
		os.Exit(1)
	}

	var events eventlog.Logger = eventlog.NoopLogger{}
	if cfg.TraceFile != "" {
		fl, err := eventlog.NewFileLogger(cfg.TraceFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "trace file:", err)
			os.Exit(1)
		}
		defer fl.Close()
		events = fl
	}

	bus, err := openBus(cfg.Simulate)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	regCfg := devices.DefaultConfig()
	regCfg.Interval = period
	regCfg.Logger = logger
	regCfg.Events = events
	registry := devices.NewRegistry(bus, regCfg)
	defer registry.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go registry.Run(ctx)

	// Ctrl+C inside readline cancels the current line; SIGTERM tears the
	// whole tool down.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	console, err := interactive.New(registry, events)
	if err != nil {
		fmt.Fprintln(os.Stderr, "console:", err)
		os.Exit(1)
	}
	console.Run(ctx, cancel)
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// openBus returns the USB bus to enumerate. The real libusb-backed bus is
// provided by hardware-enabled builds; this build ships the simulator,
// pre-populated with one programmer of each supported model.
func openBus(simulate bool) (usb.Bus, error) {
	if !simulate {
		return nil, fmt.Errorf("this build has no hardware USB backend; run with -sim")
	}
	bus := usbmock.NewBus()
	bus.Attach(usbmock.NewDevice("SIM-NGP-01", usb.VendorFlashmasta, usb.ProductNGPLinkmasta, nil))
	bus.Attach(usbmock.NewDevice("SIM-WS-01", usb.VendorFlashmasta, usb.ProductWSFlashmasta, nil))
	return bus, nil
}
