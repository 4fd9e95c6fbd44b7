package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/nodelink/internal/config"
)

const usageText = `usage: nodelink [-config path] <command> [flags]

commands:
  scan          list nearby nodes
  info          show device configuration and sensor readings
  set           update device configuration
  wifi          scan for Wi-Fi networks seen by the node
  watch         stream sensor telemetry until interrupted
  power         restart or sleep the node
  init-config   write the default config file
`

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/nodelink/config.yaml)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usageText) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	err := run(*configPath, flag.Arg(0), flag.Args()[1:])
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "nodelink: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, command string, args []string) error {
	if command == "init-config" {
		path, err := config.WriteDefault()
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return nil
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg)
	defer a.close()

	switch command {
	case "scan":
		return a.scan(ctx, args)
	case "info":
		return a.info(ctx, args)
	case "set":
		return a.set(ctx, args)
	case "wifi":
		return a.wifiScan(ctx, args)
	case "watch":
		return a.watch(ctx, args)
	case "power":
		return a.power(ctx, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}
