// Command gamifyd runs the gamification engine as a standalone HTTP
// service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/gamify"
	"github.com/GoCodeAlone/gamify/modules/badges"
	"github.com/GoCodeAlone/gamify/modules/points"
	"github.com/GoCodeAlone/gamify/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gamifyd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("GAMIFY_CONFIG"), "path to a YAML or TOML config file")
	flag.Parse()

	cfg, err := gamify.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := gamify.NewSlogLogger(buildSlog(cfg.Logger))

	engine := gamify.New(cfg, logger)

	pointsCfg, err := moduleConfig[points.Config](cfg, points.ModuleName)
	if err != nil {
		return err
	}
	if err := engine.RegisterModule(points.New(pointsCfg)); err != nil {
		return err
	}
	badgesCfg, err := moduleConfig[badges.Config](cfg, badges.ModuleName)
	if err != nil {
		return err
	}
	if err := engine.RegisterModule(badges.New(badgesCfg)); err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		engine.AttachRunner(server.New(engine))
	}

	ctx := context.Background()
	if err := engine.Init(ctx); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", "signal", sig.String())

	return engine.Shutdown(ctx)
}

// moduleConfig decodes a module's raw config subtree into its typed form
// via a YAML round-trip.
func moduleConfig[T any](cfg gamify.Config, name string) (T, error) {
	var out T
	raw, ok := cfg.Modules[name]
	if !ok {
		return out, nil
	}
	encoded, err := yaml.Marshal(raw)
	if err != nil {
		return out, fmt.Errorf("module %q config: %w", name, err)
	}
	if err := yaml.Unmarshal(encoded, &out); err != nil {
		return out, fmt.Errorf("module %q config: %w", name, err)
	}
	return out, nil
}

func buildSlog(cfg gamify.LoggerConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
