// Command dslink-requester-example is a minimal requester link: it
// subscribes to a path given on the command line and logs every
// update it receives. It exists to exercise the dslink package's
// requester role end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/efmgo/dslink"
	"github.com/efmgo/dslink/buildinfo"
	"github.com/efmgo/dslink/config"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/subscription"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	path := flag.String("path", "/counter", "path to subscribe to")
	flag.Parse()

	logger := newLogger()

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		return
	}

	if err := run(logger, *configPath, *path); err != nil {
		logger.Error("requester exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func run(logger *slog.Logger, configPath, subscribePath string) error {
	cfgPath, err := config.FindConfig(configPath, "requester-example")
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
	}

	var cfg *config.Config
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.Default("requester-example")
	}

	link, err := dslink.New(dslink.Options{Config: cfg, Role: dslink.RoleRequester, Logger: logger})
	if err != nil {
		return fmt.Errorf("construct link: %w", err)
	}

	target, err := nodepath.Parse(subscribePath)
	if err != nil {
		return fmt.Errorf("invalid --path %q: %w", subscribePath, err)
	}

	link.OnConnected(func() {
		logger.Info("connected to broker", "broker", cfg.Broker)
		subscribeTo(link, logger, target)
	})
	link.OnDisconnected(func(err error) { logger.Warn("disconnected from broker", "error", err) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("starting requester", "version", buildinfo.Version, "name", cfg.Name, "broker", cfg.Broker, "path", subscribePath)
	return link.Run(ctx)
}

func subscribeTo(link *dslink.Link, logger *slog.Logger, path nodepath.Path) {
	_, err := link.Requester().Subscribe(path, subscription.QoSNone,
		func(p nodepath.Path, update subscription.Update, err error) {
			if err != nil {
				logger.Warn("subscription update error", "path", p.String(), "error", err)
				return
			}
			logger.Info("update received", "path", p.String(), "value", update.Value, "ts", update.Timestamp)
		},
		func(err error) {
			if err != nil {
				logger.Warn("subscribe failed", "path", path.String(), "error", err)
				return
			}
			logger.Info("subscribed", "path", path.String())
		},
	)
	if err != nil {
		logger.Error("subscribe dispatch failed", "path", path.String(), "error", err)
	}
}
