// Command dslink-responder-example is a minimal responder link: it
// publishes a counter node that increments once a second and a
// reset action that zeroes it back out. It exists to exercise the
// dslink package end to end, the way cmd/thane/main.go exercises the
// agent packages end to end.
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

	"github.com/mattn/go-isatty"

	"github.com/efmgo/dslink"
	"github.com/efmgo/dslink/buildinfo"
	"github.com/efmgo/dslink/config"
	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := newLogger()

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.Info() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
		return
	}

	if err := run(logger, *configPath); err != nil {
		logger.Error("responder exited with error", "error", err)
		os.Exit(1)
	}
}

// newLogger renders structured log records as plain text on stdout at
// info level. The output is the same whether or not stdout is a
// terminal.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func run(logger *slog.Logger, configPath string) error {
	cfgPath, err := config.FindConfig(configPath, "responder-example")
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
		cfg = config.Default("responder-example")
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log-level: %w", err)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}

	link, err := dslink.New(dslink.Options{Config: cfg, Role: dslink.RoleResponder, Logger: logger})
	if err != nil {
		return fmt.Errorf("construct link: %w", err)
	}

	if err := buildTree(link, logger); err != nil {
		return fmt.Errorf("build node tree: %w", err)
	}

	link.OnConnected(func() { logger.Info("connected to broker", "broker", cfg.Broker) })
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

	go runCounter(ctx, link)

	logger.Info("starting responder", "version", buildinfo.Version, "name", cfg.Name, "broker", cfg.Broker)
	return link.Run(ctx)
}

// buildTree publishes /counter (a persistent integer value) and
// /counter/reset (an action that zeroes it).
func buildTree(link *dslink.Link, logger *slog.Logger) error {
	tree := link.Tree()

	result := node.NewBuilder(tree, nodepath.Root()).
		MakeNode("counter").
		DisplayName("Counter").
		Type(node.TypeNumber).
		Serializable(node.SerializeEverything).
		Value(value.NewInt(0)).
		Build()
	if result.Err != nil {
		return result.Err
	}

	counterPath := nodepath.MustParse("/counter")

	resetAction := node.Action{
		Permission:  node.PermissionWrite,
		ResultShape: node.ResultValues,
		Invoke: func(stream node.ResultStream, parentPath nodepath.Path, params map[string]value.Value, err error) {
			if err != nil {
				stream.SetError(err.Error())
				return
			}
			if setErr := tree.SetValue(counterPath, value.NewInt(0), time.Now()); setErr != nil {
				stream.SetError(setErr.Error())
				return
			}
			logger.Info("counter reset via action")
			stream.SetResult(nil)
		},
	}

	result = node.NewBuilder(tree, counterPath).
		MakeNode("reset").
		DisplayName("Reset").
		ActionDef(resetAction).
		Build()
	return result.Err
}

// runCounter increments /counter once a second until ctx is cancelled.
func runCounter(ctx context.Context, link *dslink.Link) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	tree := link.Tree()
	path := nodepath.MustParse("/counter")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, ok := tree.Get(path)
			if !ok {
				return
			}
			v, _ := n.Value()
			i, _ := v.AsInt()
			tree.SetValue(path, value.NewInt(i+1), time.Now())
		}
	}
}
