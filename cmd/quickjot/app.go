package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quickjot/quickjot/classifier"
	"github.com/quickjot/quickjot/config"
	"github.com/quickjot/quickjot/conversation"
	"github.com/quickjot/quickjot/internal/metrics"
	"github.com/quickjot/quickjot/internal/server"
	"github.com/quickjot/quickjot/internal/telemetry"
	"github.com/quickjot/quickjot/llm"
	"github.com/quickjot/quickjot/plugin"
	"github.com/quickjot/quickjot/plugins/finance"
	"github.com/quickjot/quickjot/plugins/work"
	"github.com/quickjot/quickjot/router"
	"github.com/quickjot/quickjot/storage"
	"github.com/quickjot/quickjot/types"
)

// app is the assembled runtime: everything between the config file and the
// channel adapters.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	manager   *plugin.Manager
	router    *router.Router
	collector *metrics.Collector
	gatherer  prometheus.Gatherer
}

// buildApp wires storage, the model client, plugins, the classifier and the
// router from configuration. clsWrap, when non-nil, decorates the classifier
// before the router sees it.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, clsWrap func(classifier.Classifier) classifier.Classifier) (*app, error) {
	db, err := storage.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var store conversation.Store = conversation.NewGormStore(db, cfg.Conversation.MaxTurns, logger)
	if cfg.Redis.Addr != "" {
		client, err := conversation.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, context caching disabled", zap.Error(err))
		} else {
			store = conversation.NewCachedStore(store, client, cfg.Redis.ContextTTL, logger)
		}
	}

	llmClient := llm.NewOpenAIClient(cfg.LLM, logger)

	manager := plugin.NewManager(plugin.Dependencies{
		DB:     db,
		LLM:    llmClient,
		Logger: logger,
	}, logger)
	factories := map[string]plugin.Factory{
		"finance": func() plugin.Plugin { return finance.New() },
		"work":    func() plugin.Plugin { return work.New() },
	}
	for name, factory := range factories {
		if err := manager.RegisterFactory(name, factory); err != nil {
			return nil, fmt.Errorf("register plugin %s: %w", name, err)
		}
	}
	if err := manager.LoadAll(ctx); err != nil {
		// Partial plugin availability is survivable; routing to a failed
		// plugin reports a per-request error.
		logger.Warn("some plugins failed to load", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("quickjot", registry)

	var cls classifier.Classifier = classifier.NewLLMClassifier(llmClient, logger)
	if clsWrap != nil {
		cls = clsWrap(cls)
	}
	rt := router.New(manager, store, cls, cfg.Router, collector, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		manager:   manager,
		router:    rt,
		collector: collector,
		gatherer:  registry,
	}, nil
}

func (a *app) shutdown(ctx context.Context) {
	if err := a.manager.ShutdownAll(ctx); err != nil {
		a.logger.Warn("plugin shutdown reported errors", zap.Error(err))
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting quickjot",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}

	srv := server.New(ctx, server.Options{
		Router:    a.router,
		Manager:   a.manager,
		Server:    cfg.Server,
		Auth:      cfg.Auth,
		Collector: a.collector,
		Gatherer:  a.gatherer,
		Logger:    logger,
	})
	if err := srv.Run(ctx); err != nil {
		logger.Error("gateway failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.shutdown(shutdownCtx)
	if providers != nil {
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	logger.Info("quickjot stopped")
}

// runChat routes terminal input. With positional arguments it routes them
// as one message and exits; without, it runs an interactive loop.
func runChat(args []string) {
	runTerminal("chat", args, nil)
}

// runQuery is chat with the decision action pinned to "query": the
// classifier still picks the domain plugin, but the request can only read.
func runQuery(args []string) {
	runTerminal("query", args, func(c classifier.Classifier) classifier.Classifier {
		return classifier.ForceAction(c, "query")
	})
}

func runTerminal(name string, args []string, clsWrap func(classifier.Classifier) classifier.Classifier) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	user := fs.String("user", "local", "User identity for the session")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, clsWrap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.shutdown(shutdownCtx)
	}()

	route := func(text string) bool {
		resp := a.router.Route(ctx, &types.AccessRequest{
			UserID:    *user,
			InputText: text,
			Channel:   types.ChannelCLI,
		})
		if resp.Success {
			fmt.Println(resp.Message)
		} else {
			fmt.Printf("error: %s\n", resp.Error)
		}
		return resp.Success
	}

	// One-shot mode: route the arguments and exit.
	if fs.NArg() > 0 {
		if !route(strings.Join(fs.Args(), " ")) {
			os.Exit(1)
		}
		return
	}

	fmt.Printf("quickjot %s (user %s). Ctrl-D to quit.\n", name, *user)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		route(line)
		if ctx.Err() != nil {
			return
		}
	}
}

func runPlugins(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: quickjot plugins <list|reload> [options]")
		os.Exit(1)
	}
	sub := args[0]

	fs := flag.NewFlagSet("plugins "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args[1:])

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.shutdown(shutdownCtx)
	}()

	switch sub {
	case "list":
		for _, d := range a.manager.List() {
			fmt.Printf("%-10s %-8s %s\n", d.Name, d.Version, d.Description)
		}
	case "reload":
		rest := fs.Args()
		if len(rest) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: quickjot plugins reload <name>")
			os.Exit(1)
		}
		name := rest[0]
		if err := a.manager.Reload(ctx, name); err != nil {
			fmt.Fprintf(os.Stderr, "Reload failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Reloaded %s\n", name)
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugins subcommand: %s\n", sub)
		os.Exit(1)
	}
}
