package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gat45/usine-a-gaz/internal/backend"
	"github.com/gat45/usine-a-gaz/internal/eventlog"
	"github.com/gat45/usine-a-gaz/internal/orchestrator"
	"github.com/gat45/usine-a-gaz/internal/prompt"
	"github.com/gat45/usine-a-gaz/internal/runtimestate"
	"github.com/gat45/usine-a-gaz/internal/server"
	"github.com/gat45/usine-a-gaz/internal/session"
	"github.com/gat45/usine-a-gaz/internal/watcher"
	"github.com/gat45/usine-a-gaz/internal/window"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServerCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Long: `Start the HTTP API together with the runtime poll loops, the directory watcher
and idle-session eviction. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, g)
		},
	}
}

func runServer(ctx context.Context, g *globalFlags) error {
	cfg, resolvedConfigPath, err := loadConfig(g.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || g.debug
	ring := eventlog.NewRing(cfg.Log.RingSize)
	logger, err := newLogger(cfg, debug, ring)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("config loaded", zap.String("config_path", resolvedConfigPath), zap.Bool("debug", debug))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	master, err := prompt.LoadMasterPrompt(cfg.Prompt.MasterPrompt, cfg.Prompt.MasterPromptPath)
	if err != nil {
		return err
	}

	client := backend.NewClient(&cfg.Backend, backend.WithLogger(logger))
	primary := runtimestate.NewController("primary", client,
		runtimestate.WithInterval(cfg.Backend.PollInterval),
		runtimestate.WithProbeTimeout(cfg.Backend.ProbeTimeout),
		runtimestate.WithFreshness(cfg.Backend.Freshness),
		runtimestate.WithLogger(logger),
	)
	deps := orchestrator.Deps{
		Window:    window.NewManager(cfg.Window.MaxContextTokens, cfg.Window.ReserveTokens, cfg.Window.HardLimitTokens),
		Router:    prompt.NewRouter(master),
		Client:    client,
		Primary:   primary,
		Retriever: components.Retriever,
		Index:     components.VectorIndex,
		Documents: components.Storage,
	}
	if cfg.Companion.Enabled {
		companion := backend.NewCompanion(&cfg.Companion)
		deps.Enricher = companion
		deps.Companion = runtimestate.NewController("companion", companion,
			runtimestate.WithInterval(cfg.Companion.PollInterval),
			runtimestate.WithProbeTimeout(cfg.Companion.ProbeTimeout),
			runtimestate.WithFreshness(cfg.Companion.Freshness),
			runtimestate.WithLogger(logger),
		)
	}

	policy, err := session.ParseBusyPolicy(cfg.Session.BusyPolicy)
	if err != nil {
		return err
	}
	sessionOpts := []session.ManagerOption{
		session.WithPolicy(policy),
		session.WithAutoCreate(cfg.Session.AutoCreateOrDefault()),
		session.WithLogger(logger),
	}
	if cfg.Session.Persist {
		sessionOpts = append(sessionOpts, session.WithStore(components.Storage))
	}
	sessions := session.NewManager(
		session.DefaultOptions(cfg.Retrieval.EnabledOrDefault(), cfg.Retrieval.TopK, cfg.Companion.Hybrid),
		sessionOpts...,
	)
	if cfg.Session.Persist {
		n, err := sessions.Load(ctx)
		if err != nil {
			logger.Warn("restoring sessions failed", zap.Error(err))
		} else {
			logger.Info("sessions restored", zap.Int("count", n))
		}
	}
	deps.Sessions = sessions

	orch := orchestrator.New(deps,
		orchestrator.WithLogger(logger),
		orchestrator.WithRetryBackoff(cfg.Backend.RetryBackoff),
		orchestrator.WithCompanionTimeout(cfg.Companion.Timeout),
		orchestrator.WithEnrichmentTTL(cfg.Companion.EnrichmentTTL),
	)

	watchSvc := watcher.New(components.Indexer, cfg.Watch.Directories, cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(), watcher.WithLogger(logger))

	srv := server.NewServer(orch, components.Indexer, components.Retriever, components.Storage, sessions, cfg, logger,
		server.WithEventLog(ring),
		server.WithWatch(watchSvc, resolvedConfigPath),
	)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return primary.Run(gctx) })
	if deps.Companion != nil {
		grp.Go(func() error { return deps.Companion.Run(gctx) })
	}
	grp.Go(func() error { return watchSvc.Run(gctx) })
	grp.Go(func() error { return sessions.RunEviction(gctx, cfg.Session.EvictInterval, cfg.Session.IdleTTL) })
	grp.Go(srv.Start)
	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	err = grp.Wait()

	orch.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := sessions.Close(closeCtx); cerr != nil {
		logger.Warn("closing sessions failed", zap.Error(cerr))
	}
	return err
}
