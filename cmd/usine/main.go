// Package main is the usine CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gat45/usine-a-gaz/internal/config"
	"github.com/gat45/usine-a-gaz/internal/eventlog"
	"github.com/gat45/usine-a-gaz/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/usine/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "usine",
		Short: "Retrieval-augmented chat orchestration engine",
		Long: `usine sits between chat clients and a local OpenAI-compatible inference runtime.
Each turn is gated on runtime readiness, bounded to the context window, augmented
with passages retrieved from the ingested corpus and relayed to the backend.

Quick start:
  usine server                        # start the HTTP API
  usine ingest ~/docs                 # ingest a directory
  usine search "boiler maintenance"   # query the corpus
  usine chat                          # interactive chat through the server`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	root.SetVersionTemplate("usine version {{.Version}}\n")

	root.AddCommand(
		newServerCmd(g),
		newIngestCmd(g),
		newSearchCmd(g),
		newChatCmd(),
		newStatusCmd(g),
		newSessionsCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "usine version %s\n", version)
		},
	}
}

// loadConfig loads config from path. When path is the default and a config.yaml exists
// in the current directory, that file is used instead so the binary can run from a
// project checkout. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newLogger builds the process logger. The ring, when given, captures entries for the
// log routes.
func newLogger(cfg *config.Config, debug bool, ring *eventlog.Ring) (*zap.Logger, error) {
	var extra []zapcore.Core
	if ring != nil {
		level := zapcore.InfoLevel
		if debug {
			level = zapcore.DebugLevel
		}
		extra = append(extra, ring.Core(level))
	}
	return utils.NewLoggerWithFile(debug, utils.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}, extra...)
}
