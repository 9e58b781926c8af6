package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gat45/usine-a-gaz/internal/cli"
	"github.com/gat45/usine-a-gaz/internal/command"
	"github.com/gat45/usine-a-gaz/internal/config"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/storage"
	"github.com/gat45/usine-a-gaz/pkg/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// withComponents loads the config and opens the local stores for a command that runs
// without the server.
func withComponents(g *globalFlags, fn func(cfg *config.Config, c *Components) error) error {
	cfg, _, err := loadConfig(g.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || g.debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()
	return fn(cfg, components)
}

func newIngestCmd(g *globalFlags) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Ingest files or directories into the corpus",
		Long: `Ingest files or directories. Directories are walked recursively and unchanged
files are skipped. With --server the paths are resolved on the server host.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if serverURL != "" {
				client := cli.NewClient(serverURL)
				for _, p := range args {
					abs, err := filepath.Abs(p)
					if err != nil {
						return err
					}
					res, err := client.Ingest(cmd.Context(), abs)
					if err != nil {
						return fmt.Errorf("ingest %s: %w", p, err)
					}
					fmt.Fprintf(out, "%s: %v\n", p, res)
				}
				return nil
			}
			return withComponents(g, func(_ *config.Config, c *Components) error {
				for _, p := range args {
					if err := ingestPath(cmd.Context(), out, c, p); err != nil {
						return err
					}
				}
				c.logger.Info("ingest finished", zap.Int("vectors", c.VectorIndex.Size()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (empty = ingest directly into local storage)")
	return cmd
}

func ingestPath(ctx context.Context, out io.Writer, c *Components, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		n, err := c.Indexer.IngestDirectory(ctx, path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s: %d files ingested\n", path, n)
		return nil
	}
	res, err := c.Indexer.IngestFile(ctx, path)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}
	if res.Skipped {
		fmt.Fprintf(out, "%s: unchanged\n", path)
		return nil
	}
	fmt.Fprintf(out, "%s: %d chunks (document %s)\n", path, res.Chunks, res.DocumentID)
	return nil
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var (
		serverURL string
		k         int
		kw        bool
		minScore  float64
		output    string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			q := &models.RetrievalQuery{Query: buildSearchQuery(args), K: k, MinScore: minScore, Keyword: kw}
			if q.Query == "" {
				return models.ErrEmptyQuery
			}
			if serverURL != "" {
				results, err := cli.NewClient(serverURL).Search(cmd.Context(), q)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), q.Query, results, format)
			}
			return withComponents(g, func(_ *config.Config, c *Components) error {
				results, err := c.Retriever.Retrieve(cmd.Context(), q)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), q.Query, results, format)
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = search local storage directly)")
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of results (0 = configured default)")
	cmd.Flags().BoolVar(&kw, "keyword", false, "fuse keyword scores into the ranking")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum score (0 = configured default)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, compact or json")
	return cmd
}

// buildSearchQuery joins positional args into one query string.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newChatCmd() *cobra.Command {
	var (
		serverURL string
		key       string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat through the server",
		Long: `Read messages from stdin and stream replies from the server. Lines starting with
` + command.Prefix + ` are control commands, for example "` + command.Prefix + ` help".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = uuid.NewString()
			}
			client := cli.NewClient(serverURL)
			return runChat(cmd.Context(), client, key, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL")
	cmd.Flags().StringVar(&key, "session", "", "session key (default: a new random key)")
	return cmd
}

// chatClient is the part of the HTTP client the REPL uses.
type chatClient interface {
	Chat(ctx context.Context, key, text string, onDelta func(string)) (string, error)
	Command(ctx context.Context, key, text string) (string, error)
}

func runChat(ctx context.Context, client chatClient, key string, in io.Reader, out, errOut io.Writer) error {
	fmt.Fprintf(out, "session %s\n", key)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case strings.HasPrefix(line, command.Prefix):
			msg, err := client.Command(ctx, key, line)
			if err != nil {
				cli.WriteError(errOut, err)
				continue
			}
			cli.WriteReply(out, msg, true)
		default:
			_, err := client.Chat(ctx, key, line, func(delta string) { fmt.Fprint(out, delta) })
			fmt.Fprintln(out)
			if err != nil {
				cli.WriteError(errOut, err)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var (
		serverURL string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show runtime and corpus status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			if serverURL != "" {
				status, err := cli.NewClient(serverURL).Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("status failed: %w", err)
				}
				return cli.WriteStatus(cmd.OutOrStdout(), status, format)
			}
			return withComponents(g, func(cfg *config.Config, c *Components) error {
				status, err := localStatus(cmd.Context(), cfg, c)
				if err != nil {
					return err
				}
				return cli.WriteStatus(cmd.OutOrStdout(), status, format)
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = read local storage directly)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, compact or json")
	return cmd
}

func localStatus(ctx context.Context, cfg *config.Config, c *Components) (map[string]interface{}, error) {
	docs, err := c.Storage.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents failed: %w", err)
	}
	chunks, err := c.Storage.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks failed: %w", err)
	}
	status := map[string]interface{}{
		"documents":         docs,
		"chunks":            chunks,
		"vector_index_size": c.VectorIndex.Size(),
		"config": map[string]interface{}{
			"vector_index_type":    c.VectorIndex.Type(),
			"vector_metric":        string(c.VectorIndex.Metric()),
			"embedding_provider":   cfg.Embedding.Provider,
			"embedding_dimensions": cfg.Embedding.Dimensions,
			"chunk_size":           cfg.Ingest.ChunkSize,
			"chunk_overlap":        cfg.Ingest.ChunkOverlap,
			"database_path":        cfg.Storage.DatabasePath,
		},
	}
	if usage, err := storage.DiskUsage(map[string]string{
		"database": cfg.Storage.DatabasePath,
		"bleve":    cfg.Storage.BleveIndexPath,
		"vectors":  cfg.Storage.VectorIndexPath,
		"chromem":  cfg.Storage.ChromemPath,
	}); err == nil {
		status["disk_usage_bytes"] = usage.TotalBytes
	}
	return status, nil
}

func newSessionsCmd() *cobra.Command {
	var (
		serverURL string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or reset chat sessions on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			list, err := cli.NewClient(serverURL).Sessions(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteSessions(cmd.OutOrStdout(), list, format)
		},
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "server URL")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, compact or json")
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <key>",
		Short: "Clear a session's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.NewClient(serverURL).ResetSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s reset\n", args[0])
			return nil
		},
	})
	return cmd
}

func newWatchCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage directories watched by the server",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "server URL")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List watched directories",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				dirs, err := cli.NewClient(serverURL).WatchList(cmd.Context())
				if err != nil {
					return err
				}
				for _, d := range dirs {
					fmt.Fprintln(cmd.OutOrStdout(), d)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <dir>",
			Short: "Watch a directory and ingest its files",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				if err := cli.NewClient(serverURL).WatchAdd(cmd.Context(), abs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", abs)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <dir>",
			Short: "Stop watching a directory",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				if err := cli.NewClient(serverURL).WatchRemove(cmd.Context(), abs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stopped watching %s\n", abs)
				return nil
			},
		},
	)
	return cmd
}
