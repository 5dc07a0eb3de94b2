package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/curator/internal/chat"
	"github.com/TobiSchelling/curator/internal/config"
	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/llm"
	"github.com/TobiSchelling/curator/internal/logging"
	"github.com/TobiSchelling/curator/internal/pipeline"
	"github.com/TobiSchelling/curator/internal/retrieval"
	"github.com/TobiSchelling/curator/internal/server"
	"github.com/TobiSchelling/curator/internal/tiered"
	"github.com/TobiSchelling/curator/internal/websearch"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "curator",
	Short:   "Personalized news digests and chat",
	Long:    "curator ingests news, scores it against each user's interests into daily digests, and answers questions over today's items and the archive.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if verbose {
			level = "debug"
		}
		logger = logging.New(level)
		slog.SetDefault(logger)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if !verbose {
			logger = logging.New(cfg.Logging.Level)
			slog.SetDefault(logger)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(feedbackCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("curator", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/curator/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure feeds, tag vocabulary, API keys, and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n\n", database.GetToday())
		fmt.Println("Items:")
		fmt.Printf("  Total collected: %d\n", stats.TotalItems)
		fmt.Printf("  Tagged: %d\n", stats.TaggedItems)
		fmt.Printf("  Summaries completed: %d\n", stats.CompletedItems)
		fmt.Printf("  Summaries pending: %d\n", stats.PendingItems)
		fmt.Printf("  Embedded: %d\n", stats.EmbeddedItems)
		fmt.Println("\nUsers:")
		fmt.Printf("  Registered: %d\n", stats.Users)
		fmt.Printf("  Digests delivered: %d\n", stats.Digests)
		fmt.Println("\nConversations:")
		fmt.Printf("  Sessions: %d\n", stats.Sessions)
		fmt.Printf("  Turns: %d\n", stats.Turns)
		return nil
	},
}

// --- ingest command ---

var (
	dryRun         bool
	ingestLookback int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the ingestion pipeline: collect -> fetch -> tag -> summarize -> embed",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		lookback := ingestLookback
		if lookback <= 0 {
			lookback = cfg.Digest.LookbackHours
		}

		pipe := pipeline.New(cfg, db, newProvider(), newEmbedder(), logger)

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(ctx)
		} else {
			result = pipe.Run(ctx, lookback)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if !dryRun {
			fmt.Println("\nIngestion complete! Run 'curator digest <email>' to build a digest.")
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	ingestCmd.Flags().IntVar(&ingestLookback, "lookback", 0, "Override collection window (hours)")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and digest pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		srv, err := server.New(db, newBackends(db), cfg.Digest, cfg.Server, version, logger)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "curator.db")
	return database.Open(dbPath)
}

func newProvider() llm.Provider {
	return llm.CreateProvider(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.OllamaURL,
		cfg.LLM.OpenAIModel, cfg.LLM.APIKeyEnv, logger)
}

func newEmbedder() llm.Embedder {
	return llm.NewOllamaEmbedder(cfg.LLM.EmbeddingModel, cfg.LLM.OllamaURL)
}

func newBackends(db *database.DB) *chat.Backends {
	index := retrieval.NewIndex(db, cfg.LLM.EmbeddingModel)
	return &chat.Backends{
		DB:        db,
		Generator: tiered.New(newProvider(), tiered.TimeoutsFromConfig(cfg.Generation), logger),
		Retriever: retrieval.NewRetriever(newEmbedder(), index, db),
		Web:       websearch.New(cfg.WebSearch.BaseURL, cfg.WebSearch.Enabled, logger),
		Memory:    cfg.Memory,
		WebCount:  cfg.WebSearch.Results,
		MaxTokens: cfg.LLM.MaxTokens,
		Logger:    logger,
	}
}

// resolveUser accepts a user ID or email.
func resolveUser(ctx context.Context, db *database.DB, ref string) (*database.User, error) {
	u, err := db.GetUser(ctx, ref)
	if err == nil {
		return u, nil
	}
	u, err = db.GetUserByEmail(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", ref, err)
	}
	return u, nil
}

// sortedWeights orders tags by weight, heaviest first.
func sortedWeights(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
