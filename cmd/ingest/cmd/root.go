package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/simgraph/internal/util"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/OFFIS-RIT/simgraph/pkg/logger"
	"github.com/OFFIS-RIT/simgraph/pkg/logger/console"

	"github.com/spf13/cobra"
)

var (
	configPath    string
	source        string
	model         string
	provider      string
	batchSize     int
	maxChars      int
	k             int
	minSimilarity float64
	mode          string
	minPosts      int
	limitPosts    int
	dryRun        bool
	failFast      bool
	fullRebuild   bool
	debugMode     bool

	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Embed extracted documents and build the similarity graph",
	Long: `ingest turns extracted documents into stored embeddings and a
k-nearest-neighbour similarity graph in PostgreSQL.

Stages run in the order metadata, embeddings, edges. Unchanged documents
reuse their stored vector and only edges touching changed documents are
rewritten.

Examples:
  # Run every stage
  ingest all

  # Check configuration, credentials and schema without writing anything
  ingest all --dry-run

  # Rebuild the graph from stored embeddings
  ingest edges --full-rebuild

  # Create or upgrade the schema
  ingest migrate`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		util.LoadEnv()
		log = newLogger()
	},
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if log == nil {
		log = newLogger()
	}
	report(log, err)
	return ingesterr.ExitCode(err)
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "Path to the config file (defaults to $CONFIG_PATH or config.yaml)")
	f.StringVar(&source, "source", "", "Extracted documents: a .jsonl path or s3://bucket/key")
	f.StringVar(&model, "model", "", "Embedding model")
	f.StringVar(&provider, "provider", "", "Embedding provider: openai, ollama or mock")
	f.IntVar(&batchSize, "batch-size", 0, "Texts per embedding request")
	f.IntVar(&maxChars, "max-chars", 0, "Maximum characters per text (0 = no cap)")
	f.IntVar(&k, "k", 0, "Maximum neighbours per document")
	f.Float64Var(&minSimilarity, "min-similarity", 0, "Minimum cosine similarity of an edge")
	f.StringVar(&mode, "mode", "", "Edge write mode: incremental or full")
	f.IntVar(&minPosts, "min-posts", 0, "Fail when fewer documents are found")
	f.IntVar(&limitPosts, "limit-posts", 0, "Process only the first N documents (0 = all)")
	f.BoolVar(&dryRun, "dry-run", false, "Run preflight only")
	f.BoolVar(&failFast, "fail-fast", false, "Abort on the first provider error instead of retrying")
	f.BoolVar(&fullRebuild, "full-rebuild", false, "Alias for --mode full")
	f.BoolVar(&debugMode, "debug", false, "Debug logging; print the full error chain and stack on failure")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return ingesterr.New(ingesterr.KindConfig, "cli.flags", err)
	})
}

func newLogger() *logger.Logger {
	return logger.New(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debugMode || util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvBool("LOG_JSON", false),
	}))
}
