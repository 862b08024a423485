package cmd

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/simgraph/internal/config"
	"github.com/OFFIS-RIT/simgraph/pkg/ai"
	"github.com/OFFIS-RIT/simgraph/pkg/ai/mock"
	"github.com/OFFIS-RIT/simgraph/pkg/ai/ollama"
	"github.com/OFFIS-RIT/simgraph/pkg/ai/openai"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/OFFIS-RIT/simgraph/pkg/loader"
	"github.com/OFFIS-RIT/simgraph/pkg/loader/jsonl"
	s3loader "github.com/OFFIS-RIT/simgraph/pkg/loader/s3"
	pgstore "github.com/OFFIS-RIT/simgraph/pkg/store/pgx"

	"github.com/spf13/cobra"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	cfg.ApplyEnv()
	cfg.ApplyOverrides(overrides(cmd))
	return cfg, nil
}

// overrides returns the flags that were set explicitly.
func overrides(cmd *cobra.Command) config.Overrides {
	flags := cmd.Flags()
	o := config.Overrides{FullRebuild: fullRebuild}
	if flags.Changed("source") {
		o.Source = &source
	}
	if flags.Changed("provider") {
		o.Provider = &provider
	}
	if flags.Changed("model") {
		o.Model = &model
	}
	if flags.Changed("batch-size") {
		o.BatchSize = &batchSize
	}
	if flags.Changed("max-chars") {
		o.MaxChars = &maxChars
	}
	if flags.Changed("k") {
		o.K = &k
	}
	if flags.Changed("min-similarity") {
		o.MinSimilarity = &minSimilarity
	}
	if flags.Changed("mode") {
		o.Mode = &mode
	}
	if flags.Changed("min-posts") {
		o.MinPosts = &minPosts
	}
	if flags.Changed("limit-posts") {
		o.LimitPosts = &limitPosts
	}
	if flags.Changed("fail-fast") {
		o.FailFast = &failFast
	}
	return o
}

func newEmbeddingClient(cfg *config.Config) (ai.EmbeddingClient, error) {
	e := cfg.Embeddings
	switch e.Provider {
	case ai.ProviderOpenAI:
		return openai.NewEmbeddingClient(openai.NewEmbeddingClientParams{
			Model:                 e.Model,
			BaseURL:               e.BaseURL,
			APIKey:                cfg.APIKey,
			Dimensions:            e.Dimensions,
			Timeout:               e.RequestTimeout,
			MaxConcurrentRequests: int64(e.Concurrency),
		}), nil
	case ai.ProviderOllama:
		client, err := ollama.NewEmbeddingClient(ollama.NewEmbeddingClientParams{
			Model:                 e.Model,
			BaseURL:               e.BaseURL,
			APIKey:                cfg.APIKey,
			Timeout:               e.RequestTimeout,
			MaxConcurrentRequests: int64(e.Concurrency),
		})
		if err != nil {
			return nil, ingesterr.New(ingesterr.KindConfig, "provider.ollama", err)
		}
		return client, nil
	case ai.ProviderMock:
		return mock.NewEmbeddingClient(e.Model, e.Dimensions), nil
	default:
		return nil, ingesterr.Newf(ingesterr.KindConfig, "provider", "unknown embedding provider %q", e.Provider)
	}
}

func newSource(ctx context.Context, uri string) (loader.Source, error) {
	if strings.HasPrefix(uri, "s3://") {
		return s3loader.NewObjectSource(ctx, uri)
	}
	return jsonl.NewFileSource(uri), nil
}

func newStore(ctx context.Context, cfg *config.Config) (*pgstore.Store, error) {
	return pgstore.New(ctx, cfg.DatabaseURL)
}
