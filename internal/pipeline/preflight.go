package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/simgraph/internal/util"
	"github.com/OFFIS-RIT/simgraph/pkg/ai"
	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/OFFIS-RIT/simgraph/pkg/loader"
	"github.com/OFFIS-RIT/simgraph/pkg/store"
)

// Preflight checks everything a stage needs before any side effect:
// configuration, credential format, tokenizer, an optional provider probe,
// store reachability and schema, and the minimum document count.
func (r *Runner) Preflight(ctx context.Context, stage Stage) error {
	log := r.log.With("event", "preflight")

	if err := r.cfg.Validate(); err != nil {
		return err
	}
	log.Debug("Configuration ok", "check", "config", "path", r.cfg.Path)

	e := r.cfg.Embeddings
	if err := ai.ValidateCredential(e.Provider, r.cfg.APIKey, e.BaseURL); err != nil {
		return err
	}
	log.Debug("Credentials ok", "check", "credentials", "provider", e.Provider)

	if e.MaxTokens > 0 {
		tr, err := ai.NewTokenTruncator(ai.DefaultEncoding, e.MaxTokens)
		if err != nil {
			return ingesterr.New(ingesterr.KindConfig, "preflight.tokenizer", fmt.Errorf("load tokenizer: %w", err))
		}
		r.truncator = tr
		log.Debug("Tokenizer ok", "check", "tokenizer", "max_tokens", e.MaxTokens)
	}

	if probe := r.cfg.Execution.ProbeProvider; probe != nil && *probe && !r.run.DryRun && stage.callsProvider() {
		policy := util.DefaultPolicy(r.run.FailFast)
		policy.Sleep = r.sleep
		err := util.RetryErrWithContext(ctx, policy, r.client.Probe, func(attempt int, delay time.Duration, err error) {
			log.Warn("Provider probe failed, retrying", "check", "probe", "attempt", attempt,
				"delay_ms", delay.Milliseconds(), "err", ingesterr.Redact(err.Error(), r.cfg.Secrets()...))
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return ingesterr.New(ingesterr.KindConnectivity, "preflight.probe", fmt.Errorf("probe %s: %w", e.Provider, err))
		}
		log.Debug("Provider reachable", "check", "probe", "model", r.client.Model())
	}

	if err := r.store.Ping(ctx); err != nil {
		return ingesterr.New(ingesterr.KindConnectivity, "preflight.store", err)
	}
	missing, err := r.store.MissingTables(ctx, store.RequiredTables)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return ingesterr.Newf(ingesterr.KindDataIntegrity, "preflight.schema",
			"missing tables in schema %s: %s (run `ingest migrate`)", store.Schema, strings.Join(missing, ", "))
	}
	log.Debug("Store ok", "check", "store")

	count, what, err := r.countInputs(ctx, stage)
	if err != nil {
		return err
	}
	if count < r.run.MinPosts {
		return ingesterr.Newf(ingesterr.KindDataIntegrity, "preflight.count",
			"found %d %s, need at least %d", count, what, r.run.MinPosts)
	}

	log.Info("Preflight passed", "stage", stage, what, count)
	return nil
}

// countInputs returns the number of inputs the stage works on. The edges
// stage alone works on stored embeddings; every other stage on the
// extracted documents.
func (r *Runner) countInputs(ctx context.Context, stage Stage) (int, string, error) {
	if stage == StageEdges {
		n, err := r.store.CountEmbeddings(ctx, r.cfg.Graph.DocType, r.client.Model())
		return n, "embeddings", err
	}
	docs, err := r.documents(ctx)
	if err != nil {
		return 0, "", err
	}
	return len(docs), "documents", nil
}

// documents extracts once per run and applies the post limit.
func (r *Runner) documents(ctx context.Context) ([]common.DocumentRecord, error) {
	if r.docs != nil {
		return r.docs, nil
	}
	docs, err := r.source.Documents(ctx)
	if err != nil {
		return nil, err
	}
	docs = loader.Limit(docs, r.run.LimitPosts)
	r.log.Info("Read documents", "event", "read", "source", r.source.Name(), "documents", len(docs))
	if docs == nil {
		docs = []common.DocumentRecord{}
	}
	r.docs = docs
	return docs, nil
}
