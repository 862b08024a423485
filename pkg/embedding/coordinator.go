// Package embedding computes and persists document vectors, reusing stored
// vectors whose source hash is unchanged.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/simgraph/internal/util"
	"github.com/OFFIS-RIT/simgraph/pkg/ai"
	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/OFFIS-RIT/simgraph/pkg/logger"
	"github.com/OFFIS-RIT/simgraph/pkg/store"
)

const (
	RetryMessage  = "embedding batch retry"
	ShrinkMessage = "embedding batch shrink"
)

type Options struct {
	DocType   string
	BatchSize int
	// MaxChars caps the input in runes. 0 disables the cap.
	MaxChars int
	// Truncator, when set, caps the input in tokens after MaxChars.
	Truncator *ai.TokenTruncator
	// Policy defaults to util.DefaultPolicy. RunContext.FailFast is always
	// honoured.
	Policy *util.Policy
	// Sleep waits between attempts. Defaults to util.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Coordinator runs one embeddings stage.
type Coordinator struct {
	client ai.EmbeddingClient
	store  store.EmbeddingStore
	log    *logger.Logger
	opts   Options
}

type Result struct {
	// Records holds one record per input document, in input order.
	Records    []common.EmbeddingRecord
	Reused     int
	Recomputed int
	// Affected lists the ids whose vector was recomputed or new.
	Affected []string
	// BatchSize is the batch size in effect at the end of the run.
	BatchSize int
	Retries   int
}

// Vectors returns the records keyed by document id.
func (r Result) Vectors() map[string][]float32 {
	out := make(map[string][]float32, len(r.Records))
	for _, rec := range r.Records {
		out[rec.DocID] = rec.Vector
	}
	return out
}

func NewCoordinator(client ai.EmbeddingClient, s store.EmbeddingStore, log *logger.Logger, opts Options) *Coordinator {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.Sleep == nil {
		opts.Sleep = util.Sleep
	}
	return &Coordinator{client: client, store: s, log: log, opts: opts}
}

// batchState is the retry state of the batch loop. It is passed and returned
// by value; nothing else in the loop is mutated between attempts.
type batchState struct {
	batchSize int
	// attempt counts failed attempts at the current batch size.
	attempt int
	// remaining holds indices into the pending list, in order.
	remaining []int
}

func (s batchState) current() []int {
	return s.remaining[:min(s.batchSize, len(s.remaining))]
}

func (s batchState) advance() batchState {
	s.remaining = s.remaining[min(s.batchSize, len(s.remaining)):]
	s.attempt = 0
	return s
}

func (s batchState) retried(attempt int) batchState {
	s.attempt = attempt
	return s
}

func (s batchState) shrink() batchState {
	s.batchSize = max(1, s.batchSize/2)
	s.attempt = 0
	return s
}

// Run embeds docs. Reused vectors come from the store verbatim; the rest
// are computed in batches and each batch is upserted before the next one is
// sent.
func (c *Coordinator) Run(ctx context.Context, run common.RunContext, docs []common.DocumentRecord) (Result, error) {
	model := c.client.Model()
	log := c.log.With("stage", "embeddings")

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	prior, err := c.store.FetchEmbeddings(ctx, c.opts.DocType, model, ids)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stored embeddings: %w", err)
	}

	res := Result{Records: make([]common.EmbeddingRecord, len(docs))}
	filled := make([]bool, len(docs))
	var pending []int
	for i, d := range docs {
		if rec, ok := prior[d.ID]; ok && rec.SourceHash == d.ContentHash && len(rec.Vector) > 0 {
			res.Records[i] = rec
			filled[i] = true
			res.Reused++
			continue
		}
		pending = append(pending, i)
	}
	log.Info("Partitioned documents", "event", "read", "reused", res.Reused, "to_recompute", len(pending))

	texts := make([]string, len(docs))
	for _, i := range pending {
		texts[i] = c.prepare(docs[i].EmbeddingText)
	}

	policy := util.DefaultPolicy(run.FailFast)
	if c.opts.Policy != nil {
		policy = *c.opts.Policy
		policy.FailFast = policy.FailFast || run.FailFast
	}

	state := batchState{batchSize: c.opts.BatchSize, remaining: pending}
	for len(state.remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		batch := state.current()
		inputs := make([]string, len(batch))
		for j, i := range batch {
			inputs[j] = texts[i]
		}

		vectors, err := c.embed(ctx, inputs)
		if err == nil {
			recs := make([]common.EmbeddingRecord, len(batch))
			for j, i := range batch {
				recs[j] = common.EmbeddingRecord{
					DocID:      docs[i].ID,
					DocType:    c.opts.DocType,
					Model:      model,
					SourceHash: docs[i].ContentHash,
					Vector:     vectors[j],
					UpdatedAt:  time.Now().UTC(),
				}
			}
			if err := c.store.UpsertEmbeddings(ctx, recs); err != nil {
				return Result{}, fmt.Errorf("upsert embeddings: %w", err)
			}
			for j, i := range batch {
				res.Records[i] = recs[j]
				filled[i] = true
				res.Affected = append(res.Affected, docs[i].ID)
			}
			res.Recomputed += len(batch)
			log.Debug("Embedded batch", "event", "upsert", "table", store.Qualified(store.TableEmbeddings), "rows", len(batch))
			state = state.advance()
			continue
		}

		attempt := state.attempt + 1
		decision := policy.Decide(attempt, err)
		switch decision.Action {
		case util.ActionRetry:
			res.Retries++
			log.Warn(RetryMessage,
				"event", "warn",
				"attempt", attempt,
				"batch_size", state.batchSize,
				"delay", decision.Delay,
				"err", err,
			)
			if err := c.opts.Sleep(ctx, decision.Delay); err != nil {
				return Result{}, err
			}
			state = state.retried(attempt)
		case util.ActionExhausted:
			if state.batchSize <= 1 {
				return Result{}, ingesterr.New(ingesterr.KindProvider, "embeddings.batch", fmt.Errorf("retries exhausted: %w", err))
			}
			next := state.shrink()
			log.Warn(ShrinkMessage,
				"event", "warn",
				"from", state.batchSize,
				"to", next.batchSize,
				"err", err,
			)
			state = next
		default:
			return Result{}, err
		}
	}

	for i, ok := range filled {
		if !ok {
			return Result{}, ingesterr.Newf(ingesterr.KindValidation, "embeddings.result", "no vector for document %s", docs[i].ID)
		}
	}
	res.BatchSize = state.batchSize

	metrics := c.client.GetMetrics()
	log.Info("Embeddings ready",
		"event", "embeddings",
		"reused", res.Reused,
		"recomputed", res.Recomputed,
		"retries", res.Retries,
		"batch_size", res.BatchSize,
		"requests", metrics.Requests,
		"input_tokens", metrics.InputTokens,
	)
	return res, nil
}

func (c *Coordinator) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	vectors, err := c.client.GenerateEmbeddings(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if err := ai.CheckVectors(len(inputs), vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// prepare normalizes the text and applies the rune and token caps.
func (c *Coordinator) prepare(text string) string {
	text = util.TruncateRunes(util.NormalizeText(text), c.opts.MaxChars)
	if c.opts.Truncator != nil {
		text = c.opts.Truncator.Truncate(text)
	}
	return text
}
