package pipeline

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/embedding"
	"github.com/OFFIS-RIT/simgraph/pkg/graph"
	"github.com/OFFIS-RIT/simgraph/pkg/store"
)

func (r *Runner) runMetadata(ctx context.Context) (StageReport, error) {
	log := r.log.With("stage", StageMetadata)

	docs, err := r.documents(ctx)
	if err != nil {
		return StageReport{}, err
	}
	sr := StageReport{Documents: len(docs)}
	if len(docs) == 0 {
		log.Warn("No documents to write", "event", "warn")
		return sr, nil
	}

	for _, d := range docs {
		if len(d.Channels) == 0 {
			log.Warn("Document has no channels", "event", "warn", "doc_id", d.ID)
		}
		if len(d.Authors) == 0 {
			log.Warn("Document has no authors", "event", "warn", "doc_id", d.ID)
		}
	}

	rows, err := r.store.UpsertDocMetadata(ctx, r.cfg.Graph.DocType, docs)
	if err != nil {
		return sr, fmt.Errorf("write metadata: %w", err)
	}
	sr.MetadataRows = rows
	log.Info("Metadata written", "event", "upsert", "table", store.Qualified(store.TableDocMetadata), "rows", rows)
	return sr, nil
}

func (r *Runner) runEmbeddings(ctx context.Context) (StageReport, error) {
	docs, err := r.documents(ctx)
	if err != nil {
		return StageReport{}, err
	}

	coord := embedding.NewCoordinator(r.client, r.store, r.log, embedding.Options{
		DocType:   r.cfg.Graph.DocType,
		BatchSize: r.cfg.Embeddings.BatchSize,
		MaxChars:  r.cfg.Embeddings.MaxChars,
		Truncator: r.truncator,
		Sleep:     r.sleep,
	})
	res, err := coord.Run(ctx, r.run, docs)
	if err != nil {
		return StageReport{Documents: len(docs)}, err
	}
	r.embedded = &res

	return StageReport{
		Documents:  len(docs),
		Reused:     res.Reused,
		Recomputed: res.Recomputed,
		Retries:    res.Retries,
	}, nil
}

func (r *Runner) runEdges(ctx context.Context) (StageReport, error) {
	log := r.log.With("stage", StageEdges)
	g := r.cfg.Graph
	model := r.client.Model()

	var vectors map[string][]float32
	if r.embedded != nil {
		vectors = r.embedded.Vectors()
	} else {
		records, err := r.store.FetchAllEmbeddings(ctx, g.DocType, model)
		if err != nil {
			return StageReport{}, fmt.Errorf("load embeddings: %w", err)
		}
		vectors = make(map[string][]float32, len(records))
		for _, rec := range records {
			vectors[rec.DocID] = rec.Vector
		}
	}
	log.Debug("Loaded vectors", "event", "read", "vectors", len(vectors))

	edges := graph.Build(vectors, graph.Options{
		K:             g.K,
		MinSimilarity: g.MinSimilarity,
		Method:        g.Method,
		DocType:       g.DocType,
	})

	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}

	opts := store.PersistOptions{Mode: r.run.Mode, DocType: g.DocType, Method: g.Method}
	if r.run.Mode == common.ModeIncremental {
		affected, err := r.affected(ctx, ids)
		if err != nil {
			return StageReport{}, err
		}
		opts.Affected = affected
	}

	res, err := store.PersistEdges(ctx, r.store, edges, opts)
	if err != nil {
		return StageReport{}, fmt.Errorf("persist edges: %w", err)
	}

	summary := graph.Summarize(ids, edges)
	log.Info("Edges written",
		"event", "edges",
		"table", store.Qualified(store.TableEdges),
		"mode", r.run.Mode,
		"nodes", summary.Nodes,
		"edges", summary.Edges,
		"isolated", summary.Isolated,
		"max_degree", summary.MaxDegree,
		"mean_weight", summary.MeanWeight,
		"deleted", res.Deleted,
		"written", res.Written,
		"inserted", res.Inserted,
		"skipped", res.Skipped,
	)
	return StageReport{Documents: len(ids), Graph: summary, Persist: res}, nil
}

// affected resolves the documents whose edges must be rewritten. Without any
// stored edge every document is affected. Otherwise it is every embedding
// written after the newest edge, plus whatever the embeddings stage of this
// run recomputed.
func (r *Runner) affected(ctx context.Context, ids []string) ([]string, error) {
	g := r.cfg.Graph
	last, ok, err := r.store.LastEdgeWrite(ctx, g.DocType, g.Method)
	if err != nil {
		return nil, fmt.Errorf("read last edge write: %w", err)
	}
	if !ok {
		return ids, nil
	}

	changed, err := r.store.ChangedSince(ctx, g.DocType, r.client.Model(), last)
	if err != nil {
		return nil, fmt.Errorf("read changed embeddings: %w", err)
	}
	if r.embedded != nil {
		changed = append(changed, r.embedded.Affected...)
	}
	return store.DedupeStrings(changed), nil
}
