package store

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
)

const edgeChunkSize = 1000

// TxRunner is the part of Store PersistEdges needs.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx EdgeTx) error) error
}

type PersistOptions struct {
	Mode    common.Mode
	DocType string
	Method  string
	// Affected lists documents whose embedding was recomputed or added.
	// Only used in incremental mode.
	Affected []string
}

type PersistResult struct {
	Deleted int64
	Written int64
	// Inserted counts edges between unaffected documents that were not
	// stored yet. Incremental mode only.
	Inserted int64
	// Skipped is true when incremental mode had nothing to do.
	Skipped bool
}

// PersistEdges writes the computed edge set under the consistency policy of
// opts.Mode, inside a single transaction.
//
// Full mode deletes every edge of DocType+Method and writes all edges.
// Incremental mode deletes only edges touching an affected document and
// rewrites the computed edges touching one. Computed edges between untouched
// documents are inserted only when missing, so stored rows stay as they are.
func PersistEdges(ctx context.Context, s TxRunner, edges []common.Edge, opts PersistOptions) (PersistResult, error) {
	if err := validateEdges(edges, opts); err != nil {
		return PersistResult{}, err
	}

	var (
		toWrite  []common.Edge
		toInsert []common.Edge
		affected []string
	)
	switch opts.Mode {
	case common.ModeFull:
		toWrite = edges
	case common.ModeIncremental:
		affected = DedupeStrings(opts.Affected)
		if len(affected) == 0 {
			return PersistResult{Skipped: true}, nil
		}
		set := make(map[string]struct{}, len(affected))
		for _, id := range affected {
			set[id] = struct{}{}
		}
		for _, e := range edges {
			_, src := set[e.SourceID]
			_, dst := set[e.TargetID]
			if src || dst {
				toWrite = append(toWrite, e)
			} else {
				toInsert = append(toInsert, e)
			}
		}
	default:
		return PersistResult{}, ingesterr.Newf(ingesterr.KindConfig, "edges.persist", "unknown mode %q", opts.Mode)
	}

	var res PersistResult
	err := s.WithTx(ctx, func(tx EdgeTx) error {
		var err error
		if opts.Mode == common.ModeFull {
			res.Deleted, err = tx.DeleteEdges(ctx, opts.DocType, opts.Method)
		} else {
			res.Deleted, err = tx.DeleteEdgesTouching(ctx, opts.DocType, opts.Method, affected)
		}
		if err != nil {
			return fmt.Errorf("delete edges: %w", err)
		}

		err = ChunkRange(len(toWrite), edgeChunkSize, func(start, end int) error {
			n, err := tx.UpsertEdges(ctx, toWrite[start:end])
			if err != nil {
				return fmt.Errorf("upsert edges [%d:%d]: %w", start, end, err)
			}
			res.Written += n
			return nil
		})
		if err != nil {
			return err
		}

		return ChunkRange(len(toInsert), edgeChunkSize, func(start, end int) error {
			n, err := tx.InsertEdgesIfAbsent(ctx, toInsert[start:end])
			if err != nil {
				return fmt.Errorf("insert edges [%d:%d]: %w", start, end, err)
			}
			res.Inserted += n
			return nil
		})
	})
	if err != nil {
		return PersistResult{}, err
	}
	return res, nil
}

func validateEdges(edges []common.Edge, opts PersistOptions) error {
	const op = "edges.persist"
	seen := make(map[[2]string]struct{}, len(edges))
	for _, e := range edges {
		if e.SourceID >= e.TargetID {
			return ingesterr.Newf(ingesterr.KindValidation, op, "edge %s-%s is not canonically ordered", e.SourceID, e.TargetID)
		}
		if e.DocType != opts.DocType || e.Method != opts.Method {
			return ingesterr.Newf(ingesterr.KindValidation, op, "edge %s-%s has doc_type/method %s/%s, want %s/%s",
				e.SourceID, e.TargetID, e.DocType, e.Method, opts.DocType, opts.Method)
		}
		key := [2]string{e.SourceID, e.TargetID}
		if _, ok := seen[key]; ok {
			return ingesterr.Newf(ingesterr.KindValidation, op, "duplicate edge %s-%s", e.SourceID, e.TargetID)
		}
		seen[key] = struct{}{}
	}
	return nil
}
