package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
)

func (s *Store) LastEdgeWrite(ctx context.Context, docType, method string) (time.Time, bool, error) {
	var ts *time.Time
	query := fmt.Sprintf("SELECT max(updated_at) FROM %s WHERE doc_type = $1 AND method = $2", table(store.TableEdges))
	if err := s.conn.QueryRow(ctx, query, docType, method).Scan(&ts); err != nil {
		return time.Time{}, false, wrapErr("edges.last_write", err)
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return *ts, true, nil
}

type edgeTx struct {
	tx pgxv5.Tx
}

func (e *edgeTx) DeleteEdges(ctx context.Context, docType, method string) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE doc_type = $1 AND method = $2", table(store.TableEdges))
	tag, err := e.tx.Exec(ctx, query, docType, method)
	if err != nil {
		return 0, wrapErr("edges.delete", err)
	}
	return tag.RowsAffected(), nil
}

func (e *edgeTx) DeleteEdgesTouching(ctx context.Context, docType, method string, docIDs []string) (int64, error) {
	if len(docIDs) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE doc_type = $1 AND method = $2
  AND (source_id = ANY($3) OR target_id = ANY($3))`, table(store.TableEdges))
	tag, err := e.tx.Exec(ctx, query, docType, method, docIDs)
	if err != nil {
		return 0, wrapErr("edges.delete_touching", err)
	}
	return tag.RowsAffected(), nil
}

// edgeColumns splits edges into the column arrays of an unnest insert.
func edgeColumns(edges []common.Edge) []any {
	var (
		sources  = make([]string, len(edges))
		targets  = make([]string, len(edges))
		docTypes = make([]string, len(edges))
		methods  = make([]string, len(edges))
		weights  = make([]float64, len(edges))
		ks       = make([]int32, len(edges))
		floors   = make([]float64, len(edges))
	)
	for i, edge := range edges {
		sources[i] = edge.SourceID
		targets[i] = edge.TargetID
		docTypes[i] = edge.DocType
		methods[i] = edge.Method
		weights[i] = edge.Weight
		ks[i] = int32(edge.K)
		floors[i] = edge.MinSimilarity
	}
	return []any{sources, targets, docTypes, methods, weights, ks, floors}
}

const insertEdges = `
INSERT INTO %s (source_id, target_id, doc_type, method, weight, k, min_similarity, updated_at)
SELECT u.source_id, u.target_id, u.doc_type, u.method, u.weight, u.k, u.min_similarity, now()
FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::float8[], $6::int4[], $7::float8[])
  AS u(source_id, target_id, doc_type, method, weight, k, min_similarity)
ON CONFLICT (source_id, target_id, doc_type, method) %s`

// UpsertEdges writes the edges with a single unnest statement.
func (e *edgeTx) UpsertEdges(ctx context.Context, edges []common.Edge) (int64, error) {
	if len(edges) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(insertEdges, table(store.TableEdges), `DO UPDATE
SET weight         = EXCLUDED.weight,
    k              = EXCLUDED.k,
    min_similarity = EXCLUDED.min_similarity,
    updated_at     = EXCLUDED.updated_at`)

	tag, err := e.tx.Exec(ctx, query, edgeColumns(edges)...)
	if err != nil {
		return 0, wrapErr("edges.upsert", err)
	}
	return tag.RowsAffected(), nil
}

func (e *edgeTx) InsertEdgesIfAbsent(ctx context.Context, edges []common.Edge) (int64, error) {
	if len(edges) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(insertEdges, table(store.TableEdges), "DO NOTHING")

	tag, err := e.tx.Exec(ctx, query, edgeColumns(edges)...)
	if err != nil {
		return 0, wrapErr("edges.insert", err)
	}
	return tag.RowsAffected(), nil
}
