package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const fetchChunkSize = 1000

func (s *Store) CountEmbeddings(ctx context.Context, docType, model string) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE doc_type = $1 AND model = $2", table(store.TableEmbeddings))
	if err := s.conn.QueryRow(ctx, query, docType, model).Scan(&n); err != nil {
		return 0, wrapErr("embeddings.count", err)
	}
	return n, nil
}

func (s *Store) FetchEmbeddings(
	ctx context.Context,
	docType, model string,
	docIDs []string,
) (map[string]common.EmbeddingRecord, error) {
	query := fmt.Sprintf(`
SELECT doc_id, source_hash, embedding, updated_at
FROM %s
WHERE doc_type = $1 AND model = $2 AND doc_id = ANY($3)`, table(store.TableEmbeddings))

	ids := store.DedupeStrings(docIDs)
	out := make(map[string]common.EmbeddingRecord, len(ids))
	err := store.ChunkRange(len(ids), fetchChunkSize, func(start, end int) error {
		rows, err := s.conn.Query(ctx, query, docType, model, ids[start:end])
		if err != nil {
			return wrapErr("embeddings.fetch", err)
		}
		recs, err := scanEmbeddings(rows, docType, model)
		if err != nil {
			return wrapErr("embeddings.fetch", err)
		}
		for _, rec := range recs {
			out[rec.DocID] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) FetchAllEmbeddings(ctx context.Context, docType, model string) ([]common.EmbeddingRecord, error) {
	query := fmt.Sprintf(`
SELECT doc_id, source_hash, embedding, updated_at
FROM %s
WHERE doc_type = $1 AND model = $2
ORDER BY doc_id`, table(store.TableEmbeddings))

	rows, err := s.conn.Query(ctx, query, docType, model)
	if err != nil {
		return nil, wrapErr("embeddings.fetch_all", err)
	}
	recs, err := scanEmbeddings(rows, docType, model)
	if err != nil {
		return nil, wrapErr("embeddings.fetch_all", err)
	}
	return recs, nil
}

func (s *Store) ChangedSince(ctx context.Context, docType, model string, since time.Time) ([]string, error) {
	query := fmt.Sprintf(`
SELECT doc_id FROM %s
WHERE doc_type = $1 AND model = $2 AND updated_at > $3
ORDER BY doc_id`, table(store.TableEmbeddings))

	rows, err := s.conn.Query(ctx, query, docType, model, since)
	if err != nil {
		return nil, wrapErr("embeddings.changed", err)
	}
	ids, err := pgxv5.CollectRows(rows, pgxv5.RowTo[string])
	if err != nil {
		return nil, wrapErr("embeddings.changed", err)
	}
	return ids, nil
}

// UpsertEmbeddings writes all records in one transaction using a batch.
func (s *Store) UpsertEmbeddings(ctx context.Context, records []common.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (doc_id, doc_type, model, source_hash, embedding, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (doc_id, doc_type, model) DO UPDATE
SET source_hash = EXCLUDED.source_hash,
    embedding   = EXCLUDED.embedding,
    updated_at  = EXCLUDED.updated_at`, table(store.TableEmbeddings))

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return wrapErr("embeddings.upsert", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgxv5.Batch{}
	for _, rec := range records {
		batch.Queue(query, rec.DocID, rec.DocType, rec.Model, rec.SourceHash, pgvector.NewVector(rec.Vector))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrapErr("embeddings.upsert", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr("embeddings.upsert", err)
	}
	return nil
}

func scanEmbeddings(rows pgxv5.Rows, docType, model string) ([]common.EmbeddingRecord, error) {
	defer rows.Close()
	var out []common.EmbeddingRecord
	for rows.Next() {
		var (
			rec common.EmbeddingRecord
			vec pgvector.Vector
		)
		if err := rows.Scan(&rec.DocID, &rec.SourceHash, &vec, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.DocType = docType
		rec.Model = model
		rec.Vector = vec.Slice()
		out = append(out, rec)
	}
	return out, rows.Err()
}
