package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/simgraph/internal/util"
	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
)

type docMeta struct {
	SourcePath string `json:"source_path,omitempty"`
	Title      string `json:"title,omitempty"`
	SourceHash string `json:"source_hash"`
}

func (s *Store) UpsertDocMetadata(ctx context.Context, docType string, docs []common.DocumentRecord) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (doc_id, date_ymd, channels, authors, rubric_ids, category_ids, doc_type, meta, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (doc_id) DO UPDATE
SET date_ymd     = EXCLUDED.date_ymd,
    channels     = EXCLUDED.channels,
    authors      = EXCLUDED.authors,
    rubric_ids   = EXCLUDED.rubric_ids,
    category_ids = EXCLUDED.category_ids,
    doc_type     = EXCLUDED.doc_type,
    meta         = EXCLUDED.meta,
    updated_at   = EXCLUDED.updated_at`, table(store.TableDocMetadata))

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, wrapErr("metadata.upsert", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgxv5.Batch{}
	for _, d := range docs {
		meta, err := json.Marshal(docMeta{
			SourcePath: util.SanitizePostgresText(d.SourcePath),
			Title:      util.SanitizePostgresText(d.Title),
			SourceHash: d.ContentHash,
		})
		if err != nil {
			return 0, fmt.Errorf("encode metadata for %s: %w", d.ID, err)
		}
		var date *string
		if d.DateYMD != "" {
			date = &d.DateYMD
		}
		batch.Queue(query,
			d.ID,
			date,
			sanitizeAll(d.Channels),
			sanitizeAll(d.Authors),
			sanitizeAll(d.RubricIDs),
			sanitizeAll(d.CategoryIDs),
			docType,
			meta,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, wrapErr("metadata.upsert", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, wrapErr("metadata.upsert", err)
	}
	return len(docs), nil
}

func sanitizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, util.SanitizePostgresText(v))
	}
	return out
}
