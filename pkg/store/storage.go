package store

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/simgraph/pkg/common"
)

// Schema is the Postgres schema holding every ingest table.
const Schema = "knowledge"

const (
	TableEmbeddings  = "embeddings"
	TableEdges       = "similarity_edges"
	TableDocMetadata = "doc_metadata"
	TableLocks       = "ingest_locks"
)

// RequiredTables lists the tables a run needs, unqualified.
var RequiredTables = []string{TableEmbeddings, TableEdges, TableDocMetadata, TableLocks}

// EmbeddingStore reads and writes embedding vectors keyed by
// (doc id, doc type, model).
type EmbeddingStore interface {
	// FetchEmbeddings returns the stored records for the given ids, keyed by
	// doc id. Ids without a record are absent from the map.
	FetchEmbeddings(ctx context.Context, docType, model string, docIDs []string) (map[string]common.EmbeddingRecord, error)
	// UpsertEmbeddings inserts or replaces records in one transaction.
	UpsertEmbeddings(ctx context.Context, records []common.EmbeddingRecord) error
}

// Store is the persisted state of the ingest pipeline.
type Store interface {
	EmbeddingStore

	Ping(ctx context.Context) error
	// MissingTables returns the tables from the list that do not exist.
	MissingTables(ctx context.Context, tables []string) ([]string, error)

	CountEmbeddings(ctx context.Context, docType, model string) (int, error)
	FetchAllEmbeddings(ctx context.Context, docType, model string) ([]common.EmbeddingRecord, error)
	// ChangedSince returns the ids of embeddings updated strictly after since.
	ChangedSince(ctx context.Context, docType, model string, since time.Time) ([]string, error)
	// LastEdgeWrite returns the newest edge timestamp for docType+method.
	// ok is false when no such edge exists.
	LastEdgeWrite(ctx context.Context, docType, method string) (ts time.Time, ok bool, err error)

	UpsertDocMetadata(ctx context.Context, docType string, docs []common.DocumentRecord) (int, error)

	// WithTx runs fn in a transaction. It commits when fn returns nil and
	// rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx EdgeTx) error) error

	Close()
}

// EdgeTx holds the edge operations available inside a transaction.
type EdgeTx interface {
	DeleteEdges(ctx context.Context, docType, method string) (int64, error)
	DeleteEdgesTouching(ctx context.Context, docType, method string, docIDs []string) (int64, error)
	UpsertEdges(ctx context.Context, edges []common.Edge) (int64, error)
	// InsertEdgesIfAbsent writes only edges whose key is not stored yet and
	// leaves existing rows untouched.
	InsertEdgesIfAbsent(ctx context.Context, edges []common.Edge) (int64, error)
}

// Qualified returns schema.table.
func Qualified(table string) string {
	return Schema + "." + table
}
