// Package memory is an in-process implementation of store.Store. Writes
// inside WithTx go to a copy of the edge table that replaces the original
// only on commit.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/OFFIS-RIT/simgraph/internal/util"
	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/store"
)

type embeddingKey struct {
	docID, docType, model string
}

type edgeKey struct {
	source, target, docType, method string
}

// StoredEdge is an edge row including its write timestamp.
type StoredEdge struct {
	common.Edge
	UpdatedAt time.Time
}

// Metadata is a doc_metadata row.
type Metadata struct {
	Doc       common.DocumentRecord
	DocType   string
	UpdatedAt time.Time
}

// Store keeps everything in maps guarded by a single mutex. Timestamps come
// from a logical clock that advances by one millisecond per write, so
// ordering by updated_at is strict and reproducible.
type Store struct {
	mu         sync.Mutex
	embeddings map[embeddingKey]common.EmbeddingRecord
	edges      map[edgeKey]StoredEdge
	metadata   map[string]Metadata
	tables     map[string]bool
	clock      time.Time

	// Fail, when set, is consulted before every operation with its name
	// (e.g. "upsert_edges"). A non-nil result is returned as the
	// operation's error.
	Fail func(op string) error
	// PingErr is returned by Ping.
	PingErr error
}

func New() *Store {
	tables := make(map[string]bool, len(store.RequiredTables))
	for _, t := range store.RequiredTables {
		tables[t] = true
	}
	return &Store{
		embeddings: make(map[embeddingKey]common.EmbeddingRecord),
		edges:      make(map[edgeKey]StoredEdge),
		metadata:   make(map[string]Metadata),
		tables:     tables,
		clock:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// DropTable makes MissingTables report table as absent.
func (s *Store) DropTable(table string) {
	s.mu.Lock()
	delete(s.tables, table)
	s.mu.Unlock()
}

func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *Store) fail(op string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.PingErr
}

func (s *Store) MissingTables(ctx context.Context, tables []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, t := range tables {
		if !s.tables[t] {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

func (s *Store) CountEmbeddings(ctx context.Context, docType, model string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.embeddings {
		if k.docType == docType && k.model == model {
			n++
		}
	}
	return n, nil
}

func (s *Store) FetchEmbeddings(ctx context.Context, docType, model string, docIDs []string) (map[string]common.EmbeddingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("fetch_embeddings"); err != nil {
		return nil, err
	}
	out := make(map[string]common.EmbeddingRecord)
	for _, id := range docIDs {
		if rec, ok := s.embeddings[embeddingKey{id, docType, model}]; ok {
			out[id] = cloneRecord(rec)
		}
	}
	return out, nil
}

func (s *Store) FetchAllEmbeddings(ctx context.Context, docType, model string) ([]common.EmbeddingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []common.EmbeddingRecord
	for k, rec := range s.embeddings {
		if k.docType == docType && k.model == model {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

func (s *Store) ChangedSince(ctx context.Context, docType, model string, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, rec := range s.embeddings {
		if k.docType == docType && k.model == model && rec.UpdatedAt.After(since) {
			out = append(out, k.docID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) LastEdgeWrite(ctx context.Context, docType, method string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		last time.Time
		ok   bool
	)
	for k, e := range s.edges {
		if k.docType == docType && k.method == method && (!ok || e.UpdatedAt.After(last)) {
			last, ok = e.UpdatedAt, true
		}
	}
	return last, ok, nil
}

func (s *Store) UpsertEmbeddings(ctx context.Context, records []common.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("upsert_embeddings"); err != nil {
		return err
	}
	now := s.tick()
	for _, rec := range records {
		rec = cloneRecord(rec)
		rec.UpdatedAt = now
		s.embeddings[embeddingKey{rec.DocID, rec.DocType, rec.Model}] = rec
	}
	return nil
}

func (s *Store) UpsertDocMetadata(ctx context.Context, docType string, docs []common.DocumentRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("upsert_metadata"); err != nil {
		return 0, err
	}
	now := s.tick()
	for _, d := range docs {
		d.Title = util.SanitizePostgresText(d.Title)
		s.metadata[d.ID] = Metadata{Doc: d, DocType: docType, UpdatedAt: now}
	}
	return len(docs), nil
}

// WithTx holds the store lock for the whole transaction, so transactions
// are serialized.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.EdgeTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &edgeTx{s: s, edges: make(map[edgeKey]StoredEdge, len(s.edges)), now: s.tick()}
	for k, v := range s.edges {
		tx.edges[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.fail("commit"); err != nil {
		return err
	}
	s.edges = tx.edges
	return nil
}

func (s *Store) Close() {}

// Edges returns every stored edge row sorted by key.
func (s *Store) Edges() []StoredEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredEdge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sortStored(out)
	return out
}

// Embedding returns a stored record.
func (s *Store) Embedding(docID, docType, model string) (common.EmbeddingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.embeddings[embeddingKey{docID, docType, model}]
	return cloneRecord(rec), ok
}

// Metadata returns the metadata row of a document.
func (s *Store) Metadata(docID string) (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metadata[docID]
	return m, ok
}

type edgeTx struct {
	s     *Store
	edges map[edgeKey]StoredEdge
	now   time.Time
}

func (tx *edgeTx) DeleteEdges(ctx context.Context, docType, method string) (int64, error) {
	if err := tx.s.fail("delete_edges"); err != nil {
		return 0, err
	}
	var n int64
	for k := range tx.edges {
		if k.docType == docType && k.method == method {
			delete(tx.edges, k)
			n++
		}
	}
	return n, nil
}

func (tx *edgeTx) DeleteEdgesTouching(ctx context.Context, docType, method string, docIDs []string) (int64, error) {
	if err := tx.s.fail("delete_edges_touching"); err != nil {
		return 0, err
	}
	var n int64
	for k := range tx.edges {
		if k.docType != docType || k.method != method {
			continue
		}
		if slices.Contains(docIDs, k.source) || slices.Contains(docIDs, k.target) {
			delete(tx.edges, k)
			n++
		}
	}
	return n, nil
}

func (tx *edgeTx) UpsertEdges(ctx context.Context, edges []common.Edge) (int64, error) {
	if err := tx.s.fail("upsert_edges"); err != nil {
		return 0, err
	}
	for _, e := range edges {
		tx.edges[edgeKey{e.SourceID, e.TargetID, e.DocType, e.Method}] = StoredEdge{Edge: e, UpdatedAt: tx.now}
	}
	return int64(len(edges)), nil
}

func (tx *edgeTx) InsertEdgesIfAbsent(ctx context.Context, edges []common.Edge) (int64, error) {
	if err := tx.s.fail("insert_edges"); err != nil {
		return 0, err
	}
	var n int64
	for _, e := range edges {
		key := edgeKey{e.SourceID, e.TargetID, e.DocType, e.Method}
		if _, ok := tx.edges[key]; ok {
			continue
		}
		tx.edges[key] = StoredEdge{Edge: e, UpdatedAt: tx.now}
		n++
	}
	return n, nil
}

func sortStored(edges []StoredEdge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.DocType != b.DocType {
			return a.DocType < b.DocType
		}
		if a.Method != b.Method {
			return a.Method < b.Method
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.TargetID < b.TargetID
	})
}

func cloneRecord(rec common.EmbeddingRecord) common.EmbeddingRecord {
	rec.Vector = slices.Clone(rec.Vector)
	return rec
}
