package embedding

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/simgraph/pkg/ai/mock"
	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/OFFIS-RIT/simgraph/pkg/logger"
	"github.com/OFFIS-RIT/simgraph/pkg/store/memory"
)

const testModel = "mock-embed"

type flakyClient struct {
	*mock.EmbeddingClient
	fail  func(call int, inputs []string) error
	calls int
}

func (c *flakyClient) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	c.calls++
	if c.fail != nil {
		if err := c.fail(c.calls, inputs); err != nil {
			return nil, err
		}
	}
	return c.EmbeddingClient.GenerateEmbeddings(ctx, inputs)
}

// shortClient drops the last vector of every response.
type shortClient struct {
	*mock.EmbeddingClient
}

func (c *shortClient) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	out, err := c.EmbeddingClient.GenerateEmbeddings(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return out[:len(out)-1], nil
}

func transient() error {
	return ingesterr.Newf(ingesterr.KindProvider, "test", "503 service unavailable")
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func docs(ids ...string) []common.DocumentRecord {
	out := make([]common.DocumentRecord, len(ids))
	for i, id := range ids {
		out[i] = common.DocumentRecord{ID: id, EmbeddingText: "text of " + id, ContentHash: "hash-" + id}
	}
	return out
}

func newCoordinator(client *flakyClient, s *memory.Store, rec *logger.Recorder, batchSize int, sleeper *sleepRecorder) *Coordinator {
	return NewCoordinator(client, s, logger.New(rec), Options{
		DocType:   "post",
		BatchSize: batchSize,
		MaxChars:  8000,
		Sleep:     sleeper.sleep,
	})
}

func TestRun_ReusesMatchingHashes(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	input := docs("a", "b", "c")
	var prior []common.EmbeddingRecord
	for _, d := range input {
		prior = append(prior, common.EmbeddingRecord{DocID: d.ID, DocType: "post", Model: testModel, SourceHash: d.ContentHash, Vector: []float32{1, 2}})
	}
	if err := s.UpsertEmbeddings(ctx, prior); err != nil {
		t.Fatalf("seed: %v", err)
	}

	client := &flakyClient{EmbeddingClient: mock.NewEmbeddingClient(testModel, 8)}
	res, err := newCoordinator(client, s, logger.NewRecorder(), 16, &sleepRecorder{}).Run(ctx, common.RunContext{}, input)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected zero provider calls, got %d", client.calls)
	}
	if res.Reused != 3 || res.Recomputed != 0 || len(res.Affected) != 0 {
		t.Fatalf("expected 3 reused, got %+v", res)
	}
	for _, rec := range res.Records {
		if !reflect.DeepEqual(rec.Vector, []float32{1, 2}) {
			t.Fatalf("expected stored vector reused verbatim, got %v", rec.Vector)
		}
	}
}

func TestRun_RecomputesChangedHash(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	input := docs("a", "b", "x")
	for _, d := range input {
		hash := d.ContentHash
		if d.ID == "x" {
			hash = "old-hash"
		}
		_ = s.UpsertEmbeddings(ctx, []common.EmbeddingRecord{{DocID: d.ID, DocType: "post", Model: testModel, SourceHash: hash, Vector: []float32{1, 0}}})
	}

	client := &flakyClient{EmbeddingClient: mock.NewEmbeddingClient(testModel, 8)}
	res, err := newCoordinator(client, s, logger.NewRecorder(), 16, &sleepRecorder{}).Run(ctx, common.RunContext{}, append(input, docs("new")...))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Reused != 2 || res.Recomputed != 2 {
		t.Fatalf("expected 2 reused and 2 recomputed, got %+v", res)
	}
	if !reflect.DeepEqual(res.Affected, []string{"x", "new"}) {
		t.Fatalf("expected affected [x new], got %v", res.Affected)
	}
	stored, _ := s.Embedding("x", "post", testModel)
	if stored.SourceHash != "hash-x" {
		t.Fatalf("expected stored hash updated, got %s", stored.SourceHash)
	}
	if len(res.Records) != 4 || res.Records[3].DocID != "new" {
		t.Fatalf("expected records in input order, got %+v", res.Records)
	}
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	rec := logger.NewRecorder()
	sleeper := &sleepRecorder{}
	client := &flakyClient{
		EmbeddingClient: mock.NewEmbeddingClient(testModel, 8),
		fail: func(call int, _ []string) error {
			if call <= 2 {
				return transient()
			}
			return nil
		},
	}
	input := docs("a", "b")

	res, err := newCoordinator(client, memory.New(), rec, 16, sleeper).Run(context.Background(), common.RunContext{}, input)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := rec.Count(RetryMessage); got != 2 {
		t.Fatalf("expected exactly 2 retry events, got %d", got)
	}
	if !reflect.DeepEqual(sleeper.delays, []time.Duration{time.Second, 2 * time.Second}) {
		t.Fatalf("expected delays [1s 2s], got %v", sleeper.delays)
	}
	for i, d := range input {
		want := mock.Vector(strings.ToLower(d.EmbeddingText), 8)
		if !reflect.DeepEqual(res.Records[i].Vector, want) {
			t.Fatalf("expected vector of a single successful call for %s", d.ID)
		}
	}
	if res.Retries != 2 || res.BatchSize != 16 {
		t.Fatalf("expected 2 retries at unchanged size, got %+v", res)
	}
}

func TestRun_FailFastAbortsOnFirstFailure(t *testing.T) {
	sleeper := &sleepRecorder{}
	rec := logger.NewRecorder()
	client := &flakyClient{
		EmbeddingClient: mock.NewEmbeddingClient(testModel, 8),
		fail:            func(int, []string) error { return transient() },
	}

	_, err := newCoordinator(client, memory.New(), rec, 16, sleeper).Run(context.Background(), common.RunContext{FailFast: true}, docs("a"))
	if !ingesterr.IsKind(err, ingesterr.KindProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if client.calls != 1 || len(sleeper.delays) != 0 || rec.Count(RetryMessage) != 0 {
		t.Fatalf("expected a single attempt without retry, got %d calls, %d sleeps", client.calls, len(sleeper.delays))
	}
}

func TestRun_ShrinksBatchAfterExhaustion(t *testing.T) {
	rec := logger.NewRecorder()
	client := &flakyClient{
		EmbeddingClient: mock.NewEmbeddingClient(testModel, 8),
		fail: func(_ int, inputs []string) error {
			if len(inputs) > 1 {
				return transient()
			}
			return nil
		},
	}

	res, err := newCoordinator(client, memory.New(), rec, 4, &sleepRecorder{}).Run(context.Background(), common.RunContext{}, docs("a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	// 3 attempts at 4, 3 attempts at 2, then 4 single-document calls.
	if client.calls != 10 {
		t.Fatalf("expected 10 calls, got %d", client.calls)
	}
	if res.BatchSize != 1 {
		t.Fatalf("expected final batch size 1, got %d", res.BatchSize)
	}
	if rec.Count(ShrinkMessage) != 2 || rec.Count(RetryMessage) != 4 {
		t.Fatalf("expected 2 shrinks and 4 retries, got %d and %d", rec.Count(ShrinkMessage), rec.Count(RetryMessage))
	}
	if res.Recomputed != 4 {
		t.Fatalf("expected 4 recomputed, got %d", res.Recomputed)
	}
}

func TestRun_ExhaustedAtSizeOne(t *testing.T) {
	client := &flakyClient{
		EmbeddingClient: mock.NewEmbeddingClient(testModel, 8),
		fail:            func(int, []string) error { return transient() },
	}

	_, err := newCoordinator(client, memory.New(), logger.NewRecorder(), 2, &sleepRecorder{}).Run(context.Background(), common.RunContext{}, docs("a", "b"))
	if !ingesterr.IsKind(err, ingesterr.KindProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if !strings.Contains(err.Error(), "retries exhausted") {
		t.Fatalf("expected retries exhausted, got %v", err)
	}
	if client.calls != 6 {
		t.Fatalf("expected 6 calls, got %d", client.calls)
	}
}

func TestRun_CountMismatchIsNotRetried(t *testing.T) {
	client := &shortClient{EmbeddingClient: mock.NewEmbeddingClient(testModel, 8)}
	sleeper := &sleepRecorder{}
	c := NewCoordinator(client, memory.New(), logger.Nop(), Options{DocType: "post", BatchSize: 4, Sleep: sleeper.sleep})

	_, err := c.Run(context.Background(), common.RunContext{}, docs("a", "b"))
	if !ingesterr.IsPermanent(err) || !ingesterr.IsKind(err, ingesterr.KindProvider) {
		t.Fatalf("expected permanent provider error, got %v", err)
	}
	if client.Calls() != 1 || len(sleeper.delays) != 0 {
		t.Fatalf("expected one call and no retry, got %d calls", client.Calls())
	}
}

func TestRun_EarlierBatchesStayPersisted(t *testing.T) {
	s := memory.New()
	permanent := ingesterr.Permanentf(ingesterr.KindProvider, "test", "bad request")
	client := &flakyClient{
		EmbeddingClient: mock.NewEmbeddingClient(testModel, 8),
		fail: func(_ int, inputs []string) error {
			if inputs[0] == "text of c" {
				return permanent
			}
			return nil
		},
	}

	_, err := newCoordinator(client, s, logger.NewRecorder(), 1, &sleepRecorder{}).Run(context.Background(), common.RunContext{}, docs("a", "b", "c"))
	if !errors.Is(err, permanent) {
		t.Fatalf("expected %v, got %v", permanent, err)
	}
	for _, id := range []string{"a", "b"} {
		if _, ok := s.Embedding(id, "post", testModel); !ok {
			t.Fatalf("expected %s persisted before the failure", id)
		}
	}
	if _, ok := s.Embedding("c", "post", testModel); ok {
		t.Fatal("expected c not persisted")
	}
}

func TestRun_PreparesText(t *testing.T) {
	client := &flakyClient{EmbeddingClient: mock.NewEmbeddingClient(testModel, 8)}
	c := NewCoordinator(client, memory.New(), logger.Nop(), Options{DocType: "post", BatchSize: 8, MaxChars: 9})

	input := []common.DocumentRecord{{ID: "a", EmbeddingText: "  Hello \n\t WORLD again ", ContentHash: "h"}}
	if _, err := c.Run(context.Background(), common.RunContext{}, input); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got := client.Inputs()
	if len(got) != 1 || got[0][0] != "hello wor" {
		t.Fatalf("expected normalized and truncated text, got %q", got)
	}
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &flakyClient{
		EmbeddingClient: mock.NewEmbeddingClient(testModel, 8),
		fail: func(int, []string) error {
			cancel()
			return transient()
		},
	}

	_, err := newCoordinator(client, memory.New(), logger.NewRecorder(), 2, &sleepRecorder{}).Run(ctx, common.RunContext{}, docs("a"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call, got %d", client.calls)
	}
}

func TestBatchState(t *testing.T) {
	s := batchState{batchSize: 5, remaining: []int{0, 1, 2, 3, 4, 5, 6}}
	if got := s.current(); len(got) != 5 {
		t.Fatalf("expected 5 items, got %v", got)
	}

	shrunk := s.retried(2).shrink()
	if shrunk.batchSize != 2 || shrunk.attempt != 0 {
		t.Fatalf("expected size 2 attempt 0, got %+v", shrunk)
	}
	if s.batchSize != 5 {
		t.Fatal("expected original state unchanged")
	}
	if got := (batchState{batchSize: 1}).shrink().batchSize; got != 1 {
		t.Fatalf("expected floor 1, got %d", got)
	}

	next := shrunk.advance()
	if !reflect.DeepEqual(next.remaining, []int{2, 3, 4, 5, 6}) {
		t.Fatalf("expected remaining [2..6], got %v", next.remaining)
	}
}
