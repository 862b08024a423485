// Package pipeline runs the ingest stages metadata, embeddings and edges
// against one configuration, behind a shared preflight.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/OFFIS-RIT/simgraph/internal/config"
	"github.com/OFFIS-RIT/simgraph/internal/timing"
	"github.com/OFFIS-RIT/simgraph/pkg/ai"
	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/embedding"
	"github.com/OFFIS-RIT/simgraph/pkg/graph"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/OFFIS-RIT/simgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/simgraph/pkg/loader"
	"github.com/OFFIS-RIT/simgraph/pkg/logger"
	"github.com/OFFIS-RIT/simgraph/pkg/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HintMessage follows every failure summary.
const HintMessage = "check DATABASE_URL/OPENAI_API_KEY/config file and rerun the needed stage"

var tracer = otel.Tracer("simgraph/ingest")

type Stage string

const (
	StageMetadata   Stage = "metadata"
	StageEmbeddings Stage = "embeddings"
	StageEdges      Stage = "edges"
	StageAll        Stage = "all"
)

func ParseStage(s string) (Stage, error) {
	switch st := Stage(s); st {
	case StageMetadata, StageEmbeddings, StageEdges, StageAll:
		return st, nil
	}
	return "", ingesterr.Newf(ingesterr.KindConfig, "pipeline.stage", "unknown stage %q (want metadata, embeddings, edges or all)", s)
}

func (s Stage) expand() []Stage {
	if s == StageAll {
		return []Stage{StageMetadata, StageEmbeddings, StageEdges}
	}
	return []Stage{s}
}

func (s Stage) callsProvider() bool {
	return s == StageEmbeddings || s == StageAll
}

// Locker serializes writers. *leaselock.Client implements it.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// Deps are the collaborators of a Runner. Locker may be nil, which runs
// without a lease.
type Deps struct {
	Config *config.Config
	Run    common.RunContext
	Store  store.Store
	Client ai.EmbeddingClient
	Source loader.Source
	Locker Locker
	Log    *logger.Logger

	// Sleep is passed to the embedding coordinator. Nil uses the real clock.
	Sleep func(ctx context.Context, d time.Duration) error
}

type StageReport struct {
	Stage      Stage
	DurationMs int64

	Documents    int
	MetadataRows int

	Reused     int
	Recomputed int
	Retries    int

	Graph   graph.Summary
	Persist store.PersistResult
}

type Report struct {
	RunID  string
	DryRun bool
	Stages []StageReport
}

// Runner executes stages for one run. It is not safe for concurrent use.
type Runner struct {
	cfg    *config.Config
	run    common.RunContext
	store  store.Store
	client ai.EmbeddingClient
	source loader.Source
	locker Locker
	log    *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	truncator *ai.TokenTruncator
	// docs is filled once per run by the first stage that extracts.
	docs []common.DocumentRecord
	// embedded holds the result of the embeddings stage for a following
	// edges stage in the same run.
	embedded *embedding.Result
}

func NewRunner(d Deps) *Runner {
	return &Runner{
		cfg:    d.Config,
		run:    d.Run,
		store:  d.Store,
		client: d.Client,
		source: d.Source,
		locker: d.Locker,
		log:    d.Log.With("run_id", d.Run.RunID),
		sleep:  d.Sleep,
	}
}

// LeaseKey is the single-writer key for the configured graph.
func (r *Runner) LeaseKey() string {
	return fmt.Sprintf("ingest:%s:%s", r.cfg.Graph.DocType, r.cfg.Graph.Method)
}

// Run executes preflight and then stage. Under dry run it stops after
// preflight. The stages of "all" run in order and stop at the first error.
func (r *Runner) Run(ctx context.Context, stage Stage) (report Report, err error) {
	ctx, span := tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("run_id", r.run.RunID),
		attribute.String("stage", string(stage)),
		attribute.String("mode", string(r.run.Mode)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ingest run failed")
		}
		span.End()
	}()

	report = Report{RunID: r.run.RunID, DryRun: r.run.DryRun}
	tracker := timing.NewTracker()
	r.log.Info("Starting ingest",
		"event", "start",
		"stage", stage,
		"mode", r.run.Mode,
		"model", r.client.Model(),
		"doc_type", r.cfg.Graph.DocType,
		"method", r.cfg.Graph.Method,
		"dry_run", r.run.DryRun,
	)

	if err := r.Preflight(ctx, stage); err != nil {
		r.fail(stage, err)
		return report, err
	}
	if r.run.DryRun {
		r.log.Info("Dry run, stopping after preflight", "event", "dry_run", "stage", stage)
		return report, nil
	}

	current := stage
	exec := func(ctx context.Context) error {
		for _, s := range stage.expand() {
			current = s
			stop := tracker.Start(string(s))
			sr, err := r.runStage(ctx, s)
			sr.DurationMs = stop()
			if err != nil {
				return err
			}
			report.Stages = append(report.Stages, sr)
		}
		return nil
	}

	if r.locker != nil && r.cfg.Execution.Lock != nil && *r.cfg.Execution.Lock {
		err = r.locker.WithLease(ctx, r.LeaseKey(), leaselock.Options{
			TTL:   r.cfg.Execution.LockTTL,
			Owner: owner(r.run.RunID),
		}, exec)
	} else {
		err = exec(ctx)
	}
	if err != nil {
		r.fail(current, err)
		return report, err
	}

	r.log.Info("Ingest finished", append([]any{"event", "done", "stage", stage}, tracker.Keyvals()...)...)
	return report, nil
}

func (r *Runner) runStage(ctx context.Context, s Stage) (StageReport, error) {
	ctx, span := tracer.Start(ctx, "ingest."+string(s))
	defer span.End()

	var (
		sr  StageReport
		err error
	)
	switch s {
	case StageMetadata:
		sr, err = r.runMetadata(ctx)
	case StageEmbeddings:
		sr, err = r.runEmbeddings(ctx)
	case StageEdges:
		sr, err = r.runEdges(ctx)
	default:
		err = ingesterr.Newf(ingesterr.KindConfig, "pipeline.stage", "unknown stage %q", s)
	}
	sr.Stage = s
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(s)+" failed")
	}
	return sr, err
}

// fail logs the redacted error and the hint line.
func (r *Runner) fail(stage Stage, err error) {
	kind, _ := ingesterr.KindOf(err)
	r.log.Error("Ingest failed",
		"event", "error",
		"stage", stage,
		"kind", kind,
		"err", ingesterr.Redact(err.Error(), r.cfg.Secrets()...),
	)
	r.log.Error(HintMessage, "event", "error", "stage", stage)
}

func owner(runID string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + "/" + runID
}
