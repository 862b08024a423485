package cmd

import (
	"github.com/OFFIS-RIT/simgraph/internal/pipeline"
	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/leaselock"

	"github.com/spf13/cobra"
)

var stageFlag string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single stage or all of them",
	Long: `Run the stage given by --stage.

Examples:
  ingest run --stage embeddings
  ingest run --stage all --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := pipeline.ParseStage(stageFlag)
		if err != nil {
			return err
		}
		return runStage(cmd, stage)
	},
}

func init() {
	runCmd.Flags().StringVar(&stageFlag, "stage", string(pipeline.StageAll), "Stage: metadata, embeddings, edges or all")
	rootCmd.AddCommand(runCmd)

	stages := []struct {
		stage pipeline.Stage
		short string
	}{
		{pipeline.StageAll, "Run metadata, embeddings and edges in order"},
		{pipeline.StageMetadata, "Write document metadata"},
		{pipeline.StageEmbeddings, "Compute and store embeddings for new or changed documents"},
		{pipeline.StageEdges, "Build the similarity graph from stored embeddings"},
	}
	for _, s := range stages {
		stage := s.stage
		rootCmd.AddCommand(&cobra.Command{
			Use:   string(stage),
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStage(cmd, stage)
			},
		})
	}
}

func runStage(cmd *cobra.Command, stage pipeline.Stage) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fail(err, false, nil)
	}
	secrets := cfg.Secrets()
	if err := cfg.Validate(); err != nil {
		return fail(err, false, secrets)
	}

	run := cfg.RunContext(common.NewRunID(), dryRun)
	client, err := newEmbeddingClient(cfg)
	if err != nil {
		return fail(err, false, secrets)
	}
	src, err := newSource(ctx, cfg.Extract.Source)
	if err != nil {
		return fail(err, false, secrets)
	}
	st, err := newStore(ctx, cfg)
	if err != nil {
		return fail(err, false, secrets)
	}
	defer st.Close()

	deps := pipeline.Deps{
		Config: cfg,
		Run:    run,
		Store:  st,
		Client: client,
		Source: src,
		Log:    log,
	}
	if *cfg.Execution.Lock {
		deps.Locker = leaselock.New(st.Pool())
	}

	if _, err := pipeline.NewRunner(deps).Run(ctx, stage); err != nil {
		return fail(err, true, secrets)
	}
	return nil
}
