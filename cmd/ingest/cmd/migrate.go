package cmd

import (
	"github.com/OFFIS-RIT/simgraph/internal/config"
	"github.com/OFFIS-RIT/simgraph/internal/migrations"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema migrations",
	Long: `Create or upgrade the knowledge schema: the vector extension and the
embeddings, similarity_edges, doc_metadata and ingest_locks tables.

The database is taken from DATABASE_URL or the PG* variables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := config.DatabaseURLFromEnv()
		if dsn == "" {
			return fail(ingesterr.Newf(ingesterr.KindConfig, "migrate", "DATABASE_URL is not set"), false, nil)
		}
		if _, err := migrations.Up(cmd.Context(), dsn, log); err != nil {
			return fail(err, false, nil)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
