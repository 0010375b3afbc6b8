package cli

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"feedpush/internal/config"
	"feedpush/migrations"
)

func newMigrateCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "migrate <up|up-one|down|status|version|reset>",
		Short: "Manage the database schema",
		Long: `Apply or roll back the embedded schema migrations.

  up       migrate to the latest version
  up-one   migrate one version up
  down     roll back one version
  status   show migration status
  version  show the current version
  reset    roll back all migrations`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "up-one", "down", "status", "version", "reset"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := config.Load()
				if err != nil {
					return WrapExitError(ExitCommandError, "load config", err)
				}
				dbPath = cfg.DatabasePath
			}
			return migrate(cmd, dbPath, args[0])
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "path to sqlite database (default DATABASE_PATH)")
	return cmd
}

func migrate(cmd *cobra.Command, dbPath, action string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer func() { _ = db.Close() }()

	provider, err := migrations.NewProvider(db)
	if err != nil {
		return WrapExitError(ExitCommandError, "migrate", err)
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch action {
	case "up":
		var results []*goose.MigrationResult
		results, err = provider.Up(ctx)
		printResults(out, results...)
	case "up-one":
		var res *goose.MigrationResult
		res, err = provider.UpByOne(ctx)
		printResults(out, res)
	case "down":
		var res *goose.MigrationResult
		res, err = provider.Down(ctx)
		printResults(out, res)
	case "reset":
		var results []*goose.MigrationResult
		results, err = provider.DownTo(ctx, 0)
		printResults(out, results...)
	case "version":
		var v int64
		v, err = provider.GetDBVersion(ctx)
		if err == nil {
			fmt.Fprintf(out, "version %d\n", v)
		}
	case "status":
		var statuses []*goose.MigrationStatus
		statuses, err = provider.Status(ctx)
		for _, s := range statuses {
			applied := "pending"
			if s.State == goose.StateApplied {
				applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "%-20s %s\n", applied, s.Source.Path)
		}
	}
	if err != nil {
		return WrapExitError(ExitCommandError, action, err)
	}
	return nil
}

func printResults(w io.Writer, results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Fprintf(w, "%s %s (%s)\n", r.Direction, r.Source.Path, r.Duration)
	}
}
