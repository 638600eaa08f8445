// Package commands provides CLI commands for the admin tool
package commands

import (
	"context"
	"database/sql"
	"os"

	"prepapp/internal/database"
	"prepapp/internal/observability"
	"prepapp/internal/services"
	contextutils "prepapp/internal/utils"

	"github.com/spf13/cobra"
)

// DatabaseCommands returns the database management commands
func DatabaseCommands(reader services.MasteryReader, logger *observability.Logger, db *sql.DB, databaseURL string) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the practice engine.

Available commands:
  stats    - Show database statistics
  migrate  - Apply pending schema migrations`,
	}

	dbCmd.AddCommand(statsCmd(reader, logger, db))
	dbCmd.AddCommand(migrateCmd(logger, databaseURL))

	return dbCmd
}

// statsCmd returns the stats command
func statsCmd(reader services.MasteryReader, logger *observability.Logger, db *sql.DB) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Long:  `Show database statistics including student, question, and session counts.`,
		RunE:  runStats(reader, logger, db),
	}
}

// migrateCmd returns the migrate command
func migrateCmd(logger *observability.Logger, databaseURL string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long:  `Apply any pending schema migrations from the migrations directory.`,
		RunE:  runMigrate(logger, databaseURL),
	}
}

// runStats returns a function that shows database statistics
func runStats(reader services.MasteryReader, logger *observability.Logger, db *sql.DB) func(cmd *cobra.Command, args []string) error {
	return func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		logger.Info(ctx, "Diagnostic info", map[string]interface{}{"config_file": os.Getenv("PREP_CONFIG_FILE"), "database": getDatabaseInfo(db)})

		students, err := reader.ListActiveStudents(ctx)
		if err != nil {
			logger.Error(ctx, "Failed to get student statistics", err, map[string]interface{}{})
			return contextutils.WrapError(err, "failed to get student statistics")
		}

		var questionCount, sessionCount int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM questions WHERE is_published = TRUE").Scan(&questionCount); err != nil {
			logger.Error(ctx, "Failed to count questions", err, map[string]interface{}{})
			return contextutils.WrapError(err, "failed to count questions")
		}
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM practice_sessions").Scan(&sessionCount); err != nil {
			logger.Error(ctx, "Failed to count sessions", err, map[string]interface{}{})
			return contextutils.WrapError(err, "failed to count sessions")
		}

		logger.Info(ctx, "Database statistics", map[string]interface{}{
			"active_students":     len(students),
			"published_questions": questionCount,
			"practice_sessions":   sessionCount,
			"database":            "PostgreSQL",
			"status":              "Connected",
		})

		return nil
	}
}

// runMigrate returns a function that applies pending migrations
func runMigrate(logger *observability.Logger, databaseURL string) func(cmd *cobra.Command, args []string) error {
	return func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		logger.Info(ctx, "Applying schema migrations", map[string]interface{}{"database_url": maskDatabaseURL(databaseURL)})

		manager := database.NewManager(logger)
		if err := manager.RunMigrations(databaseURL); err != nil {
			logger.Error(ctx, "Migration failed", err, map[string]interface{}{})
			return contextutils.WrapError(err, "migration failed")
		}

		logger.Info(ctx, "Migrations applied successfully", map[string]interface{}{})
		return nil
	}
}
