package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sakaguchi/xbot/config"
	"github.com/sakaguchi/xbot/db"
	"github.com/sakaguchi/xbot/errors"
	"github.com/sakaguchi/xbot/logger"
	"github.com/sakaguchi/xbot/sched"
	"github.com/sakaguchi/xbot/thread"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage xbot database",
	Long: `db — Manage xbot database operations

Examples:
  xbot db migrate              # Apply pending schema migrations
  xbot db import-legacy ./old  # Import legacy JSON exports
  xbot db stats                # Show database statistics`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display counts of stored threads, translations, jobs per state, and completion records",
	RunE:  runDbStats,
}

var (
	legacyTweetsFile       string
	legacyTranslationsFile string
)

var dbImportLegacyCmd = &cobra.Command{
	Use:   "import-legacy <dir>",
	Short: "Import legacy JSON exports into the thread and translation stores",
	Long: `import-legacy — Import data from the old per-file JSON layout

Reads the legacy tweets and translations exports under <dir> and upserts
them into the current database. Safe to re-run; existing records with the
same root id are overwritten. A missing translations file is skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runDbImportLegacy,
}

func init() {
	dbImportLegacyCmd.Flags().StringVar(&legacyTweetsFile, "tweets-file", "complete_tweets.json", "legacy tweets file name")
	dbImportLegacyCmd.Flags().StringVar(&legacyTranslationsFile, "translations-file", "translated_tweets_sorted.json", "legacy translations file name")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbImportLegacyCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "migration failed")
	}

	fmt.Println("Migrations applied")
	return nil
}

func runDbImportLegacy(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	tweetsPath := filepath.Join(args[0], legacyTweetsFile)
	threads, err := thread.LoadLegacyThreads(tweetsPath)
	if err != nil {
		return err
	}
	for _, t := range threads {
		if err := a.threads.UpsertThread(t); err != nil {
			return errors.Wrapf(err, "failed to import thread %s", t.RootID())
		}
	}
	fmt.Printf("Imported %d threads from %s.\n", len(threads), tweetsPath)

	translationsPath := filepath.Join(args[0], legacyTranslationsFile)
	translations, err := thread.LoadLegacyTranslations(translationsPath)
	if err != nil {
		return err
	}
	for _, tr := range translations {
		if err := a.threads.UpsertTranslation(tr); err != nil {
			return errors.Wrapf(err, "failed to import translation %s", tr.RootID)
		}
	}
	fmt.Printf("Imported %d translations from %s.\n", len(translations), translationsPath)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	threads, err := a.threads.CountThreads()
	if err != nil {
		return errors.Wrap(err, "failed to count threads")
	}
	translations, err := a.threads.CountTranslations()
	if err != nil {
		return errors.Wrap(err, "failed to count translations")
	}
	jobCounts, err := a.scheduler.Store().Counts()
	if err != nil {
		return errors.Wrap(err, "failed to count jobs")
	}

	var completions int
	if err := a.database.QueryRow(`SELECT COUNT(*) FROM dedup_records`).Scan(&completions); err != nil {
		return errors.Wrap(err, "failed to count completion records")
	}

	fmt.Println("Database Statistics")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Printf("Database Path:      %s\n", a.cfg.Database.Path)
	fmt.Printf("Stored Threads:     %d\n", threads)
	fmt.Printf("Translations:       %d\n", translations)
	fmt.Printf("Completion Records: %d\n", completions)
	fmt.Println()
	fmt.Println("Jobs by state:")
	for _, state := range []sched.JobState{
		sched.StatePending, sched.StateRunning, sched.StateRetrying,
		sched.StateSucceeded, sched.StateFailed,
	} {
		fmt.Printf("  %-10s %d\n", state, jobCounts[state])
	}
	return nil
}
