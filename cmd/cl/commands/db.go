package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/canvasledger/cl/config"
	"github.com/canvasledger/cl/db"
	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/logger"
)

// DbCmd represents the db command group
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the ledger database",
	Long: `Manage the ledger database.

The ledger is stored in a local SQLite database (~/.local/share/cl/ledger.db
by default). Run 'cl db migrate' after first install and after updates to
keep the schema current.`,
}

var (
	dbMigrateNoBackup bool
	dbBackupSuffix    string
)

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run pending database migrations",
	Long: `Run pending database migrations, creating the database on first use.

A backup of the existing file is written before anything is applied
unless --no-backup is given.

When to run:
  - After first install (creates the database)
  - After updating cl
  - When 'cl db status' reports pending migrations`,
	RunE: runDbMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and migration status",
	RunE:  runDbStatus,
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the database to a timestamped backup file",
	RunE:  runDbBackup,
}

func init() {
	dbMigrateCmd.Flags().BoolVar(&dbMigrateNoBackup, "no-backup", false, "Skip automatic backup before migration")
	dbBackupCmd.Flags().StringVar(&dbBackupSuffix, "suffix", "", "Suffix for the backup filename (default: UTC timestamp)")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
	DbCmd.AddCommand(dbBackupCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	path, err := config.GetDatabasePath()
	if err != nil {
		return err
	}
	fmt.Printf("Database: %s\n", path)

	_, statErr := os.Stat(path)
	exists := statErr == nil

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	status, err := db.Status(database)
	if err != nil {
		return err
	}
	if len(status.Pending) == 0 {
		cliSuccess("Database is up to date.")
		return nil
	}

	var backupPath string
	if exists && !dbMigrateNoBackup {
		backupPath, err = db.Backup(path, "pre_migration")
		if err != nil {
			return errors.Wrap(err, "failed to back up database before migration")
		}
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		fmt.Fprintln(os.Stderr, pterm.Red("Migration failed!"))
		if backupPath != "" {
			fmt.Fprintf(os.Stderr, "Backup available at: %s\n", backupPath)
		}
		return err
	}

	cliSuccess(fmt.Sprintf("Applied %d migration(s):", len(status.Pending)))
	for _, filename := range status.Pending {
		fmt.Printf("  - %s\n", filename)
	}
	if backupPath != "" {
		fmt.Printf("Backup created: %s\n", backupPath)
	}
	if after, err := db.Status(database); err == nil && len(after.Applied) > 0 {
		fmt.Printf("Current version: %s\n", after.Applied[len(after.Applied)-1].Version)
	}
	return nil
}

func runDbStatus(cmd *cobra.Command, args []string) error {
	path, err := config.GetDatabasePath()
	if err != nil {
		return err
	}

	info, err := db.Info(path)
	if err != nil {
		return err
	}

	fmt.Println("Database Information:")
	fmt.Printf("  Path: %s\n", info.Path)
	fmt.Printf("  Exists: %t\n", info.Exists)
	if info.Exists {
		fmt.Printf("  Size: %.1f KB\n", float64(info.SizeBytes)/1024)
		fmt.Printf("  Tables: %s\n", strings.Join(info.Tables, ", "))
		fmt.Printf("  Journal mode: %s\n", info.JournalMode)
		fmt.Printf("  Foreign keys: %t\n", info.ForeignKeys)
	}
	fmt.Println()

	fmt.Println("Migration Status:")
	if !info.Exists {
		fmt.Println("  Status: Database not created yet (run 'cl db migrate')")
		return nil
	}

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	status, err := db.Status(database)
	if err != nil {
		return err
	}

	latest := "(none)"
	if len(status.Pending) > 0 {
		last := status.Pending[len(status.Pending)-1]
		latest = strings.Split(last, "_")[0]
	} else if len(status.Applied) > 0 {
		latest = status.Applied[len(status.Applied)-1].Version
	}
	current := "(none)"
	if len(status.Applied) > 0 {
		current = status.Applied[len(status.Applied)-1].Version
	}

	fmt.Printf("  Latest version:  %s\n", latest)
	fmt.Printf("  Current version: %s\n", current)
	if len(status.Pending) > 0 {
		fmt.Println(pterm.Yellow(fmt.Sprintf("  Pending migrations: %d", len(status.Pending))))
		for _, filename := range status.Pending {
			fmt.Printf("    - %s\n", filename)
		}
	} else {
		fmt.Println(pterm.Green("  Status: Up to date"))
	}
	return nil
}

func runDbBackup(cmd *cobra.Command, args []string) error {
	path, err := config.GetDatabasePath()
	if err != nil {
		return err
	}

	backupPath, err := db.Backup(path, dbBackupSuffix)
	if err != nil {
		return err
	}
	cliSuccess(fmt.Sprintf("Backup created: %s", backupPath))
	return nil
}
