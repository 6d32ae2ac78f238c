package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/canvasledger/cl/cmd/cl/commands"
	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/internal/version"
	"github.com/canvasledger/cl/logger"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "canvas-ledger - a local, queryable ledger of Canvas LMS metadata",
	Long: `canvas-ledger (cl) - a local, queryable ledger of Canvas LMS metadata.

cl maintains a durable record of your Canvas involvement: courses,
enrollments, rosters, and grades, reconciled against the live API so
nothing disappears when Canvas archives or concludes a course. Every
field change is kept in an append-only change log.

Available commands:
  config   - Manage configuration (~/.config/cl/config.toml)
  db       - Manage the ledger database (migrate, status, backup)
  ingest   - Fetch observations from Canvas into the ledger
  query    - Ask questions of the local ledger
  annotate - Record declared truth alongside observed truth
  export   - Export ledger data for other tools
  version  - Show version information

Examples:
  cl config init                    # Write a starter config file
  cl db migrate                     # Create or upgrade the database
  cl ingest catalog                 # Mirror every course you can see
  cl ingest offering 12345          # Deep ingest one course's roster
  cl query my-timeline              # Which courses have I been in?
  cl query offering 12345 --roster
  cl export offerings --format csv > courses.csv`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate("canvas-ledger (cl) version {{.Version}}\n")

	// Add global flags
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON lines on stderr")

	// Add commands
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.QueryCmd)
	rootCmd.AddCommand(commands.AnnotateCmd)
	rootCmd.AddCommand(commands.ExportCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, pterm.Red("Error: "+err.Error()))
		if hints := errors.FlattenHints(err); hints != "" {
			fmt.Fprintln(os.Stderr, pterm.Gray("Hint: "+hints))
		}
		os.Exit(1)
	}
}
