package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/canvasledger/cl/canvas"
	"github.com/canvasledger/cl/config"
	"github.com/canvasledger/cl/display"
	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/ledger"
	"github.com/canvasledger/cl/logger"
	"github.com/canvasledger/cl/queries"
)

// IngestCmd represents the ingest command group
var IngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch observations from Canvas into the ledger",
	Long: `Fetch observations from Canvas into the ledger.

Ingestion is reconciliation, not replacement: new records are added,
changed fields are updated and logged, and records that disappear from
Canvas are marked absent but never deleted. Running the same ingest
twice in a row changes nothing the second time.

Examples:
  cl ingest catalog              # Every course visible to you
  cl ingest offering 12345       # One course's sections, roster, grades
  cl ingest status               # The most recent run
  cl ingest runs --limit 20      # Run history`,
}

var (
	ingestQuiet        bool
	ingestStatusFormat string
	ingestRunsFormat   string
	ingestRunsLimit    int
	ingestRunsScope    string
)

var ingestCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Ingest every course visible to you",
	Long: `Ingest every course visible to you, regardless of role, along with
their terms and your own enrollments in them.

Idempotent: re-running updates existing records and adds new ones but
never creates duplicates.`,
	Args: cobra.NoArgs,
	RunE: runIngestCatalog,
}

var ingestOfferingCmd = &cobra.Command{
	Use:   "offering <canvas-course-id>",
	Short: "Deep ingest one offering's sections, roster, and grades",
	Long: `Deep ingest one offering: its sections, every enrollment on the
roster in every role and state, the people behind them, and grade
summaries.

The offering must already be in the ledger (run 'cl ingest catalog'
first).

Examples:
  cl ingest offering 12345
  cl ingest offering 12345 --quiet`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestOffering,
}

var ingestStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the most recent ingestion run",
	RunE:  runIngestStatus,
}

var ingestRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past ingestion runs, newest first",
	RunE:  runIngestRuns,
}

func init() {
	ingestCatalogCmd.Flags().BoolVarP(&ingestQuiet, "quiet", "q", false, "Suppress detailed output")
	ingestOfferingCmd.Flags().BoolVarP(&ingestQuiet, "quiet", "q", false, "Suppress detailed output")
	ingestStatusCmd.Flags().StringVarP(&ingestStatusFormat, "format", "f", "", "Output format (table, json, csv, yaml)")
	ingestRunsCmd.Flags().StringVarP(&ingestRunsFormat, "format", "f", "", "Output format (table, json, csv, yaml)")
	ingestRunsCmd.Flags().IntVar(&ingestRunsLimit, "limit", 10, "Maximum number of runs to list")
	ingestRunsCmd.Flags().StringVar(&ingestRunsScope, "scope", "", "Filter by scope (catalog or offering)")

	IngestCmd.AddCommand(ingestCatalogCmd)
	IngestCmd.AddCommand(ingestOfferingCmd)
	IngestCmd.AddCommand(ingestStatusCmd)
	IngestCmd.AddCommand(ingestRunsCmd)
}

// newEngine wires a reconciliation engine against the live Canvas API
// using the resolved configuration.
func newEngine(ctx context.Context, database *sql.DB) (*ledger.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Canvas.BaseURL == "" {
		return nil, errors.WithHint(
			errors.NewValidationf("canvas base URL not configured"),
			"run 'cl config set canvas.base_url https://canvas.example.edu'")
	}

	token, err := cfg.ResolveToken(ctx)
	if err != nil {
		return nil, err
	}

	client := canvas.NewClient(canvas.Config{
		BaseURL:           cfg.Canvas.BaseURL,
		Token:             token,
		PageSize:          cfg.Canvas.PageSize,
		Timeout:           time.Duration(cfg.Canvas.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.Canvas.RequestsPerSecond,
		Burst:             cfg.Canvas.Burst,
		IncludeConcluded:  cfg.Ingest.IncludeConcluded,
		Logger:            logger.Logger,
	})

	runs := ledger.NewRunStore(database, logger.Logger,
		time.Duration(cfg.Ingest.StaleLockGraceSeconds)*time.Second)
	return ledger.NewEngine(database, client, runs, logger.Logger), nil
}

func runIngestCatalog(cmd *cobra.Command, args []string) error {
	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	engine, err := newEngine(cmd.Context(), database)
	if err != nil {
		return err
	}

	if !ingestQuiet {
		fmt.Println("Fetching courses from Canvas...")
	}

	run, err := engine.IngestCatalog(cmd.Context())
	if err != nil {
		return err
	}

	if !ingestQuiet {
		cliSuccess("Catalog ingestion complete.")
		return printRunSummary(cmd.Context(), database, run)
	}
	return nil
}

func runIngestOffering(cmd *cobra.Command, args []string) error {
	offeringID, err := parseCanvasID(args[0], "canvas course ID")
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	engine, err := newEngine(cmd.Context(), database)
	if err != nil {
		return err
	}

	if !ingestQuiet {
		fmt.Printf("Deep ingesting offering %d...\n", offeringID)
	}

	run, err := engine.IngestOffering(cmd.Context(), offeringID)
	if err != nil {
		return err
	}

	if !ingestQuiet {
		cliSuccess(fmt.Sprintf("Deep ingestion complete for offering %d.", offeringID))
		return printRunSummary(cmd.Context(), database, run)
	}
	return nil
}

// printRunSummary prints the outcome counts of a finished run and, when
// drift was recorded, the first few changes behind it.
func printRunSummary(ctx context.Context, database *sql.DB, run *ledger.Run) error {
	fmt.Printf("  New:       %d\n", run.Counts.New)
	fmt.Printf("  Updated:   %d\n", run.Counts.Updated)
	fmt.Printf("  Unchanged: %d\n", run.Counts.Unchanged)
	fmt.Printf("  Total:     %d\n", run.Counts.New+run.Counts.Updated+run.Counts.Unchanged)

	if run.Counts.Drift == 0 {
		return nil
	}
	cliWarning(fmt.Sprintf("Drift detected in %d record(s).", run.Counts.Drift))

	changes, err := queries.NewProjector(database).ChangesByRun(ctx, run.ID)
	if err != nil {
		return err
	}
	const maxShown = 5
	for i, c := range changes {
		if i == maxShown {
			fmt.Printf("    ... and %d more\n", len(changes)-maxShown)
			break
		}
		fmt.Printf("    - %s %d: %s '%s' -> '%s'\n",
			c.EntityType, c.EntityCanvasID, c.FieldName,
			valueOrNull(c.OldValue), valueOrNull(c.NewValue))
	}
	return nil
}

// runRow is the serialized shape of a run for status and runs output.
type runRow struct {
	RunID         int64   `json:"run_id"`
	Scope         string  `json:"scope"`
	ScopeCanvasID *int64  `json:"scope_canvas_id"`
	Status        string  `json:"status"`
	StartedAt     string  `json:"started_at"`
	FinishedAt    *string `json:"finished_at"`
	New           int64   `json:"new_count"`
	Updated       int64   `json:"updated_count"`
	Unchanged     int64   `json:"unchanged_count"`
	Drift         int64   `json:"drift_count"`
	Error         *string `json:"error"`
}

var runHeaders = []string{
	"run_id", "scope", "scope_canvas_id", "status",
	"started_at", "finished_at",
	"new_count", "updated_count", "unchanged_count", "drift_count", "error",
}

func newRunRow(run *ledger.Run) *runRow {
	row := &runRow{
		RunID:         run.ID,
		Scope:         run.Scope,
		ScopeCanvasID: run.ScopeCanvasID,
		Status:        run.Status,
		StartedAt:     run.StartedAt.UTC().Format(time.RFC3339),
		New:           run.Counts.New,
		Updated:       run.Counts.Updated,
		Unchanged:     run.Counts.Unchanged,
		Drift:         run.Counts.Drift,
		Error:         run.Error,
	}
	if run.FinishedAt != nil {
		finished := run.FinishedAt.UTC().Format(time.RFC3339)
		row.FinishedAt = &finished
	}
	return row
}

func runIngestStatus(cmd *cobra.Command, args []string) error {
	format, err := resolveFormat(ingestStatusFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	rs := runStoreFor(database)
	runs, err := rs.ListRuns(cmd.Context(), "", 1)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No ingestion runs found.")
		return nil
	}

	row, err := renderableRun(cmd.Context(), rs, runs[0])
	if err != nil {
		return err
	}
	return display.Format(cmd.OutOrStdout(), row, format, runHeaders)
}

// renderableRun converts a run for output. A run that claims to be in
// progress but has no live lock holder was interrupted, and is shown as
// such rather than as forever running.
func renderableRun(ctx context.Context, rs *ledger.RunStore, run *ledger.Run) (*runRow, error) {
	stale, err := rs.Stale(ctx, run)
	if err != nil {
		return nil, err
	}
	row := newRunRow(run)
	if stale {
		row.Status = "interrupted"
	}
	return row, nil
}

func runIngestRuns(cmd *cobra.Command, args []string) error {
	format, err := resolveFormat(ingestRunsFormat)
	if err != nil {
		return err
	}
	if ingestRunsScope != "" &&
		ingestRunsScope != ledger.ScopeCatalog && ingestRunsScope != ledger.ScopeOffering {
		return errors.NewValidationf("unknown scope %q: must be catalog or offering", ingestRunsScope)
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	rs := runStoreFor(database)
	runs, err := rs.ListRuns(cmd.Context(), ingestRunsScope, ingestRunsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No ingestion runs found.")
		return nil
	}

	rows := make([]*runRow, 0, len(runs))
	for _, run := range runs {
		row, err := renderableRun(cmd.Context(), rs, run)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return display.Format(cmd.OutOrStdout(), rows, format, runHeaders)
}

// runStoreFor builds a run store for read-only run queries. The stale
// grace only matters when acquiring the run lock, so the configured
// value is not needed here.
func runStoreFor(database *sql.DB) *ledger.RunStore {
	return ledger.NewRunStore(database, logger.Logger, 0)
}
