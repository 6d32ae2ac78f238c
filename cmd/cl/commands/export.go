package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canvasledger/cl/display"
	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/queries"
)

// ExportCmd represents the export command group
var ExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export ledger data for other tools",
	Long: `Export ledger data in JSON, CSV, or YAML for use by other tools.
Output goes to stdout for piping to files or other commands.

Examples:
  cl export offerings > courses.json
  cl export offerings --format csv > courses.csv
  cl export enrollments 12345 --format csv
  cl export person 67890`,
}

var exportFormat string

var exportOfferingsCmd = &cobra.Command{
	Use:   "offerings",
	Short: "Export all offerings with term information",
	Long: `Export the complete course catalog: Canvas ID, name, code, term,
dates, and observation timestamps.`,
	Args: cobra.NoArgs,
	RunE: runExportOfferings,
}

var exportEnrollmentsCmd = &cobra.Command{
	Use:   "enrollments <canvas-course-id>",
	Short: "Export the enrollment roster of an offering",
	Long: `Export every enrollment of an offering with person identity,
section, role, state, and grades. Requires a prior deep ingest of
the offering.`,
	Args: cobra.ExactArgs(1),
	RunE: runExportEnrollments,
}

var exportPersonCmd = &cobra.Command{
	Use:   "person <canvas-user-id>",
	Short: "Export a person's enrollment history",
	Long: `Export every enrollment recorded for a person across deep-ingested
offerings, with offering, term, section, role, state, and grades.`,
	Args: cobra.ExactArgs(1),
	RunE: runExportPerson,
}

func init() {
	for _, c := range []*cobra.Command{exportOfferingsCmd, exportEnrollmentsCmd, exportPersonCmd} {
		c.Flags().StringVarP(&exportFormat, "format", "f", "json", "Output format (json, csv, yaml)")
		ExportCmd.AddCommand(c)
	}
}

// resolveExportFormat validates an export --format flag. Export output
// is for machines, so the interactive table format is not accepted.
func resolveExportFormat(flag string) (string, error) {
	format, err := display.ParseFormat(flag)
	if err != nil {
		return "", err
	}
	if format == display.FormatTable {
		return "", errors.NewValidationf("export supports json, csv, and yaml output")
	}
	return format, nil
}

var exportOfferingHeaders = []string{
	"canvas_course_id", "name", "code", "workflow_state",
	"term_name", "term_start_date", "term_end_date", "observed_at", "last_seen_at",
}

func runExportOfferings(cmd *cobra.Command, args []string) error {
	format, err := resolveExportFormat(exportFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateIngest)
	if err != nil {
		return err
	}
	defer database.Close()

	offerings, err := queries.NewProjector(database).OfferingsWithTerms(cmd.Context())
	if err != nil {
		return err
	}
	if len(offerings) == 0 {
		fmt.Fprintln(os.Stderr, "No offerings found. Run 'cl ingest catalog' first.")
		return nil
	}

	return display.Format(cmd.OutOrStdout(), offerings, format, exportOfferingHeaders)
}

// enrollmentExportRow is one flattened roster enrollment.
type enrollmentExportRow struct {
	OfferingCanvasID int64    `json:"canvas_course_id"`
	OfferingName     string   `json:"offering_name"`
	SectionName      *string  `json:"section_name"`
	SectionCanvasID  *int64   `json:"section_canvas_id"`
	PersonCanvasID   int64    `json:"canvas_user_id"`
	PersonName       string   `json:"person_name"`
	SortableName     *string  `json:"sortable_name"`
	Role             string   `json:"role"`
	EnrollmentState  string   `json:"enrollment_state"`
	CurrentGrade     *string  `json:"current_grade"`
	CurrentScore     *float64 `json:"current_score"`
	FinalGrade       *string  `json:"final_grade"`
	FinalScore       *float64 `json:"final_score"`
}

var exportEnrollmentHeaders = []string{
	"canvas_course_id", "section_name", "canvas_user_id", "person_name", "sortable_name",
	"role", "enrollment_state", "current_grade", "current_score", "final_grade", "final_score",
}

func runExportEnrollments(cmd *cobra.Command, args []string) error {
	offeringID, err := parseCanvasID(args[0], "canvas course ID")
	if err != nil {
		return err
	}
	format, err := resolveExportFormat(exportFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateOnly)
	if err != nil {
		return err
	}
	defer database.Close()

	p := queries.NewProjector(database)
	off, err := p.OfferingByExternalID(cmd.Context(), offeringID)
	if err != nil {
		return err
	}
	if off == nil {
		return errors.WithHint(
			errors.NewNotFoundf("offering %d not found in local ledger", offeringID),
			"run 'cl ingest catalog' to fetch courses")
	}

	roster, err := p.OfferingRoster(cmd.Context(), offeringID)
	if err != nil {
		return err
	}
	if len(roster.Sections) == 0 {
		return errors.WithHint(
			errors.NewNotFoundf("no enrollment data for offering %d", offeringID),
			"run 'cl ingest offering <id>' to fetch enrollments")
	}

	var rows []*enrollmentExportRow
	for _, sec := range roster.Sections {
		for _, e := range sec.Entries {
			rows = append(rows, &enrollmentExportRow{
				OfferingCanvasID: offeringID,
				OfferingName:     roster.OfferingName,
				SectionName:      e.SectionName,
				SectionCanvasID:  e.SectionCanvasID,
				PersonCanvasID:   e.PersonCanvasID,
				PersonName:       e.PersonName,
				SortableName:     e.SortableName,
				Role:             e.Role,
				EnrollmentState:  e.EnrollmentState,
				CurrentGrade:     e.CurrentGrade,
				CurrentScore:     e.CurrentScore,
				FinalGrade:       e.FinalGrade,
				FinalScore:       e.FinalScore,
			})
		}
	}

	return display.Format(cmd.OutOrStdout(), rows, format, exportEnrollmentHeaders)
}

// personExportRow is one flattened enrollment of a person's history.
type personExportRow struct {
	PersonCanvasID   int64    `json:"canvas_user_id"`
	PersonName       string   `json:"person_name"`
	SortableName     *string  `json:"sortable_name"`
	OfferingCanvasID int64    `json:"canvas_course_id"`
	OfferingName     string   `json:"offering_name"`
	OfferingCode     string   `json:"offering_code"`
	TermName         *string  `json:"term_name"`
	TermStartDate    *string  `json:"term_start_date"`
	SectionName      *string  `json:"section_name"`
	SectionCanvasID  *int64   `json:"section_canvas_id"`
	Role             string   `json:"role"`
	EnrollmentState  string   `json:"enrollment_state"`
	CurrentGrade     *string  `json:"current_grade"`
	CurrentScore     *float64 `json:"current_score"`
	FinalGrade       *string  `json:"final_grade"`
	FinalScore       *float64 `json:"final_score"`
}

var exportPersonHeaders = []string{
	"canvas_user_id", "person_name", "canvas_course_id", "offering_name", "term_name",
	"section_name", "role", "enrollment_state",
	"current_grade", "current_score", "final_grade", "final_score",
}

func runExportPerson(cmd *cobra.Command, args []string) error {
	personID, err := parseCanvasID(args[0], "canvas user ID")
	if err != nil {
		return err
	}
	format, err := resolveExportFormat(exportFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateOnly)
	if err != nil {
		return err
	}
	defer database.Close()

	p := queries.NewProjector(database)
	history, err := p.PersonHistory(cmd.Context(), personID, "")
	if err != nil {
		return err
	}
	if history == nil {
		return errors.WithHint(
			errors.NewNotFoundf("person %d not found in local ledger", personID),
			"run 'cl ingest offering <id>' to fetch enrollment data")
	}
	if len(history) == 0 {
		return errors.NewNotFoundf("no enrollment data for person %d", personID)
	}

	person, err := p.PersonByExternalID(cmd.Context(), personID)
	if err != nil {
		return err
	}
	if person == nil {
		return errors.NewNotFoundf("person %d not found in local ledger", personID)
	}

	rows := make([]*personExportRow, 0, len(history))
	for _, e := range history {
		rows = append(rows, &personExportRow{
			PersonCanvasID:   person.CanvasID,
			PersonName:       person.Name,
			SortableName:     person.SortableName,
			OfferingCanvasID: e.OfferingCanvasID,
			OfferingName:     e.OfferingName,
			OfferingCode:     e.OfferingCode,
			TermName:         e.TermName,
			TermStartDate:    e.TermStartDate,
			SectionName:      e.SectionName,
			SectionCanvasID:  e.SectionCanvasID,
			Role:             e.Role,
			EnrollmentState:  e.EnrollmentState,
			CurrentGrade:     e.CurrentGrade,
			CurrentScore:     e.CurrentScore,
			FinalGrade:       e.FinalGrade,
			FinalScore:       e.FinalScore,
		})
	}

	return display.Format(cmd.OutOrStdout(), rows, format, exportPersonHeaders)
}
