package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/canvasledger/cl/display"
	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/ledger"
	"github.com/canvasledger/cl/queries"
)

// QueryCmd represents the query command group
var QueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Ask questions of the local ledger",
	Long: `Ask questions of the local ledger. Queries never touch the Canvas
API; they answer from whatever previous ingests observed.

Examples:
  cl query my-timeline                   # Which courses have I been in?
  cl query my-timeline --term "Fall 2024" --role teacher
  cl query offering 12345 --roster       # Who was in this course?
  cl query offering 12345 --instructors  # Who was responsible for it?
  cl query person 67890                  # Where has this person appeared?
  cl query grades 67890                  # Their grades as a student
  cl query drift offering 12345          # What changed over time?
  cl query alias "BET 3510"              # One course across renumberings`,
}

var (
	timelineFormat string
	timelineTerm   string
	timelineRole   string

	offeringInstructors bool
	offeringRoster      bool
	offeringFormat      string

	personFormat string
	personAlias  string

	gradesFormat string
	driftFormat  string
	aliasFormat  string
)

var queryTimelineCmd = &cobra.Command{
	Use:   "my-timeline",
	Short: "Show every offering you have been involved in",
	Long: `Show every offering you have been involved in, most recent term
first, with your observed roles and any declared involvement
annotation.

Examples:
  cl query my-timeline
  cl query my-timeline --term "Fall 2024"
  cl query my-timeline --role teacher --format json`,
	Args: cobra.NoArgs,
	RunE: runQueryTimeline,
}

var queryOfferingCmd = &cobra.Command{
	Use:   "offering <canvas-course-id>",
	Short: "Show one offering, its roster, or its instructors",
	Long: `Show basic information about one offering. --roster prints the full
enrollment roster grouped by section; --instructors prints observed
instructors alongside the declared lead annotation.

Roster data requires a deep ingest: run 'cl ingest offering <id>'
first.

Examples:
  cl query offering 12345
  cl query offering 12345 --instructors
  cl query offering 12345 --roster --format csv`,
	Args: cobra.ExactArgs(1),
	RunE: runQueryOffering,
}

var queryPersonCmd = &cobra.Command{
	Use:   "person <canvas-user-id>",
	Short: "Show a person's enrollment history",
	Long: `Show every enrollment recorded for a person across deep-ingested
offerings, most recent term first. --alias restricts the history to
the offerings of one alias.

Examples:
  cl query person 67890
  cl query person 67890 --alias "BET 3510"
  cl query person 67890 --format csv`,
	Args: cobra.ExactArgs(1),
	RunE: runQueryPerson,
}

var queryGradesCmd = &cobra.Command{
	Use:   "grades <canvas-user-id>",
	Short: "Show a person's grades as a student",
	Long: `Show the grade snapshots recorded for a person's student
enrollments, most recent term first. Instructor enrollments are
excluded.`,
	Args: cobra.ExactArgs(1),
	RunE: runQueryGrades,
}

var queryDriftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Show recorded change history",
}

var queryDriftPersonCmd = &cobra.Command{
	Use:   "person <canvas-user-id>",
	Short: "Show every recorded change for a person",
	Long: `Show every recorded change for a person and their enrollments,
newest first: grade updates, enrollment state transitions, and
appearances or disappearances between ingests.`,
	Args: cobra.ExactArgs(1),
	RunE: runQueryDriftPerson,
}

var queryDriftOfferingCmd = &cobra.Command{
	Use:   "offering <canvas-course-id>",
	Short: "Show every recorded change for an offering",
	Long: `Show every recorded change for an offering, its sections, and its
enrollments, newest first. Useful for tracking adds, drops, and
workflow state transitions across ingestion runs.`,
	Args: cobra.ExactArgs(1),
	RunE: runQueryDriftOffering,
}

var queryAliasCmd = &cobra.Command{
	Use:   "alias <name>",
	Short: "Show an alias's offerings across terms",
	Long: `Show the offerings grouped under an alias, most recent term first.
Members that have not been ingested yet are listed as placeholders
until a catalog ingest observes them.`,
	Args: cobra.ExactArgs(1),
	RunE: runQueryAlias,
}

func init() {
	queryTimelineCmd.Flags().StringVarP(&timelineFormat, "format", "f", "", "Output format (table, json, csv, yaml)")
	queryTimelineCmd.Flags().StringVarP(&timelineTerm, "term", "t", "", "Filter by term name (substring match)")
	queryTimelineCmd.Flags().StringVarP(&timelineRole, "role", "r", "", "Filter by observed role (e.g., teacher, student)")

	queryOfferingCmd.Flags().BoolVarP(&offeringInstructors, "instructors", "i", false, "Show instructor responsibility")
	queryOfferingCmd.Flags().BoolVarP(&offeringRoster, "roster", "r", false, "Show the full roster grouped by section")
	queryOfferingCmd.Flags().StringVarP(&offeringFormat, "format", "f", "", "Output format (table, json, csv, yaml)")

	queryPersonCmd.Flags().StringVarP(&personAlias, "alias", "a", "", "Restrict history to one alias's offerings")
	queryPersonCmd.Flags().StringVarP(&personFormat, "format", "f", "", "Output format (table, json, csv, yaml)")

	queryGradesCmd.Flags().StringVarP(&gradesFormat, "format", "f", "", "Output format (table, json, csv, yaml)")

	queryDriftPersonCmd.Flags().StringVarP(&driftFormat, "format", "f", "", "Output format (table, json, csv, yaml)")
	queryDriftOfferingCmd.Flags().StringVarP(&driftFormat, "format", "f", "", "Output format (table, json, csv, yaml)")
	queryDriftCmd.AddCommand(queryDriftPersonCmd)
	queryDriftCmd.AddCommand(queryDriftOfferingCmd)

	queryAliasCmd.Flags().StringVarP(&aliasFormat, "format", "f", "", "Output format (table, json, csv, yaml)")

	QueryCmd.AddCommand(queryTimelineCmd)
	QueryCmd.AddCommand(queryOfferingCmd)
	QueryCmd.AddCommand(queryPersonCmd)
	QueryCmd.AddCommand(queryGradesCmd)
	QueryCmd.AddCommand(queryDriftCmd)
	QueryCmd.AddCommand(queryAliasCmd)
}

var timelineHeaders = []string{
	"offering_name", "offering_code", "term_name",
	"observed_roles", "declared_involvement", "workflow_state",
}

func runQueryTimeline(cmd *cobra.Command, args []string) error {
	format, err := resolveFormat(timelineFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateIngest)
	if err != nil {
		return err
	}
	defer database.Close()

	entries, err := queries.NewProjector(database).Timeline(cmd.Context(), queries.TimelineFilter{
		Term: timelineTerm,
		Role: timelineRole,
	})
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		if timelineTerm != "" || timelineRole != "" {
			fmt.Println("No offerings found matching the specified filters.")
		} else {
			fmt.Println("No offerings found. Run 'cl ingest catalog' to fetch your courses.")
		}
		return nil
	}

	return display.Format(cmd.OutOrStdout(), entries, format, timelineHeaders)
}

// offeringRow is the serialized shape of a single offering.
type offeringRow struct {
	OfferingCanvasID int64  `json:"canvas_course_id"`
	Name             string `json:"name"`
	Code             string `json:"code"`
	WorkflowState    string `json:"workflow_state"`
	Present          bool   `json:"present"`
	ObservedAt       string `json:"observed_at"`
	LastSeenAt       string `json:"last_seen_at"`
}

func newOfferingRow(off *ledger.Offering) *offeringRow {
	return &offeringRow{
		OfferingCanvasID: off.CanvasID,
		Name:             off.Name,
		Code:             off.Code,
		WorkflowState:    off.WorkflowState,
		Present:          off.Present,
		ObservedAt:       off.ObservedAt.UTC().Format(time.RFC3339),
		LastSeenAt:       off.LastSeenAt.UTC().Format(time.RFC3339),
	}
}

func runQueryOffering(cmd *cobra.Command, args []string) error {
	offeringID, err := parseCanvasID(args[0], "canvas course ID")
	if err != nil {
		return err
	}
	format, err := resolveFormat(offeringFormat)
	if err != nil {
		return err
	}
	if offeringInstructors && offeringRoster {
		return errors.NewValidationf("--instructors and --roster cannot be combined")
	}

	database, _, err := openLedger(hintMigrateIngest)
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

	switch {
	case offeringRoster:
		roster, err := p.OfferingRoster(cmd.Context(), offeringID)
		if err != nil {
			return err
		}
		if len(roster.Sections) == 0 {
			fmt.Printf("No enrollments found for offering %d.\n", offeringID)
			fmt.Println("Run 'cl ingest offering <id>' to fetch enrollment data.")
			return nil
		}
		return renderRoster(cmd.OutOrStdout(), roster, format)

	case offeringInstructors:
		resp, err := p.OfferingResponsibility(cmd.Context(), offeringID)
		if err != nil {
			return err
		}
		return renderInstructors(cmd.OutOrStdout(), resp, format)

	default:
		if format == display.FormatTable {
			fmt.Printf("Name: %s\n", off.Name)
			fmt.Printf("Code: %s\n", emptyAsNone(off.Code))
			fmt.Printf("Canvas ID: %d\n", off.CanvasID)
			fmt.Printf("Workflow State: %s\n", off.WorkflowState)
			fmt.Printf("Observed At: %s\n", off.ObservedAt.UTC().Format(time.RFC3339))
			fmt.Printf("Last Seen At: %s\n", off.LastSeenAt.UTC().Format(time.RFC3339))
			return nil
		}
		return display.Format(cmd.OutOrStdout(), newOfferingRow(off), format, nil)
	}
}

var rosterHeaders = []string{
	"section_name", "person_name", "canvas_user_id", "role", "enrollment_state",
}

func renderRoster(w io.Writer, roster *queries.OfferingRoster, format string) error {
	switch format {
	case display.FormatJSON, display.FormatYAML:
		return display.Format(w, roster, format, nil)

	case display.FormatCSV:
		var rows []*queries.RosterEntry
		for _, sec := range roster.Sections {
			rows = append(rows, sec.Entries...)
		}
		return display.Format(w, rows, display.FormatCSV, rosterHeaders)

	default:
		fmt.Fprintf(w, "Roster for: %s\n", roster.OfferingName)
		fmt.Fprintf(w, "Code: %s\n", emptyAsNone(roster.OfferingCode))
		fmt.Fprintf(w, "Canvas ID: %d\n", roster.OfferingCanvasID)
		fmt.Fprintln(w)
		for _, sec := range roster.Sections {
			fmt.Fprintf(w, "Section: %s (%d enrollments)\n", sec.Name, len(sec.Entries))
			for _, e := range sec.Entries {
				line := fmt.Sprintf("  - %s (%s, %s)", e.PersonName, e.Role, e.EnrollmentState)
				if e.CurrentGrade != nil || e.FinalGrade != nil {
					grade := e.CurrentGrade
					if grade == nil {
						grade = e.FinalGrade
					}
					line += fmt.Sprintf(" [%s]", *grade)
				}
				fmt.Fprintln(w, line)
			}
			fmt.Fprintln(w)
		}
		return nil
	}
}

// instructorRow flattens responsibility data for csv output.
type instructorRow struct {
	OfferingCanvasID int64   `json:"canvas_course_id"`
	OfferingName     string  `json:"offering_name"`
	CanvasUserID     *int64  `json:"canvas_user_id"`
	PersonName       string  `json:"person_name"`
	Role             string  `json:"role"`
	EnrollmentState  string  `json:"enrollment_state"`
	Source           string  `json:"source"`
	IsDeclaredLead   string  `json:"is_declared_lead"`
}

var instructorHeaders = []string{
	"canvas_course_id", "offering_name", "canvas_user_id", "person_name",
	"role", "enrollment_state", "source", "is_declared_lead",
}

func renderInstructors(w io.Writer, resp *queries.OfferingResponsibility, format string) error {
	switch format {
	case display.FormatJSON, display.FormatYAML:
		return display.Format(w, resp, format, nil)

	case display.FormatCSV:
		leadIDs := make(map[int64]bool, len(resp.DeclaredLeads))
		for _, lead := range resp.DeclaredLeads {
			leadIDs[lead.PersonCanvasID] = true
		}
		rows := make([]*instructorRow, 0, len(resp.ObservedInstructors))
		for _, inst := range resp.ObservedInstructors {
			row := &instructorRow{
				OfferingCanvasID: resp.OfferingCanvasID,
				OfferingName:     resp.OfferingName,
				CanvasUserID:     inst.PersonCanvasID,
				PersonName:       "(your enrollment)",
				Role:             inst.Role,
				EnrollmentState:  inst.EnrollmentState,
				Source:           inst.Source,
				IsDeclaredLead:   "no",
			}
			if inst.PersonName != nil {
				row.PersonName = *inst.PersonName
			}
			if inst.PersonCanvasID != nil && leadIDs[*inst.PersonCanvasID] {
				row.IsDeclaredLead = "yes"
			}
			rows = append(rows, row)
		}
		return display.Format(w, rows, display.FormatCSV, instructorHeaders)

	default:
		fmt.Fprintf(w, "Offering: %s\n", resp.OfferingName)
		fmt.Fprintf(w, "Code: %s\n", emptyAsNone(resp.OfferingCode))
		fmt.Fprintf(w, "Canvas ID: %d\n", resp.OfferingCanvasID)
		fmt.Fprintln(w)

		fmt.Fprintln(w, "Observed Instructors:")
		if len(resp.ObservedInstructors) == 0 {
			fmt.Fprintln(w, "  (none - run 'cl ingest offering' to fetch instructor enrollments)")
		}
		for _, inst := range resp.ObservedInstructors {
			if inst.PersonCanvasID != nil && inst.PersonName != nil {
				fmt.Fprintf(w, "  - %s (ID: %d) - %s, %s\n",
					*inst.PersonName, *inst.PersonCanvasID, inst.Role, inst.EnrollmentState)
			} else {
				fmt.Fprintf(w, "  - Role: %s, State: %s\n", inst.Role, inst.EnrollmentState)
			}
		}
		fmt.Fprintln(w)

		fmt.Fprintln(w, "Declared Lead:")
		if len(resp.DeclaredLeads) == 0 {
			fmt.Fprintln(w, "  (not set - use 'cl annotate lead' to declare)")
		}
		for _, lead := range resp.DeclaredLeads {
			name := "(unknown)"
			if lead.PersonName != nil {
				name = *lead.PersonName
			}
			fmt.Fprintf(w, "  %s (ID: %d)\n", name, lead.PersonCanvasID)
			fmt.Fprintf(w, "  Designation: %s\n", lead.Designation)
			fmt.Fprintf(w, "  Added: %s\n", lead.CreatedAt.UTC().Format(time.RFC3339))
		}
		return nil
	}
}

// personHistoryDoc is the json shape of a person query: identity plus
// their enrollment history.
type personHistoryDoc struct {
	PersonCanvasID int64                         `json:"canvas_user_id"`
	PersonName     string                        `json:"person_name"`
	SortableName   *string                       `json:"sortable_name"`
	Enrollments    []*queries.PersonHistoryEntry `json:"enrollments"`
}

var personHistoryHeaders = []string{
	"offering_name", "offering_code", "term_name", "section_name",
	"role", "enrollment_state", "current_grade", "final_grade",
}

// errPersonNotFound builds the shared not-found error for person
// queries.
func errPersonNotFound(personID int64) error {
	return errors.WithHint(
		errors.NewNotFoundf("person %d not found in local ledger", personID),
		"this person may not have been encountered during deep ingestion; run 'cl ingest offering <id>' to fetch enrollment data for specific offerings")
}

func runQueryPerson(cmd *cobra.Command, args []string) error {
	personID, err := parseCanvasID(args[0], "canvas user ID")
	if err != nil {
		return err
	}
	format, err := resolveFormat(personFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateOnly)
	if err != nil {
		return err
	}
	defer database.Close()

	p := queries.NewProjector(database)
	history, err := p.PersonHistory(cmd.Context(), personID, personAlias)
	if err != nil {
		return err
	}
	if history == nil {
		return errPersonNotFound(personID)
	}

	person, err := p.PersonByExternalID(cmd.Context(), personID)
	if err != nil {
		return err
	}
	if person == nil {
		return errPersonNotFound(personID)
	}

	if len(history) == 0 {
		fmt.Printf("Person: %s\n", person.Name)
		fmt.Printf("Canvas User ID: %d\n", person.CanvasID)
		fmt.Println()
		fmt.Println("No enrollments found for this person.")
		return nil
	}

	switch format {
	case display.FormatJSON, display.FormatYAML:
		doc := &personHistoryDoc{
			PersonCanvasID: person.CanvasID,
			PersonName:     person.Name,
			SortableName:   person.SortableName,
			Enrollments:    history,
		}
		return display.Format(cmd.OutOrStdout(), doc, format, nil)

	case display.FormatCSV:
		return display.Format(cmd.OutOrStdout(), history, display.FormatCSV, personHistoryHeaders)

	default:
		fmt.Printf("Person: %s\n", person.Name)
		fmt.Printf("Canvas User ID: %d\n", person.CanvasID)
		if person.SortableName != nil {
			fmt.Printf("Sortable Name: %s\n", *person.SortableName)
		}
		if person.SISUserID != nil {
			fmt.Printf("SIS User ID: %s\n", *person.SISUserID)
		}
		fmt.Println()
		fmt.Printf("Enrollment History (%d enrollments):\n", len(history))
		fmt.Println()

		currentTerm := ""
		for _, e := range history {
			term := "(No Term)"
			if e.TermName != nil {
				term = *e.TermName
			}
			if term != currentTerm {
				currentTerm = term
				fmt.Printf("  %s\n", term)
			}
			line := fmt.Sprintf("    - %s", e.OfferingName)
			if e.SectionName != nil {
				line += fmt.Sprintf(" (%s)", *e.SectionName)
			}
			fmt.Println(line)
			detail := fmt.Sprintf("      %s, %s", e.Role, e.EnrollmentState)
			if e.CurrentGrade != nil || e.FinalGrade != nil {
				grade := e.FinalGrade
				if grade == nil {
					grade = e.CurrentGrade
				}
				detail += fmt.Sprintf(" [Grade: %s]", *grade)
			}
			fmt.Println(detail)
		}
		return nil
	}
}

var gradeHeaders = []string{
	"canvas_course_id", "offering_name", "offering_code", "term_name", "section_name",
	"current_grade", "current_score", "final_grade", "final_score", "enrollment_state",
}

func runQueryGrades(cmd *cobra.Command, args []string) error {
	personID, err := parseCanvasID(args[0], "canvas user ID")
	if err != nil {
		return err
	}
	format, err := resolveFormat(gradesFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateOnly)
	if err != nil {
		return err
	}
	defer database.Close()

	grades, err := queries.NewProjector(database).PersonGrades(cmd.Context(), personID)
	if err != nil {
		return err
	}
	if grades == nil {
		return errPersonNotFound(personID)
	}

	if len(grades.Grades) == 0 {
		fmt.Printf("Person: %s\n", grades.PersonName)
		fmt.Printf("Canvas User ID: %d\n", grades.PersonCanvasID)
		fmt.Println()
		fmt.Println("No student enrollments found for this person.")
		return nil
	}

	switch format {
	case display.FormatJSON, display.FormatYAML:
		return display.Format(cmd.OutOrStdout(), grades, format, nil)

	case display.FormatCSV:
		return display.Format(cmd.OutOrStdout(), grades.Grades, display.FormatCSV, gradeHeaders)

	default:
		fmt.Printf("Person: %s\n", grades.PersonName)
		fmt.Printf("Canvas User ID: %d\n", grades.PersonCanvasID)
		if grades.SortableName != nil {
			fmt.Printf("Sortable Name: %s\n", *grades.SortableName)
		}
		fmt.Println()
		fmt.Printf("Grades (%d student enrollments):\n", len(grades.Grades))
		fmt.Println()

		currentTerm := ""
		for _, g := range grades.Grades {
			term := "(No Term)"
			if g.TermName != nil {
				term = *g.TermName
			}
			if term != currentTerm {
				currentTerm = term
				fmt.Printf("  %s\n", term)
			}
			line := fmt.Sprintf("    - %s", g.OfferingName)
			if g.SectionName != nil {
				line += fmt.Sprintf(" (%s)", *g.SectionName)
			}
			fmt.Println(line)
			fmt.Printf("      current: %s  final: %s\n",
				gradeCell(g.CurrentGrade, g.CurrentScore),
				gradeCell(g.FinalGrade, g.FinalScore))
		}
		return nil
	}
}

// gradeCell renders one grade/score pair for table output.
func gradeCell(grade *string, score *float64) string {
	switch {
	case grade != nil && score != nil:
		return fmt.Sprintf("%s (%.1f)", *grade, *score)
	case grade != nil:
		return *grade
	case score != nil:
		return fmt.Sprintf("%.1f", *score)
	default:
		return "(none)"
	}
}

var (
	personDriftHeaders = []string{
		"observed_at", "entity_type", "field_name",
		"old_value", "new_value", "ingest_run_id",
	}
	offeringDriftHeaders = []string{
		"observed_at", "entity_type", "entity_canvas_id", "field_name",
		"old_value", "new_value", "ingest_run_id",
	}
)

func runQueryDriftPerson(cmd *cobra.Command, args []string) error {
	personID, err := parseCanvasID(args[0], "canvas user ID")
	if err != nil {
		return err
	}
	format, err := resolveFormat(driftFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateOnly)
	if err != nil {
		return err
	}
	defer database.Close()

	drift, err := queries.NewProjector(database).PersonDrift(cmd.Context(), personID)
	if err != nil {
		return err
	}
	if drift == nil {
		return errPersonNotFound(personID)
	}
	if len(drift.Changes) == 0 {
		fmt.Println("No changes recorded for this person.")
		return nil
	}

	switch format {
	case display.FormatJSON, display.FormatYAML:
		return display.Format(cmd.OutOrStdout(), drift, format, nil)
	case display.FormatCSV:
		return display.Format(cmd.OutOrStdout(), drift.Changes, display.FormatCSV, personDriftHeaders)
	default:
		fmt.Printf("Person: %s\n", drift.PersonName)
		fmt.Printf("Canvas User ID: %d\n", drift.PersonCanvasID)
		printChangeHistory(cmd.OutOrStdout(), drift.Changes)
		return nil
	}
}

func runQueryDriftOffering(cmd *cobra.Command, args []string) error {
	offeringID, err := parseCanvasID(args[0], "canvas course ID")
	if err != nil {
		return err
	}
	format, err := resolveFormat(driftFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateOnly)
	if err != nil {
		return err
	}
	defer database.Close()

	drift, err := queries.NewProjector(database).OfferingDrift(cmd.Context(), offeringID)
	if err != nil {
		return err
	}
	if drift == nil {
		return errors.WithHint(
			errors.NewNotFoundf("offering %d not found in local ledger", offeringID),
			"run 'cl ingest catalog' to fetch courses")
	}
	if len(drift.Changes) == 0 {
		fmt.Println("No changes recorded for this offering.")
		return nil
	}

	switch format {
	case display.FormatJSON, display.FormatYAML:
		return display.Format(cmd.OutOrStdout(), drift, format, nil)
	case display.FormatCSV:
		return display.Format(cmd.OutOrStdout(), drift.Changes, display.FormatCSV, offeringDriftHeaders)
	default:
		fmt.Printf("Offering: %s\n", drift.OfferingName)
		fmt.Printf("Code: %s\n", emptyAsNone(drift.OfferingCode))
		fmt.Printf("Canvas ID: %d\n", drift.OfferingCanvasID)
		printChangeHistory(cmd.OutOrStdout(), drift.Changes)
		return nil
	}
}

func printChangeHistory(w io.Writer, changes []*queries.ChangeEntry) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Change History (%d changes):\n", len(changes))
	fmt.Fprintln(w)
	for _, c := range changes {
		fmt.Fprintf(w, "  [%s] %s/%d: %s\n",
			c.ObservedAt.UTC().Format("2006-01-02 15:04"),
			c.EntityType, c.EntityCanvasID, c.FieldName)
		fmt.Fprintf(w, "    '%s' -> '%s'\n", valueOrNull(c.OldValue), valueOrNull(c.NewValue))
	}
}

var aliasTimelineHeaders = []string{
	"canvas_course_id", "in_ledger", "offering_name", "offering_code",
	"workflow_state", "term_name", "term_start_date",
}

func runQueryAlias(cmd *cobra.Command, args []string) error {
	name := args[0]
	format, err := resolveFormat(aliasFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateOnly)
	if err != nil {
		return err
	}
	defer database.Close()

	entries, err := queries.NewProjector(database).AliasTimeline(cmd.Context(), name)
	if err != nil {
		return err
	}
	if entries == nil {
		return errors.WithHint(
			errors.NewNotFoundf("alias %q does not exist", name),
			"run 'cl annotate alias list' to see defined aliases")
	}

	if len(entries) == 0 {
		fmt.Printf("Alias '%s' has no offerings. Use 'cl annotate alias add' to add some.\n", name)
		return nil
	}

	switch format {
	case display.FormatJSON, display.FormatYAML:
		return display.Format(cmd.OutOrStdout(), entries, format, nil)
	case display.FormatCSV:
		return display.Format(cmd.OutOrStdout(), entries, display.FormatCSV, aliasTimelineHeaders)
	default:
		fmt.Printf("Alias: %s\n", name)
		fmt.Println()
		fmt.Printf("Offerings (%d):\n", len(entries))

		currentGroup := ""
		for _, e := range entries {
			group := "(Not in ledger)"
			if e.InLedger {
				group = "(No Term)"
				if e.TermName != nil {
					group = *e.TermName
				}
			}
			if group != currentGroup {
				currentGroup = group
				fmt.Printf("  %s\n", group)
			}
			if !e.InLedger {
				fmt.Printf("    - %d\n", e.OfferingCanvasID)
				continue
			}
			line := "    - "
			if e.OfferingCode != nil && *e.OfferingCode != "" {
				line += fmt.Sprintf("[%s] ", *e.OfferingCode)
			}
			line += fmt.Sprintf("%s (ID: %d)", orNone(e.OfferingName), e.OfferingCanvasID)
			fmt.Println(line)
		}
		return nil
	}
}
