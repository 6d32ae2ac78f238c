package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/canvasledger/cl/annotations"
	"github.com/canvasledger/cl/display"
	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/queries"
)

// AnnotateCmd represents the annotate command group
var AnnotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Manage annotations (declared truth alongside observed truth)",
	Long: `Manage annotations: your declared truth recorded alongside what
Canvas reports. Annotations never change observed data; both views
are preserved and query output shows them side by side.

Examples:
  cl annotate lead 12345 67890              # Declare the lead instructor
  cl annotate involvement 12345 "developed course"
  cl annotate list --offering 12345
  cl annotate alias create "BET 3510" 12345 67890`,
}

var (
	leadDesignation string

	annotateListOffering int64
	annotateListFormat   string

	removeKind  string
	removeForce bool
)

var annotateLeadCmd = &cobra.Command{
	Use:   "lead <canvas-course-id> <canvas-user-id>",
	Short: "Declare the lead or grade-responsible instructor",
	Long: `Declare the lead or grade-responsible instructor for an offering.
Use this when Canvas shows multiple instructors without saying who
actually ran the course. Declaring the same pair again replaces the
designation.

Examples:
  cl annotate lead 12345 67890
  cl annotate lead 12345 67890 -d grade_responsible`,
	Args: cobra.ExactArgs(2),
	RunE: runAnnotateLead,
}

var annotateInvolvementCmd = &cobra.Command{
	Use:   "involvement <canvas-course-id> <classification>",
	Short: "Classify your involvement in an offering",
	Long: `Classify your involvement in an offering when the Canvas role does
not tell the full story. Each offering holds at most one
classification; annotating again replaces it.

Examples:
  cl annotate involvement 12345 "developed course"
  cl annotate involvement 12345 "guest lecturer"
  cl annotate involvement 12345 "course coordinator"`,
	Args: cobra.ExactArgs(2),
	RunE: runAnnotateInvolvement,
}

var annotateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List annotations",
	Long: `List annotations of both kinds, oldest first. Use --offering to
restrict the listing to one course.

Examples:
  cl annotate list
  cl annotate list --offering 12345
  cl annotate list --format json`,
	Args: cobra.NoArgs,
	RunE: runAnnotateList,
}

var annotateRemoveCmd = &cobra.Command{
	Use:   "remove <annotation-id>",
	Short: "Remove an annotation by ID",
	Long: `Remove an annotation by ID. IDs are per annotation type, so --type
selects which table the ID addresses.

Examples:
  cl annotate remove 1 --type lead_instructor
  cl annotate remove 2 --type involvement --force`,
	Args: cobra.ExactArgs(1),
	RunE: runAnnotateRemove,
}

func init() {
	annotateLeadCmd.Flags().StringVarP(&leadDesignation, "designation", "d", annotations.DesignationLead,
		"Designation type: 'lead' or 'grade_responsible'")

	annotateListCmd.Flags().Int64VarP(&annotateListOffering, "offering", "o", 0, "Filter by Canvas course ID")
	annotateListCmd.Flags().StringVarP(&annotateListFormat, "format", "f", "", "Output format (table, json, csv, yaml)")

	annotateRemoveCmd.Flags().StringVarP(&removeKind, "type", "t", annotations.KindLeadInstructor,
		"Type of annotation: 'lead_instructor' or 'involvement'")
	annotateRemoveCmd.Flags().BoolVarP(&removeForce, "force", "y", false, "Skip confirmation prompt")

	AnnotateCmd.AddCommand(annotateLeadCmd)
	AnnotateCmd.AddCommand(annotateInvolvementCmd)
	AnnotateCmd.AddCommand(annotateListCmd)
	AnnotateCmd.AddCommand(annotateRemoveCmd)
	AnnotateCmd.AddCommand(annotateAliasCmd)
}

func runAnnotateLead(cmd *cobra.Command, args []string) error {
	offeringID, err := parseCanvasID(args[0], "canvas course ID")
	if err != nil {
		return err
	}
	personID, err := parseCanvasID(args[1], "canvas user ID")
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	annotation, personKnown, err := annotations.NewStore(database).AddLeadInstructor(
		cmd.Context(), offeringID, personID, leadDesignation)
	if err != nil {
		return err
	}

	cliSuccess(fmt.Sprintf("Lead instructor annotation added (ID: %d).", annotation.ID))
	fmt.Printf("  Offering: %d\n", annotation.OfferingCanvasID)
	fmt.Printf("  Person:   %d\n", annotation.PersonCanvasID)
	fmt.Printf("  Type:     %s\n", annotation.Designation)
	if !personKnown {
		cliWarning(fmt.Sprintf("person %d has not been observed in the ledger yet; the name will resolve after a deep ingest", personID))
	}
	return nil
}

func runAnnotateInvolvement(cmd *cobra.Command, args []string) error {
	offeringID, err := parseCanvasID(args[0], "canvas course ID")
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	annotation, err := annotations.NewStore(database).AddInvolvement(cmd.Context(), offeringID, args[1])
	if err != nil {
		return err
	}

	cliSuccess(fmt.Sprintf("Involvement annotation added (ID: %d).", annotation.ID))
	fmt.Printf("  Offering:       %d\n", annotation.OfferingCanvasID)
	fmt.Printf("  Classification: %s\n", annotation.Classification)
	return nil
}

// annotationRow is the serialized shape of one annotation.
type annotationRow struct {
	ID               int64   `json:"id"`
	Kind             string  `json:"annotation_type"`
	OfferingCanvasID int64   `json:"offering_canvas_id"`
	PersonCanvasID   *int64  `json:"person_canvas_id"`
	Designation      *string `json:"designation"`
	Classification   *string `json:"classification"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

var annotationHeaders = []string{
	"id", "annotation_type", "offering_canvas_id", "person_canvas_id",
	"designation", "classification", "created_at", "updated_at",
}

func runAnnotateList(cmd *cobra.Command, args []string) error {
	format, err := resolveFormat(annotateListFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	var filter *int64
	if annotateListOffering != 0 {
		filter = &annotateListOffering
	}
	list, err := annotations.NewStore(database).List(cmd.Context(), filter)
	if err != nil {
		return err
	}

	if len(list) == 0 {
		if filter != nil {
			fmt.Printf("No annotations found for offering %d.\n", *filter)
		} else {
			fmt.Println("No annotations found.")
		}
		return nil
	}

	if format != display.FormatTable {
		rows := make([]*annotationRow, 0, len(list))
		for _, a := range list {
			rows = append(rows, &annotationRow{
				ID:               a.ID,
				Kind:             a.Kind,
				OfferingCanvasID: a.OfferingCanvasID,
				PersonCanvasID:   a.PersonCanvasID,
				Designation:      a.Designation,
				Classification:   a.Classification,
				CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
				UpdatedAt:        a.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		return display.Format(cmd.OutOrStdout(), rows, format, annotationHeaders)
	}

	fmt.Printf("%-6s %-16s %-12s %-40s\n", "ID", "Type", "Offering", "Details")
	fmt.Println(strings.Repeat("-", 76))
	for _, a := range list {
		var details string
		if a.Kind == annotations.KindLeadInstructor {
			details = fmt.Sprintf("Person: %d, %s", *a.PersonCanvasID, *a.Designation)
		} else if a.Classification != nil {
			details = *a.Classification
		}
		fmt.Printf("%-6d %-16s %-12d %-40s\n", a.ID, a.Kind, a.OfferingCanvasID, details)
	}
	return nil
}

func runAnnotateRemove(cmd *cobra.Command, args []string) error {
	id, err := parseCanvasID(args[0], "annotation ID")
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	if !removeForce {
		if !confirm(fmt.Sprintf("Remove %s annotation ID %d?", removeKind, id)) {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := annotations.NewStore(database).Remove(cmd.Context(), id, removeKind); err != nil {
		return err
	}
	cliSuccess(fmt.Sprintf("Annotation %d removed.", id))
	return nil
}

var annotateAliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage course aliases",
	Long: `Manage course aliases, which group related offerings under one name.
Aliases solve the "same course, different IDs" problem: course
renumberings, special topics taught as different courses,
cross-listed courses.

Create an alias, add offerings to it, then query with
'cl query alias'.`,
}

var (
	aliasDescription string
	aliasDeleteForce bool
	aliasListFormat  string
	aliasShowFormat  string
)

var aliasCreateCmd = &cobra.Command{
	Use:   "create <name> [canvas-course-id...]",
	Short: "Create a new course alias",
	Long: `Create a new course alias, optionally seeded with member offerings.
Every seed offering must already be in the ledger.

Examples:
  cl annotate alias create "BET 3510"
  cl annotate alias create "Intro Programming" 12345 67890
  cl annotate alias create "Data Structures" --description "All DS offerings"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAliasCreate,
}

var aliasAddCmd = &cobra.Command{
	Use:   "add <name> <canvas-course-id>",
	Short: "Add an offering to an existing alias",
	Args:  cobra.ExactArgs(2),
	RunE:  runAliasAdd,
}

var aliasRemoveCmd = &cobra.Command{
	Use:   "remove <name> <canvas-course-id>",
	Short: "Remove an offering from an alias",
	Args:  cobra.ExactArgs(2),
	RunE:  runAliasRemove,
}

var aliasDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an alias and all its associations",
	Long: `Delete an alias and all its associations. Only the alias definition
is removed; the underlying offerings are not affected.`,
	Args: cobra.ExactArgs(1),
	RunE: runAliasDelete,
}

var aliasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all course aliases",
	Args:  cobra.NoArgs,
	RunE:  runAliasList,
}

var aliasShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show an alias and its offerings",
	Args:  cobra.ExactArgs(1),
	RunE:  runAliasShow,
}

func init() {
	aliasCreateCmd.Flags().StringVarP(&aliasDescription, "description", "d", "", "Optional description of the alias")
	aliasDeleteCmd.Flags().BoolVarP(&aliasDeleteForce, "force", "y", false, "Skip confirmation prompt")
	aliasListCmd.Flags().StringVarP(&aliasListFormat, "format", "f", "", "Output format (table, json, csv, yaml)")
	aliasShowCmd.Flags().StringVarP(&aliasShowFormat, "format", "f", "", "Output format (table, json, csv, yaml)")

	annotateAliasCmd.AddCommand(aliasCreateCmd)
	annotateAliasCmd.AddCommand(aliasAddCmd)
	annotateAliasCmd.AddCommand(aliasRemoveCmd)
	annotateAliasCmd.AddCommand(aliasDeleteCmd)
	annotateAliasCmd.AddCommand(aliasListCmd)
	annotateAliasCmd.AddCommand(aliasShowCmd)
}

func runAliasCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	ids := make([]int64, 0, len(args)-1)
	for _, arg := range args[1:] {
		id, err := parseCanvasID(arg, "canvas course ID")
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	var description *string
	if aliasDescription != "" {
		description = &aliasDescription
	}
	alias, err := annotations.NewAliasStore(database).Create(cmd.Context(), name, ids, description)
	if err != nil {
		return err
	}

	cliSuccess(fmt.Sprintf("Alias '%s' created (ID: %d).", alias.Name, alias.ID))
	if len(ids) > 0 {
		fmt.Printf("  Includes %d offering(s).\n", len(ids))
	}
	if description != nil {
		fmt.Printf("  Description: %s\n", *description)
	}
	return nil
}

func runAliasAdd(cmd *cobra.Command, args []string) error {
	offeringID, err := parseCanvasID(args[1], "canvas course ID")
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := annotations.NewAliasStore(database).AddMember(cmd.Context(), args[0], offeringID); err != nil {
		return err
	}
	cliSuccess(fmt.Sprintf("Offering %d added to alias '%s'.", offeringID, args[0]))
	return nil
}

func runAliasRemove(cmd *cobra.Command, args []string) error {
	offeringID, err := parseCanvasID(args[1], "canvas course ID")
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := annotations.NewAliasStore(database).RemoveMember(cmd.Context(), args[0], offeringID); err != nil {
		return err
	}
	cliSuccess(fmt.Sprintf("Offering %d removed from alias '%s'.", offeringID, args[0]))
	return nil
}

func runAliasDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	if !aliasDeleteForce {
		if !confirm(fmt.Sprintf("Delete alias '%s' and all its associations?", name)) {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := annotations.NewAliasStore(database).Delete(cmd.Context(), name); err != nil {
		return err
	}
	cliSuccess(fmt.Sprintf("Alias '%s' deleted.", name))
	return nil
}

// aliasRow is the serialized shape of one alias.
type aliasRow struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	OfferingCount int64   `json:"offering_count"`
	Description   *string `json:"description"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

var aliasHeaders = []string{
	"id", "name", "offering_count", "description", "created_at", "updated_at",
}

func newAliasRow(a *annotations.Alias) *aliasRow {
	return &aliasRow{
		ID:            a.ID,
		Name:          a.Name,
		OfferingCount: a.MemberCount,
		Description:   a.Description,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func runAliasList(cmd *cobra.Command, args []string) error {
	format, err := resolveFormat(aliasListFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	aliases, err := annotations.NewAliasStore(database).List(cmd.Context())
	if err != nil {
		return err
	}

	if len(aliases) == 0 {
		fmt.Println("No aliases found. Use 'cl annotate alias create' to create one.")
		return nil
	}

	if format != display.FormatTable {
		rows := make([]*aliasRow, 0, len(aliases))
		for _, a := range aliases {
			rows = append(rows, newAliasRow(a))
		}
		return display.Format(cmd.OutOrStdout(), rows, format, aliasHeaders)
	}

	fmt.Printf("%-25s %-10s %-40s\n", "Name", "Offerings", "Description")
	fmt.Println(strings.Repeat("-", 77))
	for _, a := range aliases {
		var desc string
		if a.Description != nil {
			desc = *a.Description
		}
		fmt.Printf("%-25s %-10d %-40s\n", truncate(a.Name, 24), a.MemberCount, truncate(desc, 39))
	}
	return nil
}

// truncate clips s for fixed-width table columns.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// aliasShowDoc is the json shape of alias show: the alias itself plus
// its member offerings.
type aliasShowDoc struct {
	ID          int64                         `json:"id"`
	Name        string                        `json:"name"`
	Description *string                       `json:"description"`
	CreatedAt   string                        `json:"created_at"`
	UpdatedAt   string                        `json:"updated_at"`
	Offerings   []*queries.AliasTimelineEntry `json:"offerings"`
}

// aliasShowRow flattens alias membership for csv output.
type aliasShowRow struct {
	AliasName        string  `json:"alias_name"`
	OfferingCanvasID int64   `json:"canvas_course_id"`
	OfferingName     *string `json:"offering_name"`
	OfferingCode     *string `json:"offering_code"`
}

var aliasShowHeaders = []string{
	"alias_name", "canvas_course_id", "offering_name", "offering_code",
}

func runAliasShow(cmd *cobra.Command, args []string) error {
	name := args[0]
	format, err := resolveFormat(aliasShowFormat)
	if err != nil {
		return err
	}

	database, _, err := openLedger(hintMigrateFirst)
	if err != nil {
		return err
	}
	defer database.Close()

	alias, err := annotations.NewAliasStore(database).Get(cmd.Context(), name)
	if err != nil {
		return err
	}
	if alias == nil {
		return errors.NewNotFoundf("alias %q does not exist", name)
	}

	entries, err := queries.NewProjector(database).AliasTimeline(cmd.Context(), name)
	if err != nil {
		return err
	}

	switch format {
	case display.FormatJSON, display.FormatYAML:
		doc := &aliasShowDoc{
			ID:          alias.ID,
			Name:        alias.Name,
			Description: alias.Description,
			CreatedAt:   alias.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:   alias.UpdatedAt.UTC().Format(time.RFC3339),
			Offerings:   entries,
		}
		return display.Format(cmd.OutOrStdout(), doc, format, nil)

	case display.FormatCSV:
		rows := make([]*aliasShowRow, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, &aliasShowRow{
				AliasName:        alias.Name,
				OfferingCanvasID: e.OfferingCanvasID,
				OfferingName:     e.OfferingName,
				OfferingCode:     e.OfferingCode,
			})
		}
		return display.Format(cmd.OutOrStdout(), rows, display.FormatCSV, aliasShowHeaders)

	default:
		fmt.Printf("Alias: %s\n", alias.Name)
		if alias.Description != nil {
			fmt.Printf("Description: %s\n", *alias.Description)
		}
		fmt.Printf("Created: %s\n", alias.CreatedAt.UTC().Format(time.RFC3339))
		fmt.Println()

		if len(entries) == 0 {
			fmt.Println("No offerings in this alias.")
			return nil
		}
		fmt.Printf("Offerings (%d):\n", len(entries))
		for _, e := range entries {
			if !e.InLedger {
				fmt.Printf("  - (not in ledger) (ID: %d)\n", e.OfferingCanvasID)
				continue
			}
			if e.OfferingCode != nil && *e.OfferingCode != "" {
				fmt.Printf("  - [%s] %s (ID: %d)\n", *e.OfferingCode, orNone(e.OfferingName), e.OfferingCanvasID)
			} else {
				fmt.Printf("  - %s (ID: %d)\n", orNone(e.OfferingName), e.OfferingCanvasID)
			}
		}
		return nil
	}
}
