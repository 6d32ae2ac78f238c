// Package testutil provides in-memory databases and row fixtures for
// tests across the ledger, annotations, and queries packages. Fixtures
// insert with raw SQL so this package stays importable from everywhere.
package testutil

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/canvasledger/cl/db"
)

// SetupTestDB creates an in-memory SQLite database with the full schema.
// Uses real migrations to ensure test schema matches production schema.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	// Every pooled connection to :memory: gets its own database, so pin
	// the pool to one connection or later queries see an empty schema.
	testDB.SetMaxOpenConns(1)

	// :memory: databases bypass db.Open, so set the pragma the schema
	// relies on ourselves.
	_, err = testDB.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	err = db.Migrate(testDB, nil)
	require.NoError(t, err, "Failed to run migrations")

	return testDB
}

// InsertTerm adds a term row. seenAt is used for both observed_at and
// last_seen_at.
func InsertTerm(t *testing.T, db *sql.DB, canvasID int64, name string, startDate *string, seenAt string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO term (canvas_id, name, start_date, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?)`, canvasID, name, startDate, seenAt, seenAt)
	require.NoError(t, err)
}

// InsertOffering adds an offering row.
func InsertOffering(t *testing.T, db *sql.DB, canvasID int64, name, code string, termCanvasID *int64, workflowState string, present bool, seenAt string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO offering (canvas_id, name, code, term_canvas_id, workflow_state, present, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		canvasID, name, code, termCanvasID, workflowState, present, seenAt, seenAt)
	require.NoError(t, err)
}

// InsertUserEnrollment adds one of the user's own enrollment rows.
func InsertUserEnrollment(t *testing.T, db *sql.DB, canvasID, offeringCanvasID int64, role, state string, present bool, seenAt string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO user_enrollment (canvas_id, offering_canvas_id, role, enrollment_state, present, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		canvasID, offeringCanvasID, role, state, present, seenAt, seenAt)
	require.NoError(t, err)
}

// InsertSection adds a section row.
func InsertSection(t *testing.T, db *sql.DB, canvasID, offeringCanvasID int64, name string, sisSectionID *string, present bool, seenAt string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO section (canvas_id, offering_canvas_id, name, sis_section_id, present, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		canvasID, offeringCanvasID, name, sisSectionID, present, seenAt, seenAt)
	require.NoError(t, err)
}

// InsertPerson adds a person row with no SIS or login ids.
func InsertPerson(t *testing.T, db *sql.DB, canvasID int64, name string, sortableName *string, seenAt string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO person (canvas_id, name, sortable_name, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?)`, canvasID, name, sortableName, seenAt, seenAt)
	require.NoError(t, err)
}

// EnrollmentRow is a roster enrollment fixture.
type EnrollmentRow struct {
	ID           int64
	OfferingID   int64
	PersonID     int64
	SectionID    *int64
	Role         string
	State        string
	CurrentGrade *string
	CurrentScore *float64
	FinalGrade   *string
	FinalScore   *float64
	Present      bool
	SeenAt       string
}

// InsertEnrollment adds a roster enrollment row. The offering and person
// rows must already exist.
func InsertEnrollment(t *testing.T, db *sql.DB, row EnrollmentRow) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO enrollment (canvas_id, offering_canvas_id, person_canvas_id, section_canvas_id,
			role, enrollment_state, current_grade, current_score, final_grade, final_score,
			present, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.OfferingID, row.PersonID, row.SectionID,
		row.Role, row.State, row.CurrentGrade, row.CurrentScore, row.FinalGrade, row.FinalScore,
		row.Present, row.SeenAt, row.SeenAt)
	require.NoError(t, err)
}

// InsertRun adds an ingest_run row and returns its id.
func InsertRun(t *testing.T, db *sql.DB, scope string, scopeCanvasID *int64, status, startedAt string) int64 {
	t.Helper()
	res, err := db.Exec(`
		INSERT INTO ingest_run (scope, scope_canvas_id, status, started_at)
		VALUES (?, ?, ?, ?)`, scope, scopeCanvasID, status, startedAt)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// InsertChange adds a change_log row.
func InsertChange(t *testing.T, db *sql.DB, entityType string, entityCanvasID int64, field string, oldValue, newValue *string, runID int64, observedAt string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO change_log (entity_type, entity_canvas_id, field_name, old_value, new_value, ingest_run_id, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entityType, entityCanvasID, field, oldValue, newValue, runID, observedAt)
	require.NoError(t, err)
}
