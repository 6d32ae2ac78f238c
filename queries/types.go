// Package queries answers questions about the ledger by composing the
// entity mirror, the annotation overlay, the alias index, and the change
// log. Every operation is a pure read returning plain structs; rendering
// is left entirely to the caller. The json tags are the serialization
// contract the CLI exposes, so field names here are load-bearing.
package queries

import (
	"time"
)

// TimelineFilter narrows the involvement timeline. Zero values mean no
// restriction; Term matches term names case-insensitively by substring,
// Role matches exactly.
type TimelineFilter struct {
	Term string
	Role string
}

// TimelineEntry is one offering in the caller's involvement timeline,
// merging observed roles with the declared involvement annotation.
type TimelineEntry struct {
	OfferingCanvasID    int64     `json:"canvas_course_id"`
	OfferingName        string    `json:"offering_name"`
	OfferingCode        string    `json:"offering_code"`
	WorkflowState       string    `json:"workflow_state"`
	TermName            *string   `json:"term_name"`
	TermStartDate       *string   `json:"term_start_date"`
	Roles               []string  `json:"observed_roles"`
	EnrollmentStates    []string  `json:"enrollment_states"`
	ObservedAt          time.Time `json:"observed_at"`
	LastSeenAt          time.Time `json:"last_seen_at"`
	DeclaredInvolvement *string   `json:"declared_involvement"`
}

// PersonHistoryEntry is one enrollment in a person's history across
// deep-ingested offerings.
type PersonHistoryEntry struct {
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

// GradeEntry is the grade slice of one student enrollment.
type GradeEntry struct {
	OfferingCanvasID int64    `json:"canvas_course_id"`
	OfferingName     string   `json:"offering_name"`
	OfferingCode     string   `json:"offering_code"`
	TermName         *string  `json:"term_name"`
	TermStartDate    *string  `json:"term_start_date"`
	SectionName      *string  `json:"section_name"`
	CurrentGrade     *string  `json:"current_grade"`
	CurrentScore     *float64 `json:"current_score"`
	FinalGrade       *string  `json:"final_grade"`
	FinalScore       *float64 `json:"final_score"`
	EnrollmentState  string   `json:"enrollment_state"`
}

// PersonGrades summarizes a person's student enrollments. Instructor
// enrollments carry no meaningful grade data and are excluded.
type PersonGrades struct {
	PersonCanvasID int64         `json:"canvas_user_id"`
	PersonName     string        `json:"person_name"`
	SortableName   *string       `json:"sortable_name"`
	Grades         []*GradeEntry `json:"grades"`
}

// RosterEntry is one person's enrollment on an offering roster.
type RosterEntry struct {
	PersonCanvasID  int64    `json:"canvas_user_id"`
	PersonName      string   `json:"person_name"`
	SortableName    *string  `json:"sortable_name"`
	SectionName     *string  `json:"section_name"`
	SectionCanvasID *int64   `json:"section_canvas_id"`
	Role            string   `json:"role"`
	EnrollmentState string   `json:"enrollment_state"`
	CurrentGrade    *string  `json:"current_grade"`
	CurrentScore    *float64 `json:"current_score"`
	FinalGrade      *string  `json:"final_grade"`
	FinalScore      *float64 `json:"final_score"`
}

// RosterSection groups roster entries under a section name, "(No
// Section)" when the enrollment carries none.
type RosterSection struct {
	Name    string         `json:"name"`
	Entries []*RosterEntry `json:"entries"`
}

// OfferingRoster is the full roster of an offering grouped by section.
type OfferingRoster struct {
	OfferingCanvasID int64            `json:"canvas_course_id"`
	OfferingName     string           `json:"offering_name"`
	OfferingCode     string           `json:"offering_code"`
	Sections         []*RosterSection `json:"sections"`
}

// Provenance tags for responsibility results.
const (
	SourceEnrollment     = "enrollment"
	SourceUserEnrollment = "user_enrollment"
)

// ObservedInstructor is an instructor seen in Canvas data. Source tells
// whether it came from a deep-ingested roster enrollment (with person
// identity) or from the caller's own catalog enrollment (without).
type ObservedInstructor struct {
	PersonCanvasID  *int64  `json:"canvas_user_id"`
	PersonName      *string `json:"person_name"`
	Role            string  `json:"role"`
	EnrollmentState string  `json:"enrollment_state"`
	Source          string  `json:"source"`
}

// DeclaredLead is a lead-instructor annotation with the person's name
// resolved when the ledger knows them.
type DeclaredLead struct {
	PersonCanvasID int64     `json:"person_canvas_id"`
	PersonName     *string   `json:"person_name"`
	Designation    string    `json:"designation"`
	CreatedAt      time.Time `json:"created_at"`
}

// OfferingResponsibility merges observed instructors with declared
// lead-instructor annotations, each side explicitly tagged.
type OfferingResponsibility struct {
	OfferingCanvasID    int64                 `json:"canvas_course_id"`
	OfferingName        string                `json:"offering_name"`
	OfferingCode        string                `json:"offering_code"`
	ObservedInstructors []*ObservedInstructor `json:"observed_instructors"`
	DeclaredLeads       []*DeclaredLead       `json:"declared_leads"`
}

// PersonDrift is the change history of a person and their enrollments.
type PersonDrift struct {
	PersonCanvasID int64          `json:"canvas_user_id"`
	PersonName     string         `json:"person_name"`
	Changes        []*ChangeEntry `json:"changes"`
}

// OfferingDrift is the change history of an offering, its sections, and
// its enrollments.
type OfferingDrift struct {
	OfferingCanvasID int64          `json:"canvas_course_id"`
	OfferingName     string         `json:"offering_name"`
	OfferingCode     string         `json:"offering_code"`
	Changes          []*ChangeEntry `json:"changes"`
}

// ChangeEntry is one recorded observation change.
type ChangeEntry struct {
	EntityType     string    `json:"entity_type"`
	EntityCanvasID int64     `json:"entity_canvas_id"`
	FieldName      string    `json:"field_name"`
	OldValue       *string   `json:"old_value"`
	NewValue       *string   `json:"new_value"`
	IngestRunID    int64     `json:"ingest_run_id"`
	ObservedAt     time.Time `json:"observed_at"`
}

// AliasTimelineEntry is one offering of an alias. InLedger is false for
// members that have not been ingested yet; their descriptive fields stay
// nil.
type AliasTimelineEntry struct {
	OfferingCanvasID int64   `json:"canvas_course_id"`
	InLedger         bool    `json:"in_ledger"`
	OfferingName     *string `json:"offering_name"`
	OfferingCode     *string `json:"offering_code"`
	WorkflowState    *string `json:"workflow_state"`
	TermName         *string `json:"term_name"`
	TermStartDate    *string `json:"term_start_date"`
}

// OfferingWithTerm is the flat export feed row: one offering joined with
// its term.
type OfferingWithTerm struct {
	OfferingCanvasID int64     `json:"canvas_course_id"`
	Name             string    `json:"name"`
	Code             string    `json:"code"`
	WorkflowState    string    `json:"workflow_state"`
	Present          bool      `json:"present"`
	TermName         *string   `json:"term_name"`
	TermStartDate    *string   `json:"term_start_date"`
	TermEndDate      *string   `json:"term_end_date"`
	ObservedAt       time.Time `json:"observed_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
}
