// Package ledger implements the reconciliation core: a local mirror of
// the Canvas entities visible to one user, plus the append-only change
// log produced by diffing each new observation against the mirror.
package ledger

import "time"

// Entity type tags as recorded in change_log.entity_type.
const (
	EntityTerm           = "term"
	EntityOffering       = "offering"
	EntityUserEnrollment = "user_enrollment"
	EntitySection        = "section"
	EntityPerson         = "person"
	EntityEnrollment     = "enrollment"
)

// Term is an enrollment term. Terms are global and are never marked
// absent.
type Term struct {
	CanvasID   int64
	Name       string
	StartDate  *string
	EndDate    *string
	ObservedAt time.Time
	LastSeenAt time.Time
}

// Offering is a Canvas course as seen from the authenticated user's
// catalog.
type Offering struct {
	CanvasID      int64
	Name          string
	Code          string
	TermCanvasID  *int64
	WorkflowState string
	Present       bool
	ObservedAt    time.Time
	LastSeenAt    time.Time
}

// UserEnrollment is the authenticated user's own enrollment in an
// offering, observed by the shallow catalog pass.
type UserEnrollment struct {
	CanvasID         int64
	OfferingCanvasID int64
	Role             string
	EnrollmentState  string
	Present          bool
	ObservedAt       time.Time
	LastSeenAt       time.Time
}

// Section is a section of an offering, observed by the deep pass.
type Section struct {
	CanvasID         int64
	OfferingCanvasID int64
	Name             string
	SISSectionID     *string
	Present          bool
	ObservedAt       time.Time
	LastSeenAt       time.Time
}

// Person is anyone who appears on a roster. People are global and are
// never marked absent; leaving a course is enrollment drift, not person
// drift.
type Person struct {
	CanvasID     int64
	Name         string
	SortableName *string
	SISUserID    *string
	LoginID      *string
	ObservedAt   time.Time
	LastSeenAt   time.Time
}

// Enrollment is a full roster row for an offering, including the grade
// snapshot, observed by the deep pass.
type Enrollment struct {
	CanvasID         int64
	OfferingCanvasID int64
	PersonCanvasID   int64
	SectionCanvasID  *int64
	Role             string
	EnrollmentState  string
	CurrentGrade     *string
	CurrentScore     *float64
	FinalGrade       *string
	FinalScore       *float64
	Present          bool
	ObservedAt       time.Time
	LastSeenAt       time.Time
}

// Canvas role names that carry teaching responsibility. Custom roles fall
// back to their base type name, so both forms appear here.
var instructorRoles = map[string]bool{
	"TeacherEnrollment":  true,
	"TaEnrollment":       true,
	"DesignerEnrollment": true,
	"teacher":            true,
	"ta":                 true,
	"designer":           true,
}

var studentRoles = map[string]bool{
	"StudentEnrollment": true,
	"student":           true,
}

// IsInstructorRole reports whether role carries teaching responsibility.
func IsInstructorRole(role string) bool {
	return instructorRoles[role]
}

// IsStudentRole reports whether role is a student role.
func IsStudentRole(role string) bool {
	return studentRoles[role]
}
