package canvas

// Wire types for the Canvas REST API responses we consume. Field sets are
// trimmed to what the ledger records; unknown fields are ignored on
// decode. Nullable API fields map to pointers so absent and empty stay
// distinguishable.

// Term is an enrollment term as embedded in course listings via
// include[]=term.
type Term struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	StartAt *string `json:"start_at"`
	EndAt   *string `json:"end_at"`
}

// Course is a course as returned by the courses listing for the
// authenticated user. Canvas returns a stub with
// access_restricted_by_date set instead of omitting courses outside
// their participation dates; such stubs carry no usable fields.
type Course struct {
	ID                     int64  `json:"id"`
	Name                   string `json:"name"`
	CourseCode             string `json:"course_code"`
	WorkflowState          string `json:"workflow_state"`
	EnrollmentTermID       int64  `json:"enrollment_term_id"`
	Term                   *Term  `json:"term,omitempty"`
	AccessRestrictedByDate bool   `json:"access_restricted_by_date,omitempty"`
}

// Section is a course section.
type Section struct {
	ID           int64   `json:"id"`
	CourseID     int64   `json:"course_id"`
	Name         string  `json:"name"`
	SISSectionID *string `json:"sis_section_id"`
}

// Grades is the grade summary embedded on enrollment objects.
type Grades struct {
	CurrentGrade *string  `json:"current_grade"`
	CurrentScore *float64 `json:"current_score"`
	FinalGrade   *string  `json:"final_grade"`
	FinalScore   *float64 `json:"final_score"`
}

// UserRef is the user summary embedded on enrollment objects.
type UserRef struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	SortableName *string `json:"sortable_name"`
	SISUserID    *string `json:"sis_user_id"`
	LoginID      *string `json:"login_id"`
}

// Enrollment is an enrollment object, either the authenticated user's own
// (from the self-enrollments endpoint) or a roster row (from the course
// enrollments endpoint, which includes grades and the embedded user).
type Enrollment struct {
	ID              int64    `json:"id"`
	CourseID        int64    `json:"course_id"`
	UserID          int64    `json:"user_id"`
	Type            string   `json:"type"`
	Role            string   `json:"role"`
	EnrollmentState string   `json:"enrollment_state"`
	CourseSectionID *int64   `json:"course_section_id"`
	Grades          *Grades  `json:"grades,omitempty"`
	User            *UserRef `json:"user,omitempty"`
}

// EffectiveRole returns the enrollment's role, falling back to the base
// type when no custom role is set.
func (e *Enrollment) EffectiveRole() string {
	if e.Role != "" {
		return e.Role
	}
	return e.Type
}
