package ledger

import "strconv"

// Diff functions compare a stored entity against a fresh observation and
// return one Change per differing field, named after the column that
// changed. A nil old entity means first observation, which produces no
// changes. Returned changes carry entity identity only; the engine stamps
// run id and observation time before recording.

type fieldDiff struct {
	entityType string
	canvasID   int64
	changes    []*Change
}

func newFieldDiff(entityType string, canvasID int64) *fieldDiff {
	return &fieldDiff{entityType: entityType, canvasID: canvasID}
}

func (d *fieldDiff) add(field string, oldVal, newVal *string) {
	d.changes = append(d.changes, &Change{
		EntityType:     d.entityType,
		EntityCanvasID: d.canvasID,
		FieldName:      field,
		OldValue:       oldVal,
		NewValue:       newVal,
	})
}

func (d *fieldDiff) str(field, oldVal, newVal string) {
	if oldVal != newVal {
		d.add(field, &oldVal, &newVal)
	}
}

func (d *fieldDiff) strPtr(field string, oldVal, newVal *string) {
	if !strPtrEqual(oldVal, newVal) {
		d.add(field, oldVal, newVal)
	}
}

func (d *fieldDiff) int64Ptr(field string, oldVal, newVal *int64) {
	if !int64PtrEqual(oldVal, newVal) {
		d.add(field, renderInt64(oldVal), renderInt64(newVal))
	}
}

func (d *fieldDiff) float64Ptr(field string, oldVal, newVal *float64) {
	if !float64PtrEqual(oldVal, newVal) {
		d.add(field, renderFloat64(oldVal), renderFloat64(newVal))
	}
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func float64PtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func renderInt64(v *int64) *string {
	if v == nil {
		return nil
	}
	s := strconv.FormatInt(*v, 10)
	return &s
}

func renderFloat64(v *float64) *string {
	if v == nil {
		return nil
	}
	s := strconv.FormatFloat(*v, 'f', -1, 64)
	return &s
}

// DiffTerm compares term fields: name, start_date, end_date.
func DiffTerm(oldT, newT *Term) []*Change {
	if oldT == nil {
		return nil
	}
	d := newFieldDiff(EntityTerm, newT.CanvasID)
	d.str("name", oldT.Name, newT.Name)
	d.strPtr("start_date", oldT.StartDate, newT.StartDate)
	d.strPtr("end_date", oldT.EndDate, newT.EndDate)
	return d.changes
}

// DiffOffering compares offering fields: name, code, term_canvas_id,
// workflow_state.
func DiffOffering(oldO, newO *Offering) []*Change {
	if oldO == nil {
		return nil
	}
	d := newFieldDiff(EntityOffering, newO.CanvasID)
	d.str("name", oldO.Name, newO.Name)
	d.str("code", oldO.Code, newO.Code)
	d.int64Ptr("term_canvas_id", oldO.TermCanvasID, newO.TermCanvasID)
	d.str("workflow_state", oldO.WorkflowState, newO.WorkflowState)
	return d.changes
}

// DiffUserEnrollment compares the user's own enrollment fields: role,
// enrollment_state.
func DiffUserEnrollment(oldUE, newUE *UserEnrollment) []*Change {
	if oldUE == nil {
		return nil
	}
	d := newFieldDiff(EntityUserEnrollment, newUE.CanvasID)
	d.str("role", oldUE.Role, newUE.Role)
	d.str("enrollment_state", oldUE.EnrollmentState, newUE.EnrollmentState)
	return d.changes
}

// DiffSection compares section fields: name, sis_section_id.
func DiffSection(oldS, newS *Section) []*Change {
	if oldS == nil {
		return nil
	}
	d := newFieldDiff(EntitySection, newS.CanvasID)
	d.str("name", oldS.Name, newS.Name)
	d.strPtr("sis_section_id", oldS.SISSectionID, newS.SISSectionID)
	return d.changes
}

// DiffPerson compares person fields: name, sortable_name, sis_user_id,
// login_id.
func DiffPerson(oldP, newP *Person) []*Change {
	if oldP == nil {
		return nil
	}
	d := newFieldDiff(EntityPerson, newP.CanvasID)
	d.str("name", oldP.Name, newP.Name)
	d.strPtr("sortable_name", oldP.SortableName, newP.SortableName)
	d.strPtr("sis_user_id", oldP.SISUserID, newP.SISUserID)
	d.strPtr("login_id", oldP.LoginID, newP.LoginID)
	return d.changes
}

// DiffEnrollment compares roster enrollment fields: role,
// enrollment_state, the four grade fields, and section_canvas_id.
func DiffEnrollment(oldE, newE *Enrollment) []*Change {
	if oldE == nil {
		return nil
	}
	d := newFieldDiff(EntityEnrollment, newE.CanvasID)
	d.str("role", oldE.Role, newE.Role)
	d.str("enrollment_state", oldE.EnrollmentState, newE.EnrollmentState)
	d.strPtr("current_grade", oldE.CurrentGrade, newE.CurrentGrade)
	d.float64Ptr("current_score", oldE.CurrentScore, newE.CurrentScore)
	d.strPtr("final_grade", oldE.FinalGrade, newE.FinalGrade)
	d.float64Ptr("final_score", oldE.FinalScore, newE.FinalScore)
	d.int64Ptr("section_canvas_id", oldE.SectionCanvasID, newE.SectionCanvasID)
	return d.changes
}

// presenceChange builds the change entry for a presence transition. A
// reappearance gets the symmetric reverse pair of a disappearance.
func presenceChange(entityType string, canvasID int64, nowPresent bool) *Change {
	oldVal, newVal := PresencePresent, PresenceAbsent
	if nowPresent {
		oldVal, newVal = PresenceAbsent, PresencePresent
	}
	return &Change{
		EntityType:     entityType,
		EntityCanvasID: canvasID,
		FieldName:      FieldPresence,
		OldValue:       &oldVal,
		NewValue:       &newVal,
	}
}
