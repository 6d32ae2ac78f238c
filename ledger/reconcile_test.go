package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canvasledger/cl/annotations"
	"github.com/canvasledger/cl/canvas"
	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/internal/util"
	"github.com/canvasledger/cl/ledger/testutil"
)

// fakeSource serves canned Canvas responses. Mutate the fields between
// runs to simulate upstream change. The hooks fire during the fetch
// phase, before the engine opens its mutation transaction.
type fakeSource struct {
	courses            []canvas.Course
	selfEnrollments    []canvas.Enrollment
	sections           map[int64][]canvas.Section
	enrollments        map[int64][]canvas.Enrollment
	coursesErr         error
	selfEnrollmentsErr error
	sectionsErr        error
	enrollmentsErr     error
	onEnrollments      func()
}

func (f *fakeSource) Courses(ctx context.Context) ([]canvas.Course, error) {
	if f.coursesErr != nil {
		return nil, f.coursesErr
	}
	return f.courses, nil
}

func (f *fakeSource) SelfEnrollments(ctx context.Context) ([]canvas.Enrollment, error) {
	if f.selfEnrollmentsErr != nil {
		return nil, f.selfEnrollmentsErr
	}
	return f.selfEnrollments, nil
}

func (f *fakeSource) Sections(ctx context.Context, courseID int64) ([]canvas.Section, error) {
	if f.sectionsErr != nil {
		return nil, f.sectionsErr
	}
	return f.sections[courseID], nil
}

func (f *fakeSource) Enrollments(ctx context.Context, courseID int64) ([]canvas.Enrollment, error) {
	if f.onEnrollments != nil {
		f.onEnrollments()
	}
	if f.enrollmentsErr != nil {
		return nil, f.enrollmentsErr
	}
	return f.enrollments[courseID], nil
}

func newTestEngine(t *testing.T, db *sql.DB, src Source) *Engine {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	return NewEngine(db, src, NewRunStore(db, logger, time.Hour), logger)
}

func fallTerm() *canvas.Term {
	return &canvas.Term{ID: 100, Name: "Fall 2025", StartAt: util.Ptr("2025-08-25T00:00:00Z")}
}

func testCourse(id int64, name, code string) canvas.Course {
	return canvas.Course{
		ID: id, Name: name, CourseCode: code,
		WorkflowState: "available", EnrollmentTermID: 100, Term: fallTerm(),
	}
}

func selfEnrollment(id, courseID int64, role string) canvas.Enrollment {
	return canvas.Enrollment{
		ID: id, CourseID: courseID, UserID: 1,
		Type: role, Role: role, EnrollmentState: "active",
	}
}

func rosterEnrollment(id, courseID int64, user canvas.UserRef, role string, grades *canvas.Grades) canvas.Enrollment {
	return canvas.Enrollment{
		ID: id, CourseID: courseID, UserID: user.ID,
		Type: role, Role: role, EnrollmentState: "active",
		CourseSectionID: util.Ptr(int64(41)),
		Grades:          grades, User: &user,
	}
}

func catalogSource() *fakeSource {
	return &fakeSource{
		courses: []canvas.Course{
			testCourse(2001, "Introduction to Biology", "BIO-101"),
			testCourse(2002, "Organic Chemistry", "CHEM-220"),
		},
		selfEnrollments: []canvas.Enrollment{
			selfEnrollment(31, 2001, "TeacherEnrollment"),
			selfEnrollment(32, 2002, "TaEnrollment"),
		},
	}
}

func TestIngestCatalogFirstObservation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	src := catalogSource()
	// An enrollment for a course the listing does not return is skipped.
	src.selfEnrollments = append(src.selfEnrollments, selfEnrollment(33, 7777, "StudentEnrollment"))
	eng := newTestEngine(t, db, src)
	ctx := context.Background()

	run, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	// One shared term, two offerings, two user enrollments; the
	// enrollment in the unlisted course is skipped.
	assert.Equal(t, RunCounts{New: 5}, run.Counts, "first observation classifies new, no drift")

	store := NewEntityStore(db)
	offering, err := store.GetOffering(ctx, 2001)
	require.NoError(t, err)
	require.NotNil(t, offering)
	assert.Equal(t, "Introduction to Biology", offering.Name)
	assert.True(t, offering.Present)
	require.NotNil(t, offering.TermCanvasID)
	assert.Equal(t, int64(100), *offering.TermCanvasID)

	ue, err := store.GetUserEnrollment(ctx, 31)
	require.NoError(t, err)
	require.NotNil(t, ue)
	assert.Equal(t, "TeacherEnrollment", ue.Role)

	missing, err := store.GetUserEnrollment(ctx, 33)
	require.NoError(t, err)
	assert.Nil(t, missing)

	changes, err := NewChangeStore(db).ForRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestIngestCatalogIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	src := catalogSource()
	eng := newTestEngine(t, db, src)
	ctx := context.Background()

	_, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)

	second, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunCounts{Unchanged: 5}, second.Counts)

	changes, err := NewChangeStore(db).ForRun(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, changes, "re-observing identical data must stay silent")
}

func TestIngestCatalogRecordsFieldChanges(t *testing.T) {
	db := testutil.SetupTestDB(t)
	src := catalogSource()
	eng := newTestEngine(t, db, src)
	ctx := context.Background()

	seen1 := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	seen2 := time.Date(2025, 9, 8, 8, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return seen1 }

	_, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)

	// Upstream edits between observations.
	src.courses[0].Name = "Intro Biology"
	src.courses[1].WorkflowState = "completed"
	src.selfEnrollments[1].Role = "TeacherEnrollment"
	src.selfEnrollments[1].Type = "TeacherEnrollment"
	eng.now = func() time.Time { return seen2 }

	run, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunCounts{Updated: 3, Unchanged: 2, Drift: 3}, run.Counts,
		"one update per edited record, one drift entry per changed field")

	changes, err := NewChangeStore(db).ForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, changes, 3)

	byField := map[string]*Change{}
	for _, c := range changes {
		byField[c.EntityType+"/"+c.FieldName] = c
	}

	rename := byField[EntityOffering+"/name"]
	require.NotNil(t, rename)
	assert.Equal(t, int64(2001), rename.EntityCanvasID)
	assert.Equal(t, "Introduction to Biology", *rename.OldValue)
	assert.Equal(t, "Intro Biology", *rename.NewValue)
	assert.True(t, rename.ObservedAt.Equal(seen2))

	state := byField[EntityOffering+"/workflow_state"]
	require.NotNil(t, state)
	assert.Equal(t, int64(2002), state.EntityCanvasID)

	role := byField[EntityUserEnrollment+"/role"]
	require.NotNil(t, role)
	assert.Equal(t, "TaEnrollment", *role.OldValue)
	assert.Equal(t, "TeacherEnrollment", *role.NewValue)

	// The mirror reflects the newest observation, first seen stays put.
	offering, err := NewEntityStore(db).GetOffering(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, "Intro Biology", offering.Name)
	assert.True(t, offering.ObservedAt.Equal(seen1))
	assert.True(t, offering.LastSeenAt.Equal(seen2))
}

func TestIngestCatalogClassifiesSingleUpdate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	src := &fakeSource{
		courses: []canvas.Course{{ID: 100, Name: "Compilers", CourseCode: "COMP 101", WorkflowState: "available"}},
	}
	eng := newTestEngine(t, db, src)
	ctx := context.Background()

	first, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunCounts{New: 1}, first.Counts)

	src.courses[0].WorkflowState = "completed"

	second, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunCounts{Updated: 1, Drift: 1}, second.Counts)

	changes, err := NewChangeStore(db).ForRun(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "workflow_state", changes[0].FieldName)
	assert.Equal(t, "available", *changes[0].OldValue)
	assert.Equal(t, "completed", *changes[0].NewValue)
}

func TestIngestCatalogPresenceTransitions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	src := catalogSource()
	eng := newTestEngine(t, db, src)
	ctx := context.Background()

	_, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)

	// Organic Chemistry and the enrollment in it vanish from the listing.
	src.courses = src.courses[:1]
	src.selfEnrollments = src.selfEnrollments[:1]

	gone, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunCounts{Unchanged: 3, Drift: 2}, gone.Counts,
		"offering and user enrollment each flagged absent")

	changes, err := NewChangeStore(db).ForRun(ctx, gone.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	for _, c := range changes {
		assert.True(t, c.IsPresenceTransition())
		assert.Equal(t, FieldPresence, c.FieldName)
		assert.Equal(t, PresencePresent, *c.OldValue)
		assert.Equal(t, PresenceAbsent, *c.NewValue)
	}

	offering, err := NewEntityStore(db).GetOffering(ctx, 2002)
	require.NoError(t, err)
	assert.False(t, offering.Present)

	// Still gone: no repeat entries.
	still, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), still.Counts.Drift, "absence is recorded once, not per run")

	// Back in the listing: symmetric reappearance entries. Fields are
	// identical, so the records still classify unchanged.
	src.courses = append(src.courses, testCourse(2002, "Organic Chemistry", "CHEM-220"))
	src.selfEnrollments = append(src.selfEnrollments, selfEnrollment(32, 2002, "TaEnrollment"))

	back, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunCounts{Unchanged: 5, Drift: 2}, back.Counts)

	changes, err = NewChangeStore(db).ForRun(ctx, back.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	for _, c := range changes {
		assert.Equal(t, PresenceAbsent, *c.OldValue)
		assert.Equal(t, PresencePresent, *c.NewValue)
	}

	offering, err = NewEntityStore(db).GetOffering(ctx, 2002)
	require.NoError(t, err)
	assert.True(t, offering.Present)
}

func deepSource() *fakeSource {
	ada := canvas.UserRef{ID: 501, Name: "Ada Quinn", SortableName: util.Ptr("Quinn, Ada"), LoginID: util.Ptr("aquinn")}
	ben := canvas.UserRef{ID: 502, Name: "Ben Okafor", SortableName: util.Ptr("Okafor, Ben")}

	src := catalogSource()
	src.sections = map[int64][]canvas.Section{
		2001: {
			{ID: 41, CourseID: 2001, Name: "Section A", SISSectionID: util.Ptr("BIO-101-A")},
			{ID: 42, CourseID: 2001, Name: "Section B"},
		},
	}
	src.enrollments = map[int64][]canvas.Enrollment{
		2001: {
			rosterEnrollment(9001, 2001, ada, "StudentEnrollment",
				&canvas.Grades{CurrentGrade: util.Ptr("B+"), CurrentScore: util.Ptr(87.5)}),
			rosterEnrollment(9002, 2001, ben, "StudentEnrollment",
				&canvas.Grades{CurrentGrade: util.Ptr("A"), CurrentScore: util.Ptr(94.0)}),
			rosterEnrollment(9003, 2001, ada, "TaEnrollment", nil),
		},
	}
	return src
}

func TestIngestOfferingDeep(t *testing.T) {
	db := testutil.SetupTestDB(t)
	src := deepSource()
	eng := newTestEngine(t, db, src)
	ctx := context.Background()

	_, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)

	run, err := eng.IngestOffering(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, ScopeOffering, run.Scope)
	require.NotNil(t, run.ScopeCanvasID)
	assert.Equal(t, int64(2001), *run.ScopeCanvasID)
	// Two sections, two people (Ada holds two enrollments but is
	// processed once), three enrollments.
	assert.Equal(t, RunCounts{New: 7}, run.Counts)

	store := NewEntityStore(db)
	person, err := store.GetPerson(ctx, 501)
	require.NoError(t, err)
	require.NotNil(t, person)
	assert.Equal(t, "Ada Quinn", person.Name)
	assert.Equal(t, "aquinn", *person.LoginID)

	enrollment, err := store.GetEnrollment(ctx, 9001)
	require.NoError(t, err)
	require.NotNil(t, enrollment)
	assert.Equal(t, int64(501), enrollment.PersonCanvasID)
	assert.Equal(t, "B+", *enrollment.CurrentGrade)
	assert.Equal(t, 87.5, *enrollment.CurrentScore)

	// Grade moves between observations.
	src.enrollments[2001][0].Grades = &canvas.Grades{CurrentGrade: util.Ptr("A-"), CurrentScore: util.Ptr(90.1)}

	second, err := eng.IngestOffering(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, RunCounts{Updated: 1, Unchanged: 6, Drift: 2}, second.Counts)

	changes, err := NewChangeStore(db).ForRun(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "current_grade", changes[0].FieldName)
	assert.Equal(t, "current_score", changes[1].FieldName)
	assert.Equal(t, "87.5", *changes[1].OldValue)
	assert.Equal(t, "90.1", *changes[1].NewValue)
}

func TestAnnotationsSurviveReingest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	src := deepSource()
	eng := newTestEngine(t, db, src)
	ctx := context.Background()

	_, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	_, err = eng.IngestOffering(ctx, 2001)
	require.NoError(t, err)

	overlay := annotations.NewStore(db)
	lead, personKnown, err := overlay.AddLeadInstructor(ctx, 2001, 501, annotations.DesignationLead)
	require.NoError(t, err)
	assert.True(t, personKnown)
	_, err = overlay.AddInvolvement(ctx, 2001, "taught")
	require.NoError(t, err)

	// Upstream churn across both scopes, then re-observe.
	src.courses[0].Name = "Intro Biology"
	src.enrollments[2001][0].Grades = &canvas.Grades{CurrentGrade: util.Ptr("A-"), CurrentScore: util.Ptr(90.1)}

	_, err = eng.IngestCatalog(ctx)
	require.NoError(t, err)
	_, err = eng.IngestOffering(ctx, 2001)
	require.NoError(t, err)

	all, err := overlay.List(ctx, util.Ptr(int64(2001)))
	require.NoError(t, err)
	require.Len(t, all, 2)

	byKind := map[string]*annotations.Annotation{}
	for _, a := range all {
		byKind[a.Kind] = a
	}
	kept := byKind[annotations.KindLeadInstructor]
	require.NotNil(t, kept)
	assert.Equal(t, lead.ID, kept.ID)
	assert.Equal(t, annotations.DesignationLead, *kept.Designation)
	assert.True(t, kept.UpdatedAt.Equal(lead.UpdatedAt), "ingestion must not touch the overlay")

	involvement := byKind[annotations.KindInvolvement]
	require.NotNil(t, involvement)
	assert.Equal(t, "taught", *involvement.Classification)
}

func TestIngestOfferingPresenceScopedToOffering(t *testing.T) {
	db := testutil.SetupTestDB(t)
	src := deepSource()
	// Give the second offering its own roster so it has presence state.
	cara := canvas.UserRef{ID: 503, Name: "Cara Ibe"}
	src.sections[2002] = []canvas.Section{{ID: 51, CourseID: 2002, Name: "Lab"}}
	src.enrollments[2002] = []canvas.Enrollment{rosterEnrollment(9101, 2002, cara, "StudentEnrollment", nil)}

	eng := newTestEngine(t, db, src)
	ctx := context.Background()

	_, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	_, err = eng.IngestOffering(ctx, 2001)
	require.NoError(t, err)
	_, err = eng.IngestOffering(ctx, 2002)
	require.NoError(t, err)

	// A section and an enrollment leave offering 2001.
	src.sections[2001] = src.sections[2001][:1]
	src.enrollments[2001] = src.enrollments[2001][:2]

	run, err := eng.IngestOffering(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, int64(2), run.Counts.Drift)

	store := NewEntityStore(db)
	other, err := store.GetSection(ctx, 51)
	require.NoError(t, err)
	assert.True(t, other.Present, "other offering's section untouched")

	otherEnrollment, err := store.GetEnrollment(ctx, 9101)
	require.NoError(t, err)
	assert.True(t, otherEnrollment.Present)
}

func TestIngestOfferingUnknown(t *testing.T) {
	db := testutil.SetupTestDB(t)
	eng := newTestEngine(t, db, catalogSource())

	_, err := eng.IngestOffering(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.NotEmpty(t, errors.GetAllHints(err))

	// No run row is recorded for a refused ingest.
	runs, err := NewRunStore(db, nil, time.Hour).ListRuns(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestIngestCatalogFetchFailureFailsRun(t *testing.T) {
	db := testutil.SetupTestDB(t)
	src := catalogSource()
	eng := newTestEngine(t, db, src)
	ctx := context.Background()

	_, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)

	src.courses[0].Name = "Renamed While Broken"
	src.selfEnrollmentsErr = errors.Mark(errors.New("canvas: 503 service unavailable"), errors.ErrTransientFetch)

	_, err = eng.IngestCatalog(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransientFetch(err))

	// The failure is recorded and the lock released.
	rs := NewRunStore(db, nil, time.Hour)
	runs, err := rs.ListRuns(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunFailed, runs[0].Status)
	require.NotNil(t, runs[0].Error)
	assert.Contains(t, *runs[0].Error, "503")

	lock, err := rs.ReadLock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock)

	// The mirror still shows the last good observation.
	offering, err := NewEntityStore(db).GetOffering(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, "Introduction to Biology", offering.Name)

	// And the next ingest proceeds normally, recording the rename the
	// failed run could not keep.
	src.selfEnrollmentsErr = nil
	run, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), run.Counts.Updated)
	assert.Equal(t, int64(1), run.Counts.Drift)
}

func TestIngestOfferingRollsBackWhenLockLost(t *testing.T) {
	db := testutil.SetupTestDB(t)
	src := deepSource()
	eng := newTestEngine(t, db, src)
	ctx := context.Background()

	_, err := eng.IngestCatalog(ctx)
	require.NoError(t, err)
	_, err = eng.IngestOffering(ctx, 2001)
	require.NoError(t, err)

	// Upstream grade change that run should have written, except the
	// lock is hijacked while the engine is still fetching.
	src.enrollments[2001][0].Grades = &canvas.Grades{CurrentGrade: util.Ptr("A"), CurrentScore: util.Ptr(95.0)}
	src.onEnrollments = func() {
		_, err := db.Exec(`UPDATE run_lock SET holder_token = 'hijacked'`)
		require.NoError(t, err)
	}

	_, err = eng.IngestOffering(ctx, 2001)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	// Every write of the run rolled back with it.
	enrollment, err := NewEntityStore(db).GetEnrollment(ctx, 9001)
	require.NoError(t, err)
	assert.Equal(t, "B+", *enrollment.CurrentGrade, "partial writes must not survive")

	runs, err := NewRunStore(db, nil, time.Hour).ListRuns(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunFailed, runs[0].Status)

	changes, err := NewChangeStore(db).ForRun(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestIngestCatalogRefusedWhileBusy(t *testing.T) {
	db := testutil.SetupTestDB(t)
	eng := newTestEngine(t, db, catalogSource())
	ctx := context.Background()

	// Another ingest in this process holds the lock.
	holder := NewRunStore(db, nil, time.Hour)
	_, _, err := holder.Begin(ctx, ScopeCatalog, nil)
	require.NoError(t, err)

	_, err = eng.IngestCatalog(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsLedgerBusy(err))
}
