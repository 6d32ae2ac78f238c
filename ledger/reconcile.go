package ledger

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/canvasledger/cl/canvas"
	"github.com/canvasledger/cl/errors"
)

// Source is the slice of the Canvas API the engine consumes. The shallow
// catalog pass uses Courses and SelfEnrollments; the deep pass uses
// Sections and Enrollments for one course.
type Source interface {
	Courses(ctx context.Context) ([]canvas.Course, error)
	SelfEnrollments(ctx context.Context) ([]canvas.Enrollment, error)
	Sections(ctx context.Context, courseID int64) ([]canvas.Section, error)
	Enrollments(ctx context.Context, courseID int64) ([]canvas.Enrollment, error)
}

// Engine runs ingests: fetch observations from the source, reconcile
// them against the mirror, and append the differences to the change log.
// All writes of a run happen in a single transaction, so a failed run
// leaves the mirror exactly as the previous run left it.
type Engine struct {
	db     *sql.DB
	source Source
	runs   *RunStore
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewEngine creates an ingest engine.
func NewEngine(db *sql.DB, source Source, runs *RunStore, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		db:     db,
		source: source,
		runs:   runs,
		logger: logger,
		now:    time.Now,
	}
}

// storeFail tags persistence failures so callers can tell them apart
// from fetch failures.
func storeFail(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errors.ErrFatalStore)
}

// IngestCatalog runs the shallow pass: every visible course, its term,
// and the user's own enrollments. Offerings and user enrollments that
// disappeared from the listing are marked absent.
func (e *Engine) IngestCatalog(ctx context.Context) (*Run, error) {
	run, token, err := e.runs.Begin(ctx, ScopeCatalog, nil)
	if err != nil {
		return nil, err
	}
	e.logger.Infow("catalog ingest started", "run_id", run.ID)

	if err := e.runs.MarkRunning(ctx, run.ID); err != nil {
		e.failRun(ctx, run.ID, token, err)
		return nil, err
	}
	if err := e.ingestCatalog(ctx, run, token); err != nil {
		e.failRun(ctx, run.ID, token, err)
		return nil, err
	}

	e.logger.Infow("catalog ingest completed",
		"run_id", run.ID,
		"new", run.Counts.New,
		"updated", run.Counts.Updated,
		"unchanged", run.Counts.Unchanged,
		"drift", run.Counts.Drift)
	return run, nil
}

func (e *Engine) ingestCatalog(ctx context.Context, run *Run, token string) error {
	courses, err := e.source.Courses(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch courses")
	}
	selfEnrollments, err := e.source.SelfEnrollments(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch self enrollments")
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return storeFail(errors.Wrap(err, "begin mutation transaction"))
	}
	defer tx.Rollback()

	rec := e.newRecorder(tx, run)

	seenTerms := map[int64]bool{}
	seenOfferings := map[int64]bool{}
	for i := range courses {
		course := &courses[i]
		if course.Term != nil && !seenTerms[course.Term.ID] {
			if err := rec.term(ctx, course.Term); err != nil {
				return err
			}
			seenTerms[course.Term.ID] = true
		}
		if err := rec.offering(ctx, course); err != nil {
			return err
		}
		seenOfferings[course.ID] = true
	}

	seenUserEnrollments := map[int64]bool{}
	for i := range selfEnrollments {
		en := &selfEnrollments[i]
		if !seenOfferings[en.CourseID] {
			// Enrollment in a course the listing did not return, e.g.
			// an invitation not yet accepted. Nothing to anchor it to.
			e.logger.Debugw("skipping self enrollment for unlisted course",
				"enrollment_id", en.ID, "course_id", en.CourseID)
			continue
		}
		if err := rec.userEnrollment(ctx, en); err != nil {
			return err
		}
		seenUserEnrollments[en.ID] = true
	}

	presentOfferings, err := rec.store.PresentOfferingIDs(ctx)
	if err != nil {
		return storeFail(err)
	}
	if err := rec.sweepAbsent(ctx, EntityOffering, seenOfferings, presentOfferings); err != nil {
		return err
	}
	presentUserEnrollments, err := rec.store.PresentUserEnrollmentIDs(ctx)
	if err != nil {
		return storeFail(err)
	}
	if err := rec.sweepAbsent(ctx, EntityUserEnrollment, seenUserEnrollments, presentUserEnrollments); err != nil {
		return err
	}

	if err := e.runs.Complete(ctx, tx, run, token); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeFail(errors.Wrap(err, "commit mutation transaction"))
	}
	return nil
}

// IngestOffering runs the deep pass for one offering: its sections and
// full enrollment roster, including grade snapshots and the people on
// it. The offering must already be known from a catalog ingest.
func (e *Engine) IngestOffering(ctx context.Context, offeringCanvasID int64) (*Run, error) {
	offering, err := NewEntityStore(e.db).GetOffering(ctx, offeringCanvasID)
	if err != nil {
		return nil, storeFail(err)
	}
	if offering == nil {
		return nil, errors.WithHint(
			errors.NewNotFoundf("offering %d is not in the ledger", offeringCanvasID),
			"run 'cl ingest' to refresh the catalog first")
	}

	run, token, err := e.runs.Begin(ctx, ScopeOffering, &offeringCanvasID)
	if err != nil {
		return nil, err
	}
	e.logger.Infow("offering ingest started", "run_id", run.ID, "offering_id", offeringCanvasID)

	if err := e.runs.MarkRunning(ctx, run.ID); err != nil {
		e.failRun(ctx, run.ID, token, err)
		return nil, err
	}
	if err := e.ingestOffering(ctx, run, token, offeringCanvasID); err != nil {
		e.failRun(ctx, run.ID, token, err)
		return nil, err
	}

	e.logger.Infow("offering ingest completed",
		"run_id", run.ID,
		"offering_id", offeringCanvasID,
		"new", run.Counts.New,
		"updated", run.Counts.Updated,
		"unchanged", run.Counts.Unchanged,
		"drift", run.Counts.Drift)
	return run, nil
}

func (e *Engine) ingestOffering(ctx context.Context, run *Run, token string, offeringCanvasID int64) error {
	sections, err := e.source.Sections(ctx, offeringCanvasID)
	if err != nil {
		return errors.Wrapf(err, "fetch sections for offering %d", offeringCanvasID)
	}
	enrollments, err := e.source.Enrollments(ctx, offeringCanvasID)
	if err != nil {
		return errors.Wrapf(err, "fetch enrollments for offering %d", offeringCanvasID)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return storeFail(errors.Wrap(err, "begin mutation transaction"))
	}
	defer tx.Rollback()

	rec := e.newRecorder(tx, run)

	seenSections := map[int64]bool{}
	for i := range sections {
		sec := &sections[i]
		if err := rec.section(ctx, sec, offeringCanvasID); err != nil {
			return err
		}
		seenSections[sec.ID] = true
	}

	seenPeople := map[int64]bool{}
	seenEnrollments := map[int64]bool{}
	for i := range enrollments {
		en := &enrollments[i]
		if en.User == nil {
			// The roster endpoint always embeds the user; a row without
			// one cannot satisfy the person reference.
			e.logger.Warnw("skipping enrollment without embedded user",
				"enrollment_id", en.ID, "offering_id", offeringCanvasID)
			continue
		}
		if !seenPeople[en.User.ID] {
			if err := rec.person(ctx, en.User); err != nil {
				return err
			}
			seenPeople[en.User.ID] = true
		}
		if err := rec.enrollment(ctx, en, offeringCanvasID); err != nil {
			return err
		}
		seenEnrollments[en.ID] = true
	}

	presentSections, err := rec.store.PresentSectionIDs(ctx, offeringCanvasID)
	if err != nil {
		return storeFail(err)
	}
	if err := rec.sweepAbsent(ctx, EntitySection, seenSections, presentSections); err != nil {
		return err
	}
	presentEnrollments, err := rec.store.PresentEnrollmentIDs(ctx, offeringCanvasID)
	if err != nil {
		return storeFail(err)
	}
	if err := rec.sweepAbsent(ctx, EntityEnrollment, seenEnrollments, presentEnrollments); err != nil {
		return err
	}

	if err := e.runs.Complete(ctx, tx, run, token); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeFail(errors.Wrap(err, "commit mutation transaction"))
	}
	return nil
}

// failRun records the failure outside the (rolled back) mutation
// transaction. It runs detached from ctx cancellation so an aborted run
// still gets its failure row.
func (e *Engine) failRun(ctx context.Context, runID int64, token string, cause error) {
	e.logger.Errorw("ingest failed", "run_id", runID, "error", cause)
	if err := e.runs.Fail(context.WithoutCancel(ctx), runID, token, cause); err != nil {
		e.logger.Errorw("failed to record run failure", "run_id", runID, "error", err)
	}
}

// recorder applies one run's observations inside its transaction.
type recorder struct {
	store   *EntityStore
	changes *ChangeStore
	logger  *zap.SugaredLogger
	runID   int64
	now     time.Time
	counts  *RunCounts
}

func (e *Engine) newRecorder(tx *sql.Tx, run *Run) *recorder {
	return &recorder{
		store:   NewEntityStore(tx),
		changes: NewChangeStore(tx),
		logger:  e.logger,
		runID:   run.ID,
		now:     e.now(),
		counts:  &run.Counts,
	}
}

// record stamps and appends field changes. Every appended entry counts
// toward the run's drift total.
func (r *recorder) record(ctx context.Context, cs []*Change) error {
	for _, c := range cs {
		c.IngestRunID = r.runID
		c.ObservedAt = r.now
		if err := r.changes.Record(ctx, c); err != nil {
			return storeFail(err)
		}
		r.counts.Drift++
		r.logger.Debugw("field changed",
			"entity_type", c.EntityType,
			"entity_id", c.EntityCanvasID,
			"field", c.FieldName,
			"old", strOrNull(c.OldValue),
			"new", strOrNull(c.NewValue))
	}
	return nil
}

// classify tallies one processed record into exactly one outcome bucket.
// Classification follows the comparable-field diff alone; presence
// transitions are drift entries but do not make a record updated.
func (r *recorder) classify(isNew bool, changed int) {
	switch {
	case isNew:
		r.counts.New++
	case changed > 0:
		r.counts.Updated++
	default:
		r.counts.Unchanged++
	}
}

// reappear records the absent-to-present transition for an entity that
// is back in observation.
func (r *recorder) reappear(ctx context.Context, entityType string, canvasID int64) error {
	c := presenceChange(entityType, canvasID, true)
	c.IngestRunID = r.runID
	c.ObservedAt = r.now
	if err := r.changes.Record(ctx, c); err != nil {
		return storeFail(err)
	}
	r.counts.Drift++
	r.logger.Infow("entity reappeared", "entity_type", entityType, "entity_id", canvasID)
	return nil
}

// sweepAbsent marks every still-present entity that this run did not
// observe as absent, recording one presence transition each. Entities
// already absent stay silent.
func (r *recorder) sweepAbsent(ctx context.Context, entityType string, seen map[int64]bool, presentIDs []int64) error {
	for _, id := range presentIDs {
		if seen[id] {
			continue
		}
		if err := r.store.MarkAbsent(ctx, entityType, id); err != nil {
			return storeFail(err)
		}
		c := presenceChange(entityType, id, false)
		c.IngestRunID = r.runID
		c.ObservedAt = r.now
		if err := r.changes.Record(ctx, c); err != nil {
			return storeFail(err)
		}
		r.counts.Drift++
		r.logger.Infow("entity absent from observation", "entity_type", entityType, "entity_id", id)
	}
	return nil
}

func (r *recorder) term(ctx context.Context, t *canvas.Term) error {
	old, err := r.store.GetTerm(ctx, t.ID)
	if err != nil {
		return storeFail(err)
	}

	row := &Term{
		CanvasID:   t.ID,
		Name:       t.Name,
		StartDate:  t.StartAt,
		EndDate:    t.EndAt,
		ObservedAt: r.now,
		LastSeenAt: r.now,
	}
	if old != nil {
		row.ObservedAt = old.ObservedAt
	}

	changes := DiffTerm(old, row)
	if err := r.record(ctx, changes); err != nil {
		return err
	}
	if err := r.store.PutTerm(ctx, row); err != nil {
		return storeFail(err)
	}
	r.classify(old == nil, len(changes))
	return nil
}

func (r *recorder) offering(ctx context.Context, c *canvas.Course) error {
	old, err := r.store.GetOffering(ctx, c.ID)
	if err != nil {
		return storeFail(err)
	}

	row := &Offering{
		CanvasID:      c.ID,
		Name:          c.Name,
		Code:          c.CourseCode,
		WorkflowState: c.WorkflowState,
		Present:       true,
		ObservedAt:    r.now,
		LastSeenAt:    r.now,
	}
	if c.Term != nil {
		row.TermCanvasID = &c.Term.ID
	} else if c.EnrollmentTermID != 0 {
		row.TermCanvasID = &c.EnrollmentTermID
	}
	if old != nil {
		row.ObservedAt = old.ObservedAt
		if !old.Present {
			if err := r.reappear(ctx, EntityOffering, c.ID); err != nil {
				return err
			}
		}
	}

	changes := DiffOffering(old, row)
	if err := r.record(ctx, changes); err != nil {
		return err
	}
	if err := r.store.PutOffering(ctx, row); err != nil {
		return storeFail(err)
	}
	r.classify(old == nil, len(changes))
	return nil
}

func (r *recorder) userEnrollment(ctx context.Context, en *canvas.Enrollment) error {
	old, err := r.store.GetUserEnrollment(ctx, en.ID)
	if err != nil {
		return storeFail(err)
	}

	row := &UserEnrollment{
		CanvasID:         en.ID,
		OfferingCanvasID: en.CourseID,
		Role:             en.EffectiveRole(),
		EnrollmentState:  en.EnrollmentState,
		Present:          true,
		ObservedAt:       r.now,
		LastSeenAt:       r.now,
	}
	if old != nil {
		row.ObservedAt = old.ObservedAt
		if !old.Present {
			if err := r.reappear(ctx, EntityUserEnrollment, en.ID); err != nil {
				return err
			}
		}
	}

	changes := DiffUserEnrollment(old, row)
	if err := r.record(ctx, changes); err != nil {
		return err
	}
	if err := r.store.PutUserEnrollment(ctx, row); err != nil {
		return storeFail(err)
	}
	r.classify(old == nil, len(changes))
	return nil
}

func (r *recorder) section(ctx context.Context, sec *canvas.Section, offeringCanvasID int64) error {
	old, err := r.store.GetSection(ctx, sec.ID)
	if err != nil {
		return storeFail(err)
	}

	row := &Section{
		CanvasID:         sec.ID,
		OfferingCanvasID: offeringCanvasID,
		Name:             sec.Name,
		SISSectionID:     sec.SISSectionID,
		Present:          true,
		ObservedAt:       r.now,
		LastSeenAt:       r.now,
	}
	if old != nil {
		row.ObservedAt = old.ObservedAt
		if !old.Present {
			if err := r.reappear(ctx, EntitySection, sec.ID); err != nil {
				return err
			}
		}
	}

	changes := DiffSection(old, row)
	if err := r.record(ctx, changes); err != nil {
		return err
	}
	if err := r.store.PutSection(ctx, row); err != nil {
		return storeFail(err)
	}
	r.classify(old == nil, len(changes))
	return nil
}

func (r *recorder) person(ctx context.Context, u *canvas.UserRef) error {
	old, err := r.store.GetPerson(ctx, u.ID)
	if err != nil {
		return storeFail(err)
	}

	row := &Person{
		CanvasID:     u.ID,
		Name:         u.Name,
		SortableName: u.SortableName,
		SISUserID:    u.SISUserID,
		LoginID:      u.LoginID,
		ObservedAt:   r.now,
		LastSeenAt:   r.now,
	}
	if old != nil {
		row.ObservedAt = old.ObservedAt
	}

	changes := DiffPerson(old, row)
	if err := r.record(ctx, changes); err != nil {
		return err
	}
	if err := r.store.PutPerson(ctx, row); err != nil {
		return storeFail(err)
	}
	r.classify(old == nil, len(changes))
	return nil
}

func (r *recorder) enrollment(ctx context.Context, en *canvas.Enrollment, offeringCanvasID int64) error {
	old, err := r.store.GetEnrollment(ctx, en.ID)
	if err != nil {
		return storeFail(err)
	}

	personID := en.UserID
	if personID == 0 && en.User != nil {
		personID = en.User.ID
	}

	row := &Enrollment{
		CanvasID:         en.ID,
		OfferingCanvasID: offeringCanvasID,
		PersonCanvasID:   personID,
		SectionCanvasID:  en.CourseSectionID,
		Role:             en.EffectiveRole(),
		EnrollmentState:  en.EnrollmentState,
		Present:          true,
		ObservedAt:       r.now,
		LastSeenAt:       r.now,
	}
	if en.Grades != nil {
		row.CurrentGrade = en.Grades.CurrentGrade
		row.CurrentScore = en.Grades.CurrentScore
		row.FinalGrade = en.Grades.FinalGrade
		row.FinalScore = en.Grades.FinalScore
	}
	if old != nil {
		row.ObservedAt = old.ObservedAt
		if !old.Present {
			if err := r.reappear(ctx, EntityEnrollment, en.ID); err != nil {
				return err
			}
		}
	}

	changes := DiffEnrollment(old, row)
	if err := r.record(ctx, changes); err != nil {
		return err
	}
	if err := r.store.PutEnrollment(ctx, row); err != nil {
		return storeFail(err)
	}
	r.classify(old == nil, len(changes))
	return nil
}

func strOrNull(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}
