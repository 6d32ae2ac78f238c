package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/canvasledger/cl/errors"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Stores run against either, so the ingest engine can hold every write of
// a run inside one transaction while read paths use the bare connection.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EntityStore persists the mirrored Canvas entities. Get methods return
// (nil, nil) when the entity has never been observed. Put methods upsert:
// observed_at is written once and never touched again, last_seen_at is
// always taken from the given row.
type EntityStore struct {
	q Querier
}

// NewEntityStore creates an entity store over db or an open transaction.
func NewEntityStore(q Querier) *EntityStore {
	return &EntityStore{q: q}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse stored timestamp %q", s)
	}
	return t, nil
}

// GetTerm returns the term with the given Canvas id, or (nil, nil).
func (s *EntityStore) GetTerm(ctx context.Context, canvasID int64) (*Term, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT canvas_id, name, start_date, end_date, observed_at, last_seen_at
		FROM term WHERE canvas_id = ?`, canvasID)

	var t Term
	var observedAt, lastSeenAt string
	err := row.Scan(&t.CanvasID, &t.Name, &t.StartDate, &t.EndDate, &observedAt, &lastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get term %d", canvasID)
	}
	if t.ObservedAt, err = parseTime(observedAt); err != nil {
		return nil, err
	}
	if t.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// PutTerm upserts a term.
func (s *EntityStore) PutTerm(ctx context.Context, t *Term) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO term (canvas_id, name, start_date, end_date, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(canvas_id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			last_seen_at = excluded.last_seen_at`,
		t.CanvasID, t.Name, t.StartDate, t.EndDate, fmtTime(t.ObservedAt), fmtTime(t.LastSeenAt))
	if err != nil {
		return errors.Wrapf(err, "put term %d", t.CanvasID)
	}
	return nil
}

// GetOffering returns the offering with the given Canvas id, or (nil, nil).
func (s *EntityStore) GetOffering(ctx context.Context, canvasID int64) (*Offering, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT canvas_id, name, code, term_canvas_id, workflow_state, present, observed_at, last_seen_at
		FROM offering WHERE canvas_id = ?`, canvasID)

	var o Offering
	var observedAt, lastSeenAt string
	err := row.Scan(&o.CanvasID, &o.Name, &o.Code, &o.TermCanvasID, &o.WorkflowState,
		&o.Present, &observedAt, &lastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get offering %d", canvasID)
	}
	if o.ObservedAt, err = parseTime(observedAt); err != nil {
		return nil, err
	}
	if o.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// PutOffering upserts an offering.
func (s *EntityStore) PutOffering(ctx context.Context, o *Offering) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO offering (canvas_id, name, code, term_canvas_id, workflow_state, present, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canvas_id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			term_canvas_id = excluded.term_canvas_id,
			workflow_state = excluded.workflow_state,
			present = excluded.present,
			last_seen_at = excluded.last_seen_at`,
		o.CanvasID, o.Name, o.Code, o.TermCanvasID, o.WorkflowState,
		o.Present, fmtTime(o.ObservedAt), fmtTime(o.LastSeenAt))
	if err != nil {
		return errors.Wrapf(err, "put offering %d", o.CanvasID)
	}
	return nil
}

// GetUserEnrollment returns the user's own enrollment with the given
// Canvas id, or (nil, nil).
func (s *EntityStore) GetUserEnrollment(ctx context.Context, canvasID int64) (*UserEnrollment, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT canvas_id, offering_canvas_id, role, enrollment_state, present, observed_at, last_seen_at
		FROM user_enrollment WHERE canvas_id = ?`, canvasID)

	var ue UserEnrollment
	var observedAt, lastSeenAt string
	err := row.Scan(&ue.CanvasID, &ue.OfferingCanvasID, &ue.Role, &ue.EnrollmentState,
		&ue.Present, &observedAt, &lastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get user enrollment %d", canvasID)
	}
	if ue.ObservedAt, err = parseTime(observedAt); err != nil {
		return nil, err
	}
	if ue.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
		return nil, err
	}
	return &ue, nil
}

// PutUserEnrollment upserts one of the user's own enrollments.
func (s *EntityStore) PutUserEnrollment(ctx context.Context, ue *UserEnrollment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO user_enrollment (canvas_id, offering_canvas_id, role, enrollment_state, present, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canvas_id) DO UPDATE SET
			offering_canvas_id = excluded.offering_canvas_id,
			role = excluded.role,
			enrollment_state = excluded.enrollment_state,
			present = excluded.present,
			last_seen_at = excluded.last_seen_at`,
		ue.CanvasID, ue.OfferingCanvasID, ue.Role, ue.EnrollmentState,
		ue.Present, fmtTime(ue.ObservedAt), fmtTime(ue.LastSeenAt))
	if err != nil {
		return errors.Wrapf(err, "put user enrollment %d", ue.CanvasID)
	}
	return nil
}

// GetSection returns the section with the given Canvas id, or (nil, nil).
func (s *EntityStore) GetSection(ctx context.Context, canvasID int64) (*Section, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT canvas_id, offering_canvas_id, name, sis_section_id, present, observed_at, last_seen_at
		FROM section WHERE canvas_id = ?`, canvasID)

	var sec Section
	var observedAt, lastSeenAt string
	err := row.Scan(&sec.CanvasID, &sec.OfferingCanvasID, &sec.Name, &sec.SISSectionID,
		&sec.Present, &observedAt, &lastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get section %d", canvasID)
	}
	if sec.ObservedAt, err = parseTime(observedAt); err != nil {
		return nil, err
	}
	if sec.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
		return nil, err
	}
	return &sec, nil
}

// PutSection upserts a section.
func (s *EntityStore) PutSection(ctx context.Context, sec *Section) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO section (canvas_id, offering_canvas_id, name, sis_section_id, present, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canvas_id) DO UPDATE SET
			offering_canvas_id = excluded.offering_canvas_id,
			name = excluded.name,
			sis_section_id = excluded.sis_section_id,
			present = excluded.present,
			last_seen_at = excluded.last_seen_at`,
		sec.CanvasID, sec.OfferingCanvasID, sec.Name, sec.SISSectionID,
		sec.Present, fmtTime(sec.ObservedAt), fmtTime(sec.LastSeenAt))
	if err != nil {
		return errors.Wrapf(err, "put section %d", sec.CanvasID)
	}
	return nil
}

// GetPerson returns the person with the given Canvas id, or (nil, nil).
func (s *EntityStore) GetPerson(ctx context.Context, canvasID int64) (*Person, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT canvas_id, name, sortable_name, sis_user_id, login_id, observed_at, last_seen_at
		FROM person WHERE canvas_id = ?`, canvasID)

	var p Person
	var observedAt, lastSeenAt string
	err := row.Scan(&p.CanvasID, &p.Name, &p.SortableName, &p.SISUserID, &p.LoginID,
		&observedAt, &lastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get person %d", canvasID)
	}
	if p.ObservedAt, err = parseTime(observedAt); err != nil {
		return nil, err
	}
	if p.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutPerson upserts a person.
func (s *EntityStore) PutPerson(ctx context.Context, p *Person) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO person (canvas_id, name, sortable_name, sis_user_id, login_id, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canvas_id) DO UPDATE SET
			name = excluded.name,
			sortable_name = excluded.sortable_name,
			sis_user_id = excluded.sis_user_id,
			login_id = excluded.login_id,
			last_seen_at = excluded.last_seen_at`,
		p.CanvasID, p.Name, p.SortableName, p.SISUserID, p.LoginID,
		fmtTime(p.ObservedAt), fmtTime(p.LastSeenAt))
	if err != nil {
		return errors.Wrapf(err, "put person %d", p.CanvasID)
	}
	return nil
}

// GetEnrollment returns the roster enrollment with the given Canvas id,
// or (nil, nil).
func (s *EntityStore) GetEnrollment(ctx context.Context, canvasID int64) (*Enrollment, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT canvas_id, offering_canvas_id, person_canvas_id, section_canvas_id,
		       role, enrollment_state, current_grade, current_score, final_grade, final_score,
		       present, observed_at, last_seen_at
		FROM enrollment WHERE canvas_id = ?`, canvasID)

	var e Enrollment
	var observedAt, lastSeenAt string
	err := row.Scan(&e.CanvasID, &e.OfferingCanvasID, &e.PersonCanvasID, &e.SectionCanvasID,
		&e.Role, &e.EnrollmentState, &e.CurrentGrade, &e.CurrentScore, &e.FinalGrade, &e.FinalScore,
		&e.Present, &observedAt, &lastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get enrollment %d", canvasID)
	}
	if e.ObservedAt, err = parseTime(observedAt); err != nil {
		return nil, err
	}
	if e.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// PutEnrollment upserts a roster enrollment. The referenced person must
// already be stored.
func (s *EntityStore) PutEnrollment(ctx context.Context, e *Enrollment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO enrollment (canvas_id, offering_canvas_id, person_canvas_id, section_canvas_id,
			role, enrollment_state, current_grade, current_score, final_grade, final_score,
			present, observed_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canvas_id) DO UPDATE SET
			offering_canvas_id = excluded.offering_canvas_id,
			person_canvas_id = excluded.person_canvas_id,
			section_canvas_id = excluded.section_canvas_id,
			role = excluded.role,
			enrollment_state = excluded.enrollment_state,
			current_grade = excluded.current_grade,
			current_score = excluded.current_score,
			final_grade = excluded.final_grade,
			final_score = excluded.final_score,
			present = excluded.present,
			last_seen_at = excluded.last_seen_at`,
		e.CanvasID, e.OfferingCanvasID, e.PersonCanvasID, e.SectionCanvasID,
		e.Role, e.EnrollmentState, e.CurrentGrade, e.CurrentScore, e.FinalGrade, e.FinalScore,
		e.Present, fmtTime(e.ObservedAt), fmtTime(e.LastSeenAt))
	if err != nil {
		return errors.Wrapf(err, "put enrollment %d", e.CanvasID)
	}
	return nil
}

// PresentOfferingIDs returns the Canvas ids of all offerings currently
// marked present.
func (s *EntityStore) PresentOfferingIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT canvas_id FROM offering WHERE present = 1 ORDER BY canvas_id`)
	return scanIDs(rows, err, "present offerings")
}

// PresentUserEnrollmentIDs returns the Canvas ids of the user's own
// enrollments currently marked present.
func (s *EntityStore) PresentUserEnrollmentIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT canvas_id FROM user_enrollment WHERE present = 1 ORDER BY canvas_id`)
	return scanIDs(rows, err, "present user enrollments")
}

// PresentSectionIDs returns the Canvas ids of the offering's sections
// currently marked present.
func (s *EntityStore) PresentSectionIDs(ctx context.Context, offeringCanvasID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT canvas_id FROM section WHERE offering_canvas_id = ? AND present = 1 ORDER BY canvas_id`,
		offeringCanvasID)
	return scanIDs(rows, err, "present sections")
}

// PresentEnrollmentIDs returns the Canvas ids of the offering's roster
// enrollments currently marked present.
func (s *EntityStore) PresentEnrollmentIDs(ctx context.Context, offeringCanvasID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT canvas_id FROM enrollment WHERE offering_canvas_id = ? AND present = 1 ORDER BY canvas_id`,
		offeringCanvasID)
	return scanIDs(rows, err, "present enrollments")
}

func scanIDs(rows *sql.Rows, err error, what string) ([]int64, error) {
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", what)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrapf(err, "scan %s", what)
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrapf(rows.Err(), "iterate %s", what)
}

// MarkAbsent clears the present flag for an entity without advancing its
// last_seen_at. Only the presence-scoped entity types are valid.
func (s *EntityStore) MarkAbsent(ctx context.Context, entityType string, canvasID int64) error {
	var query string
	switch entityType {
	case EntityOffering:
		query = `UPDATE offering SET present = 0 WHERE canvas_id = ?`
	case EntityUserEnrollment:
		query = `UPDATE user_enrollment SET present = 0 WHERE canvas_id = ?`
	case EntitySection:
		query = `UPDATE section SET present = 0 WHERE canvas_id = ?`
	case EntityEnrollment:
		query = `UPDATE enrollment SET present = 0 WHERE canvas_id = ?`
	default:
		return errors.Newf("entity type %q does not track presence", entityType)
	}

	if _, err := s.q.ExecContext(ctx, query, canvasID); err != nil {
		return errors.Wrapf(err, "mark %s %d absent", entityType, canvasID)
	}
	return nil
}
