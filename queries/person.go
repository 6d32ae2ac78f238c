package queries

import (
	"context"
	"database/sql"

	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/ledger"
)

// PersonHistory returns a person's enrollments across every
// deep-ingested offering, most recent term first. A non-empty aliasName
// restricts the history to offerings of that alias. An unknown person
// yields (nil, nil); an unknown alias is an error since the caller named
// it explicitly.
func (p *Projector) PersonHistory(ctx context.Context, personCanvasID int64, aliasName string) ([]*PersonHistoryEntry, error) {
	person, err := p.entities.GetPerson(ctx, personCanvasID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, nil
	}

	query := `
		SELECT o.canvas_id, o.name, o.code, t.name, t.start_date,
		       s.name, s.canvas_id,
		       e.role, e.enrollment_state,
		       e.current_grade, e.current_score, e.final_grade, e.final_score
		FROM enrollment e
		JOIN offering o ON o.canvas_id = e.offering_canvas_id
		LEFT JOIN term t ON t.canvas_id = o.term_canvas_id
		LEFT JOIN section s ON s.canvas_id = e.section_canvas_id
		WHERE e.person_canvas_id = ?`
	args := []any{personCanvasID}

	if aliasName != "" {
		var aliasID int64
		err := p.db.QueryRowContext(ctx,
			`SELECT id FROM course_alias WHERE name = ?`, aliasName).Scan(&aliasID)
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundf("alias %q does not exist", aliasName)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "look up alias %q", aliasName)
		}
		query += `
		AND e.offering_canvas_id IN
			(SELECT offering_canvas_id FROM course_alias_offering WHERE alias_id = ?)`
		args = append(args, aliasID)
	}

	query += `
		ORDER BY (t.start_date IS NULL), t.start_date DESC, o.name, e.canvas_id`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query history for person %d", personCanvasID)
	}
	defer rows.Close()

	entries := make([]*PersonHistoryEntry, 0)
	for rows.Next() {
		var e PersonHistoryEntry
		if err := rows.Scan(&e.OfferingCanvasID, &e.OfferingName, &e.OfferingCode,
			&e.TermName, &e.TermStartDate,
			&e.SectionName, &e.SectionCanvasID,
			&e.Role, &e.EnrollmentState,
			&e.CurrentGrade, &e.CurrentScore, &e.FinalGrade, &e.FinalScore); err != nil {
			return nil, errors.Wrap(err, "scan history row")
		}
		entries = append(entries, &e)
	}
	return entries, errors.Wrap(rows.Err(), "iterate history")
}

// PersonGrades returns the grade fields of a person's student
// enrollments, most recent term first. Instructor-role enrollments are
// excluded. An unknown person yields (nil, nil).
func (p *Projector) PersonGrades(ctx context.Context, personCanvasID int64) (*PersonGrades, error) {
	person, err := p.entities.GetPerson(ctx, personCanvasID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT o.canvas_id, o.name, o.code, t.name, t.start_date, s.name,
		       e.role, e.enrollment_state,
		       e.current_grade, e.current_score, e.final_grade, e.final_score
		FROM enrollment e
		JOIN offering o ON o.canvas_id = e.offering_canvas_id
		LEFT JOIN term t ON t.canvas_id = o.term_canvas_id
		LEFT JOIN section s ON s.canvas_id = e.section_canvas_id
		WHERE e.person_canvas_id = ?
		ORDER BY (t.start_date IS NULL), t.start_date DESC, o.name, e.canvas_id`,
		personCanvasID)
	if err != nil {
		return nil, errors.Wrapf(err, "query grades for person %d", personCanvasID)
	}
	defer rows.Close()

	summary := &PersonGrades{
		PersonCanvasID: person.CanvasID,
		PersonName:     person.Name,
		SortableName:   person.SortableName,
		Grades:         make([]*GradeEntry, 0),
	}
	for rows.Next() {
		var g GradeEntry
		var role string
		if err := rows.Scan(&g.OfferingCanvasID, &g.OfferingName, &g.OfferingCode,
			&g.TermName, &g.TermStartDate, &g.SectionName,
			&role, &g.EnrollmentState,
			&g.CurrentGrade, &g.CurrentScore, &g.FinalGrade, &g.FinalScore); err != nil {
			return nil, errors.Wrap(err, "scan grade row")
		}
		if !ledger.IsStudentRole(role) {
			continue
		}
		summary.Grades = append(summary.Grades, &g)
	}
	return summary, errors.Wrap(rows.Err(), "iterate grades")
}

// PersonDrift returns every change recorded for a person and for their
// enrollments, newest first, presence transitions included. An unknown
// person yields (nil, nil).
func (p *Projector) PersonDrift(ctx context.Context, personCanvasID int64) (*PersonDrift, error) {
	person, err := p.entities.GetPerson(ctx, personCanvasID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT entity_type, entity_canvas_id, field_name, old_value, new_value,
		       ingest_run_id, observed_at
		FROM change_log
		WHERE (entity_type = ? AND entity_canvas_id = ?)
		   OR (entity_type = ? AND entity_canvas_id IN
		       (SELECT canvas_id FROM enrollment WHERE person_canvas_id = ?))
		ORDER BY observed_at DESC, id DESC`,
		ledger.EntityPerson, personCanvasID,
		ledger.EntityEnrollment, personCanvasID)
	if err != nil {
		return nil, errors.Wrapf(err, "query drift for person %d", personCanvasID)
	}
	defer rows.Close()

	changes, err := scanChangeEntries(rows)
	if err != nil {
		return nil, err
	}
	return &PersonDrift{
		PersonCanvasID: person.CanvasID,
		PersonName:     person.Name,
		Changes:        changes,
	}, nil
}

func scanChangeEntries(rows *sql.Rows) ([]*ChangeEntry, error) {
	changes := make([]*ChangeEntry, 0)
	for rows.Next() {
		var c ChangeEntry
		var observedAt string
		if err := rows.Scan(&c.EntityType, &c.EntityCanvasID, &c.FieldName,
			&c.OldValue, &c.NewValue, &c.IngestRunID, &observedAt); err != nil {
			return nil, errors.Wrap(err, "scan change entry")
		}
		var err error
		if c.ObservedAt, err = parseTime(observedAt); err != nil {
			return nil, err
		}
		changes = append(changes, &c)
	}
	return changes, errors.Wrap(rows.Err(), "iterate change entries")
}
